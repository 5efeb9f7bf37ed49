package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/webitel/kook-mirror-service/internal/domain/model"
	"github.com/webitel/kook-mirror-service/internal/domain/registry"
)

var (
	ErrUnknownGuild    = errors.New("service: unknown guild")
	ErrInvalidMuteType = errors.New("service: invalid mute type")
)

// Muter applies guild voice mutes through the remote API and owns their auto-unmute timers.
type Muter struct {
	api    RemoteAPI
	store  registry.Reader
	timers *registry.MuteTimers
	logger *slog.Logger
}

func NewMuter(api RemoteAPI, store registry.Reader, timers *registry.MuteTimers, logger *slog.Logger) *Muter {
	return &Muter{
		api:    api,
		store:  store,
		timers: timers,
		logger: logger.With("component", "muter"),
	}
}

// Mute revokes a voice capability. A positive d arms an auto-unmute scoped to the guild;
// muting again replaces the previous timer.
func (m *Muter) Mute(ctx context.Context, guildID, userID string, t model.MuteType, d time.Duration) error {
	if !t.Valid() {
		return fmt.Errorf("%w: %d", ErrInvalidMuteType, t)
	}
	guild, ok := m.store.Guild(guildID)
	if !ok {
		return ErrUnknownGuild
	}
	if err := m.api.CreateGuildMute(ctx, guildID, userID, t); err != nil {
		return fmt.Errorf("create guild mute: %w", err)
	}

	key := model.MemberKey{GuildID: guildID, UserID: userID}
	if d <= 0 {
		m.timers.Disarm(key)
		return nil
	}
	m.timers.Arm(guild.Scope(), key, d, func(ctx context.Context) {
		if err := m.api.DeleteGuildMute(ctx, guildID, userID, t); err != nil {
			// [EXPECTED] cancellation while firing is the disarm/fire race, not a failure
			if ctx.Err() != nil {
				return
			}
			m.logger.Warn("AUTO_UNMUTE_FAILED", "key", key.String(), "err", err)
			return
		}
		m.logger.Info("AUTO_UNMUTE_APPLIED", "key", key.String(), "type", int(t))
	})
	return nil
}

// Unmute restores the capability now and disarms any pending auto-unmute.
func (m *Muter) Unmute(ctx context.Context, guildID, userID string, t model.MuteType) error {
	if !t.Valid() {
		return fmt.Errorf("%w: %d", ErrInvalidMuteType, t)
	}
	if _, ok := m.store.Guild(guildID); !ok {
		return ErrUnknownGuild
	}
	m.timers.Disarm(model.MemberKey{GuildID: guildID, UserID: userID})
	if err := m.api.DeleteGuildMute(ctx, guildID, userID, t); err != nil {
		return fmt.Errorf("delete guild mute: %w", err)
	}
	return nil
}
