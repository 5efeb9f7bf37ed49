package kook

import (
	"context"
	"net/url"
	"strconv"

	"github.com/webitel/kook-mirror-service/internal/domain/model"
	"github.com/webitel/kook-mirror-service/internal/service"
)

var _ service.RemoteAPI = (*Client)(nil)

func (c *Client) Me(ctx context.Context) (model.MemberInfo, error) {
	var out model.MemberInfo
	err := c.get(ctx, "/user/me", nil, &out)
	return out, err
}

func (c *Client) ListGuilds(ctx context.Context, page int) (model.Page[model.GuildInfo], error) {
	var out model.Page[model.GuildInfo]
	err := c.get(ctx, "/guild/list", c.pageQuery(page), &out)
	return out, err
}

func (c *Client) ViewGuild(ctx context.Context, guildID string) (model.GuildView, error) {
	var out model.GuildView
	err := c.get(ctx, "/guild/view", url.Values{"guild_id": {guildID}}, &out)
	return out, err
}

func (c *Client) ListChannels(ctx context.Context, guildID string, page int) (model.Page[model.ChannelInfo], error) {
	q := c.pageQuery(page)
	q.Set("guild_id", guildID)

	var out model.Page[model.ChannelInfo]
	err := c.get(ctx, "/channel/list", q, &out)
	return out, err
}

func (c *Client) ListMembers(ctx context.Context, guildID string, page int) (model.Page[model.MemberInfo], error) {
	q := c.pageQuery(page)
	q.Set("guild_id", guildID)

	var out model.Page[model.MemberInfo]
	err := c.get(ctx, "/guild/user-list", q, &out)
	return out, err
}

func (c *Client) ViewUser(ctx context.Context, guildID, userID string) (model.MemberInfo, error) {
	var out model.MemberInfo
	err := c.get(ctx, "/user/view", url.Values{"guild_id": {guildID}, "user_id": {userID}}, &out)
	return out, err
}

type muteRequest struct {
	GuildID string         `json:"guild_id"`
	UserID  string         `json:"user_id"`
	Type    model.MuteType `json:"type"`
}

func (c *Client) CreateGuildMute(ctx context.Context, guildID, userID string, t model.MuteType) error {
	return c.post(ctx, "/guild-mute/create", muteRequest{GuildID: guildID, UserID: userID, Type: t}, nil)
}

func (c *Client) DeleteGuildMute(ctx context.Context, guildID, userID string, t model.MuteType) error {
	return c.post(ctx, "/guild-mute/delete", muteRequest{GuildID: guildID, UserID: userID, Type: t}, nil)
}

// Resume carries the session a reconnecting gateway wants to continue.
type Resume struct {
	SN        int64
	SessionID string
}

// Gateway resolves the websocket endpoint. A non-nil resume asks for a session continuation.
func (c *Client) Gateway(ctx context.Context, compress bool, resume *Resume) (string, error) {
	q := url.Values{"compress": {"0"}}
	if compress {
		q.Set("compress", "1")
	}

	var out struct {
		URL string `json:"url"`
	}
	if err := c.get(ctx, "/gateway/index", q, &out); err != nil {
		return "", err
	}
	return WithResume(out.URL, resume)
}

// WithResume appends the resume parameters to a gateway url.
func WithResume(raw string, resume *Resume) (string, error) {
	if resume == nil || resume.SessionID == "" {
		return raw, nil
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", err
	}
	q := u.Query()
	q.Set("resume", "1")
	q.Set("sn", strconv.FormatInt(resume.SN, 10))
	q.Set("session_id", resume.SessionID)
	u.RawQuery = q.Encode()
	return u.String(), nil
}
