package service

import "sync/atomic"

// Identity holds the bot's own user id once resolved at start.
type Identity struct {
	id atomic.Pointer[string]
}

func (i *Identity) Set(id string) { i.id.Store(&id) }

func (i *Identity) ID() string {
	if p := i.id.Load(); p != nil {
		return *p
	}
	return ""
}

// IsMe reports whether userID is the bot itself. Always false before Set.
func (i *Identity) IsMe(userID string) bool {
	id := i.ID()
	return id != "" && id == userID
}
