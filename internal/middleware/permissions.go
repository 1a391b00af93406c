package middleware

import (
	"strconv"

	"github.com/nc-ai-qqbot-go/internal/config"
	"github.com/nc-ai-qqbot-go/internal/onebot"
)

// Permissions decides who may manage AI features.
type Permissions struct {
	admins map[string]struct{}
}

// NewPermissions creates a permission evaluator from the configured
// privileged-identity list.
func NewPermissions(cfg *config.AccessConfig) *Permissions {
	admins := make(map[string]struct{}, len(cfg.Admins))
	for _, id := range cfg.Admins {
		admins[id] = struct{}{}
	}
	return &Permissions{admins: admins}
}

// IsAdmin reports whether the sender has group-admin standing. Private
// messages are always admin-equivalent; group messages require the owner
// or admin role.
func (p *Permissions) IsAdmin(ev *onebot.Event) bool {
	if ev.IsPrivate() {
		return true
	}
	return ev.Sender.Role == "owner" || ev.Sender.Role == "admin"
}

// IsPrivileged reports whether an identity is in the configured
// privileged-identity list.
func (p *Permissions) IsPrivileged(userID string) bool {
	_, ok := p.admins[userID]
	return ok
}

// CanManageAI reports whether the sender may toggle AI features.
func (p *Permissions) CanManageAI(ev *onebot.Event) bool {
	if p.IsAdmin(ev) {
		return true
	}
	if ev.Sender.UserID == 0 {
		return false
	}
	return p.IsPrivileged(strconv.FormatInt(ev.Sender.UserID, 10))
}
