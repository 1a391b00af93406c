package middleware

import (
	"testing"

	"github.com/nc-ai-qqbot-go/internal/config"
	"github.com/nc-ai-qqbot-go/internal/onebot"
)

func groupEvent(userID int64, role string) *onebot.Event {
	return &onebot.Event{
		PostType:    "message",
		MessageType: "group",
		GroupID:     100,
		UserID:      userID,
		Sender:      onebot.Sender{UserID: userID, Role: role},
	}
}

func TestPermissions_IsAdmin(t *testing.T) {
	perms := NewPermissions(&config.AccessConfig{})

	private := &onebot.Event{
		PostType:    "message",
		MessageType: "private",
		UserID:      1,
		Sender:      onebot.Sender{UserID: 1},
	}
	if !perms.IsAdmin(private) {
		t.Fatal("private events should be admin-equivalent")
	}

	cases := []struct {
		role string
		want bool
	}{
		{"owner", true},
		{"admin", true},
		{"member", false},
		{"", false},
	}
	for _, tc := range cases {
		if got := perms.IsAdmin(groupEvent(1, tc.role)); got != tc.want {
			t.Fatalf("IsAdmin(role=%q) = %v, want %v", tc.role, got, tc.want)
		}
	}
}

func TestPermissions_CanManageAI(t *testing.T) {
	perms := NewPermissions(&config.AccessConfig{Admins: []string{"42"}})

	if !perms.CanManageAI(groupEvent(1, "owner")) {
		t.Fatal("group owner should manage AI")
	}
	if !perms.CanManageAI(groupEvent(42, "member")) {
		t.Fatal("privileged identity should manage AI regardless of role")
	}
	if perms.CanManageAI(groupEvent(7, "member")) {
		t.Fatal("plain member should not manage AI")
	}
	if !perms.IsPrivileged("42") {
		t.Fatal("expected 42 to be privileged")
	}
	if perms.IsPrivileged("43") {
		t.Fatal("expected 43 to not be privileged")
	}
}
