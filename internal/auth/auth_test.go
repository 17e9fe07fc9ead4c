package auth_test

import (
	"errors"
	"strings"
	"testing"

	"tasktrail/internal/auth"
)

func TestPasswordRoundTrip(t *testing.T) {
	hash, salt, err := auth.HashPassword("hunter2")
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	if hash == "" || salt == "" {
		t.Fatal("hash and salt must be non-empty")
	}
	if !auth.VerifyPassword("hunter2", hash, salt) {
		t.Fatal("correct password rejected")
	}
	if auth.VerifyPassword("hunter3", hash, salt) {
		t.Fatal("wrong password accepted")
	}

	again, otherSalt, err := auth.HashPassword("hunter2")
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	if again == hash && otherSalt == salt {
		t.Fatal("two hashes of the same password must not share a salt")
	}
}

func TestNewBotToken(t *testing.T) {
	tok, err := auth.NewBotToken()
	if err != nil {
		t.Fatalf("new token: %v", err)
	}
	if !strings.HasPrefix(tok, "bot_") {
		t.Fatalf("token %q lacks bot_ prefix", tok)
	}
	other, err := auth.NewBotToken()
	if err != nil {
		t.Fatalf("new token: %v", err)
	}
	if tok == other {
		t.Fatal("tokens must be unique")
	}
}

func TestParseCapability(t *testing.T) {
	for _, s := range []string{"read", "create_projects", "create_tasks", "update_tasks", "delete_tasks", "admin"} {
		if _, err := auth.ParseCapability(s); err != nil {
			t.Errorf("ParseCapability(%q): %v", s, err)
		}
	}
	if _, err := auth.ParseCapability("launch_rockets"); err == nil {
		t.Error("unknown capability accepted")
	}
	if _, err := auth.NewCapabilitySet([]string{"read", "bogus"}); err == nil {
		t.Error("set with unknown capability accepted")
	}
}

func TestAllowed(t *testing.T) {
	humanP := auth.Principal{ID: "u1", Type: auth.PrincipalHuman}
	reader, err := auth.NewCapabilitySet([]string{"read"})
	if err != nil {
		t.Fatalf("capability set: %v", err)
	}
	admin, err := auth.NewCapabilitySet([]string{"admin"})
	if err != nil {
		t.Fatalf("capability set: %v", err)
	}
	readerBot := auth.Principal{ID: "b1", Type: auth.PrincipalBot, Permissions: reader}
	adminBot := auth.Principal{ID: "b2", Type: auth.PrincipalBot, Permissions: admin}

	cases := []struct {
		name string
		p    auth.Principal
		cap  auth.Capability
		want bool
	}{
		{"human any capability", humanP, auth.CapDeleteTasks, true},
		{"bot with capability", readerBot, auth.CapRead, true},
		{"bot without capability", readerBot, auth.CapCreateTasks, false},
		{"admin bot any capability", adminBot, auth.CapDeleteTasks, true},
	}
	for _, tc := range cases {
		if got := auth.Allowed(tc.p, tc.cap); got != tc.want {
			t.Errorf("%s: Allowed = %v, want %v", tc.name, got, tc.want)
		}
	}

	err = auth.Require(readerBot, auth.CapUpdateTasks)
	var forbidden auth.ForbiddenError
	if !errors.As(err, &forbidden) || forbidden.Capability != auth.CapUpdateTasks {
		t.Fatalf("Require: got %v, want ForbiddenError for update_tasks", err)
	}
}
