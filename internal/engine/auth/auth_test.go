package auth

import (
	"fmt"
	"testing"
)

func TestRequireOwner(t *testing.T) {
	owner := Identity{UserID: "u1"}
	if err := RequireOwner(owner, "task", "t1", "u1"); err != nil {
		t.Fatalf("owner rejected: %v", err)
	}
	err := RequireOwner(Identity{UserID: "u2"}, "task", "t1", "u1")
	if !IsForbidden(fmt.Errorf("wrapped: %w", err)) {
		t.Fatalf("expected forbidden, got %v", err)
	}
	if _, ok := RequireOwner(Identity{}, "task", "t1", "u1").(UnauthenticatedError); !ok {
		t.Fatalf("expected unauthenticated")
	}
}

func TestOrgKeyFallback(t *testing.T) {
	if got := (Identity{UserID: "u1"}).OrgKey(); got != "u1" {
		t.Fatalf("fallback org key = %s", got)
	}
	if got := (Identity{UserID: "u1", OrganizationID: "org"}).OrgKey(); got != "org" {
		t.Fatalf("org key = %s", got)
	}
}
