package auth

import (
	"context"
	"testing"
)

func TestDecisionPrincipal(t *testing.T) {
	cases := []struct {
		name string
		d    Decision
		ok   bool
	}{
		{"allowed", Decision{Outcome: Allowed, Subject: "u1", Role: RoleAdmin}, true},
		{"forbidden", Decision{Outcome: Forbidden, Subject: "u2", Role: RoleViewer}, true},
		{"unauthenticated", Decision{Outcome: Unauthenticated}, false},
		{"no subject", Decision{Outcome: Allowed, Role: RoleOwner}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			p, ok := tc.d.Principal()
			if ok != tc.ok {
				t.Fatalf("ok=%v want %v", ok, tc.ok)
			}
			if ok && (p.UserID != tc.d.Subject || p.Role != tc.d.Role) {
				t.Fatalf("principal %+v does not match decision %+v", p, tc.d)
			}
		})
	}
}

func TestPrincipalContext(t *testing.T) {
	if _, ok := PrincipalFromContext(context.Background()); ok {
		t.Fatal("empty context must not carry a principal")
	}
	ctx := ContextWithPrincipal(context.Background(), Principal{UserID: "u1", Role: RoleEditor})
	p, ok := PrincipalFromContext(ctx)
	if !ok || p.UserID != "u1" || p.Role != RoleEditor {
		t.Fatalf("got %+v ok=%v", p, ok)
	}
}
