package auth

import (
	"context"
	"net/http/httptest"
	"testing"
	"time"
)

const testSecret = "unit-test-secret"

func testAuthenticator(t *testing.T) *JWTAuthenticator {
	t.Helper()
	a, err := NewJWTAuthenticator(Config{
		Mode:        ModeJWT,
		JWTSecret:   testSecret,
		JWTAudience: "prefab-gateway",
	})
	if err != nil {
		t.Fatalf("NewJWTAuthenticator() err=%v", err)
	}
	return a
}

func TestJWTAuthenticator_RoundTrip(t *testing.T) {
	a := testAuthenticator(t)

	token, err := SignToken(testSecret, "prefab-gateway", Identity{
		Subject: "user-1",
		Email:   "user-1@example.test",
		Scopes:  []string{"run"},
	}, time.Hour)
	if err != nil {
		t.Fatalf("SignToken() err=%v", err)
	}

	req := httptest.NewRequest("POST", "http://example.test/v1/run", nil)
	req.Header.Set("Authorization", "Bearer "+token)

	identity, err := a.Authenticate(context.Background(), req)
	if err != nil {
		t.Fatalf("Authenticate() err=%v", err)
	}
	if identity.Subject != "user-1" {
		t.Fatalf("Subject=%q, want user-1", identity.Subject)
	}
	if !identity.HasScope("run") {
		t.Fatalf("expected run scope")
	}
}

func TestJWTAuthenticator_MissingHeader(t *testing.T) {
	a := testAuthenticator(t)

	req := httptest.NewRequest("POST", "http://example.test/v1/run", nil)
	if _, err := a.Authenticate(context.Background(), req); err == nil {
		t.Fatalf("expected error for missing Authorization header")
	}
}

func TestJWTAuthenticator_WrongAudience(t *testing.T) {
	a := testAuthenticator(t)

	token, err := SignToken(testSecret, "some-other-service", Identity{Subject: "user-1"}, time.Hour)
	if err != nil {
		t.Fatalf("SignToken() err=%v", err)
	}

	req := httptest.NewRequest("POST", "http://example.test/v1/run", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	if _, err := a.Authenticate(context.Background(), req); err == nil {
		t.Fatalf("expected audience mismatch error")
	}
}

func TestJWTAuthenticator_Expired(t *testing.T) {
	a := testAuthenticator(t)

	token, err := SignToken(testSecret, "prefab-gateway", Identity{Subject: "user-1"}, -time.Minute)
	if err != nil {
		t.Fatalf("SignToken() err=%v", err)
	}

	req := httptest.NewRequest("POST", "http://example.test/v1/run", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	if _, err := a.Authenticate(context.Background(), req); err == nil {
		t.Fatalf("expected expiry error")
	}
}

func TestHasScope_AdminImpliesAll(t *testing.T) {
	identity := Identity{Subject: "root", Scopes: []string{"admin"}}
	if !identity.HasScope("deploy") {
		t.Fatalf("admin should satisfy any scope")
	}
	identity = Identity{Subject: "user", Scopes: []string{"run"}}
	if identity.HasScope("deploy") {
		t.Fatalf("run should not satisfy deploy")
	}
}
