package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/prefab-labs/prefab-gateway/internal/platform/env"
)

type Mode string

const (
	ModeJWT  Mode = "jwt"
	ModeOIDC Mode = "oidc"
	ModeDev  Mode = "dev"
)

var (
	ErrUnauthenticated = errors.New("unauthenticated")
	ErrForbidden       = errors.New("forbidden")
)

// Authenticator resolves a request to a caller identity.
type Authenticator interface {
	Authenticate(ctx context.Context, r *http.Request) (Identity, error)
}

type Config struct {
	Mode Mode

	JWTSecret   string
	JWTAudience string

	ScopesClaim string
	EmailClaim  string

	OIDCIssuerURL    string
	OIDCClientID     string
	OIDCClientSecret string
	OIDCRedirectURL  string
	OIDCScopes       []string

	SessionCookieName   string
	SessionCookieSecure bool
	SessionCookieMaxAge time.Duration

	DevSubject string
	DevEmail   string
	DevScopes  []string
}

func ConfigFromEnv() (Config, error) {
	modeRaw := strings.ToLower(strings.TrimSpace(env.String("AUTH_MODE", string(ModeJWT))))
	var mode Mode
	switch modeRaw {
	case string(ModeJWT):
		mode = ModeJWT
	case string(ModeOIDC):
		mode = ModeOIDC
	case string(ModeDev):
		mode = ModeDev
	default:
		return Config{}, fmt.Errorf("AUTH_MODE must be one of: jwt, oidc, dev (got %q)", modeRaw)
	}

	cookieSecure, err := env.Bool("AUTH_SESSION_COOKIE_SECURE", true)
	if err != nil {
		return Config{}, err
	}
	maxAgeSeconds, err := env.Int("AUTH_SESSION_MAX_AGE_SECONDS", 3600)
	if err != nil {
		return Config{}, err
	}

	cfg := Config{
		Mode:                mode,
		JWTSecret:           env.String("AUTH_JWT_SECRET", ""),
		JWTAudience:         env.String("AUTH_JWT_AUDIENCE", "prefab-gateway"),
		ScopesClaim:         env.String("AUTH_SCOPES_CLAIM", "scopes"),
		EmailClaim:          env.String("AUTH_EMAIL_CLAIM", "email"),
		OIDCIssuerURL:       env.String("OIDC_ISSUER_URL", ""),
		OIDCClientID:        env.String("OIDC_CLIENT_ID", ""),
		OIDCClientSecret:    env.String("OIDC_CLIENT_SECRET", ""),
		OIDCRedirectURL:     env.String("OIDC_REDIRECT_URL", ""),
		OIDCScopes:          strings.Fields(env.String("OIDC_SCOPES", "openid profile email")),
		SessionCookieName:   env.String("AUTH_SESSION_COOKIE_NAME", "prefab_session"),
		SessionCookieSecure: cookieSecure,
		SessionCookieMaxAge: time.Duration(maxAgeSeconds) * time.Second,
		DevSubject:          env.String("DEV_AUTH_SUBJECT", "dev-user"),
		DevEmail:            env.String("DEV_AUTH_EMAIL", "dev-user@example.local"),
		DevScopes:           parseCSV(env.String("DEV_AUTH_SCOPES", "admin")),
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	switch c.Mode {
	case ModeJWT:
		if strings.TrimSpace(c.JWTSecret) == "" {
			return errors.New("AUTH_JWT_SECRET is required when AUTH_MODE=jwt")
		}
		if strings.TrimSpace(c.JWTAudience) == "" {
			return errors.New("AUTH_JWT_AUDIENCE is required when AUTH_MODE=jwt")
		}
	case ModeOIDC:
		if strings.TrimSpace(c.OIDCIssuerURL) == "" {
			return errors.New("OIDC_ISSUER_URL is required when AUTH_MODE=oidc")
		}
		if strings.TrimSpace(c.OIDCClientID) == "" {
			return errors.New("OIDC_CLIENT_ID is required when AUTH_MODE=oidc")
		}
	case ModeDev:
		if strings.TrimSpace(c.DevSubject) == "" {
			return errors.New("DEV_AUTH_SUBJECT is required when AUTH_MODE=dev")
		}
	default:
		return fmt.Errorf("unsupported auth mode: %q", c.Mode)
	}
	return nil
}

func (c Config) ValidateForLogin() error {
	if c.Mode != ModeOIDC {
		return fmt.Errorf("login requires AUTH_MODE=oidc (got %q)", c.Mode)
	}
	if strings.TrimSpace(c.OIDCClientSecret) == "" {
		return errors.New("OIDC_CLIENT_SECRET is required for login endpoints")
	}
	if strings.TrimSpace(c.OIDCRedirectURL) == "" {
		return errors.New("OIDC_REDIRECT_URL is required for login endpoints")
	}
	return nil
}

func parseCSV(value string) []string {
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	seen := make(map[string]struct{}, len(parts))
	for _, part := range parts {
		item := strings.ToLower(strings.TrimSpace(part))
		if item == "" {
			continue
		}
		if _, ok := seen[item]; ok {
			continue
		}
		seen[item] = struct{}{}
		out = append(out, item)
	}
	return out
}

func tokenFromHeader(r *http.Request) string {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if header == "" {
		return ""
	}
	scheme, token, found := strings.Cut(header, " ")
	if !found || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}

func tokenFromCookie(r *http.Request, name string) string {
	if name == "" {
		return ""
	}
	cookie, err := r.Cookie(name)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(cookie.Value)
}
