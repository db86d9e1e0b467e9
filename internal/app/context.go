package app

import (
	"fmt"
	"strings"
	"time"

	"secretsanta/internal/config"
	"secretsanta/internal/engine/auth"
)

// Overrides are values taken from flags or the environment; they win over santa.yml.
type Overrides struct {
	AdminPassword string
	EventName     string
	Locale        string
}

// ResolveConfig loads santa.yml from the workspace, falling back to defaults when
// it does not exist, and applies overrides.
func ResolveConfig(workspace string, ov Overrides) (*config.Config, error) {
	cfg, err := config.LoadOptional(workspace)
	if err != nil {
		return nil, err
	}
	if v := strings.TrimSpace(ov.AdminPassword); v != "" {
		cfg.Admin.Password = v
	}
	if v := strings.TrimSpace(ov.EventName); v != "" {
		cfg.Event.Name = v
	}
	if v := strings.TrimSpace(ov.Locale); v != "" {
		cfg.Event.Locale = v
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config %s: %w", config.Path(workspace), err)
	}
	return cfg, nil
}

// RequireAdminPassword fails when no admin password is configured; the server
// would otherwise have no way to run admin actions.
func RequireAdminPassword(cfg *config.Config) error {
	if strings.TrimSpace(cfg.Admin.Password) == "" {
		return fmt.Errorf("admin password not set; use SANTA_ADMIN_PASSWORD or admin.password in %s", "santa.yml")
	}
	return nil
}

// TokenIssuer returns the login token issuer, or nil when no secret is configured.
func TokenIssuer(cfg *config.Config, secret string) *auth.TokenIssuer {
	secret = strings.TrimSpace(secret)
	if secret == "" {
		return nil
	}
	return &auth.TokenIssuer{
		Secret: []byte(secret),
		TTL:    time.Duration(cfg.TokenTTLHours()) * time.Hour,
	}
}
