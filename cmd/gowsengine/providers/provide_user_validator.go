package providers

import (
	"github.com/gbdevw/gowsengine/internal/config"
	"github.com/gbdevw/gowsengine/wsauth"
)

// Build the user validator of the configured authorization mode. Nil (anonymous server) in none
// mode.
func ProvideUserValidator(cfg *config.Configuration) (wsauth.UserValidator, error) {
	switch cfg.Auth.Mode {
	case config.AuthModeStatic:
		return wsauth.NewStaticValidator(cfg.Auth.Tokens), nil
	case config.AuthModeJwt:
		return wsauth.NewJWTValidator([]byte(cfg.Auth.JwtSecret), cfg.Auth.JwtIssuer, cfg.Auth.JwtAudience)
	default:
		return nil, nil
	}
}
