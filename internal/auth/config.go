// internal/auth/config.go
package auth

import "errors"

// Config holds the token verification settings
type Config struct {
	JWTSecret  string   `mapstructure:"jwtSecret" yaml:"jwtSecret"`
	AdminRoles []string `mapstructure:"adminRoles" yaml:"adminRoles"`
	CookieName string   `mapstructure:"cookieName" yaml:"cookieName"`
}

// DefaultConfig returns a Config with default values. The secret has no default.
func DefaultConfig() *Config {
	return &Config{
		AdminRoles: []string{"admin", "superadmin"},
		CookieName: "session_token",
	}
}

func (c *Config) Validate() error {
	if c.JWTSecret == "" {
		return errors.New("auth: jwtSecret is required")
	}
	if len(c.JWTSecret) < 16 {
		return errors.New("auth: jwtSecret must be at least 16 characters")
	}
	return nil
}
