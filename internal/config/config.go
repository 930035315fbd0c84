package config

import (
	"strings"

	"github.com/caarlos0/env/v11"
)

// Config holds application-level settings. Database and logging settings
// are read by their own packages.
type Config struct {
	Addr    string `env:"HTTP_ADDR" envDefault:"0.0.0.0:8431"`
	BaseURL string `env:"APP_BASE_URL" envDefault:"http://localhost:8431"`

	// MaintenanceMode redirects all traffic to the maintenance page when
	// set to one of: on, true, 1.
	MaintenanceMode string `env:"MAINTENANCE_MODE"`

	SMTPHost     string `env:"SMTP_HOST"`
	SMTPPort     int    `env:"SMTP_PORT" envDefault:"587"`
	SMTPUsername string `env:"SMTP_USERNAME"`
	SMTPPassword string `env:"SMTP_PASSWORD"`
	MailFrom     string `env:"MAIL_FROM"`
}

// Load parses the config from the environment.
func Load() (Config, error) {
	var c Config
	if err := env.Parse(&c); err != nil {
		return Config{}, err
	}
	return c, nil
}

// MaintenanceEnabled reports whether the maintenance redirect is active.
func (c Config) MaintenanceEnabled() bool {
	switch strings.ToLower(strings.TrimSpace(c.MaintenanceMode)) {
	case "on", "true", "1":
		return true
	}
	return false
}

// MailConfigured reports whether an SMTP host was provided.
func (c Config) MailConfigured() bool {
	return c.SMTPHost != ""
}
