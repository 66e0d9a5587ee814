package config

import (
	"errors"
	"fmt"
	"time"

	"guildkeep/common"
	"guildkeep/domain"
	"guildkeep/i18n"
	"guildkeep/persistence"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

type Config struct {
	DriverType string `env:"DB_DRIVER" envDefault:"sqlite3"`
	DriverArgs string `env:"DB_ARGS" envDefault:"guildkeep.db?_loc=UTC"`

	GroupNoun string `env:"GROUP_NOUN" envDefault:"guild"`

	InviteTTL       time.Duration `env:"INVITE_TTL" envDefault:"3600s"`
	ConfirmationTTL time.Duration `env:"CONFIRMATION_TTL" envDefault:"60s"`

	NameMinLength        int `env:"NAME_MIN_LENGTH" envDefault:"3"`
	NameMaxLength        int `env:"NAME_MAX_LENGTH" envDefault:"16"`
	DescriptionMaxLength int `env:"DESCRIPTION_MAX_LENGTH" envDefault:"24"`

	AudienceRefresh   time.Duration `env:"AUDIENCE_REFRESH" envDefault:"300s"`
	InviteSweep       string        `env:"INVITE_SWEEP" envDefault:"@every 1m"`
	ConfirmationSweep string        `env:"CONFIRMATION_SWEEP" envDefault:"@every 10s"`
}

// Load reads an optional .env file and then the process environment.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		common.Log.Info("no .env file found, using process environment")
	}
	return Parse(env.Options{})
}

func Parse(opts env.Options) (*Config, error) {
	cfg := &Config{}
	if err := env.ParseWithOptions(cfg, opts); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	if c.DriverType != persistence.DriverMysql && c.DriverType != persistence.DriverSqlite {
		return fmt.Errorf("unsupported database driver %q", c.DriverType)
	}
	if c.InviteTTL <= 0 || c.ConfirmationTTL <= 0 || c.AudienceRefresh <= 0 {
		return errors.New("ttl and refresh periods must be positive")
	}
	if c.NameMinLength < 1 || c.NameMinLength > c.NameMaxLength {
		return fmt.Errorf("invalid name bounds %d..%d", c.NameMinLength, c.NameMaxLength)
	}
	if c.DescriptionMaxLength < 0 {
		return errors.New("description bound must not be negative")
	}
	if _, err := i18n.ForNoun(c.GroupNoun); err != nil {
		return err
	}
	return nil
}

func (c *Config) Rules() domain.Rules {
	return domain.Rules{
		NameMinLength:        c.NameMinLength,
		NameMaxLength:        c.NameMaxLength,
		DescriptionMaxLength: c.DescriptionMaxLength,
	}
}

func (c *Config) Database() *persistence.DatabaseConfig {
	return &persistence.DatabaseConfig{DriverType: c.DriverType, DriverArgs: c.DriverArgs}
}

func (c *Config) Vocabulary() i18n.Vocabulary {
	v, _ := i18n.ForNoun(c.GroupNoun)
	return v
}
