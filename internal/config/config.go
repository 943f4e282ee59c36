package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

const DefaultPath = "config/config.yaml"

type ServerConfig struct {
	Port int `yaml:"port"`
	// ServiceKey guards internal endpoints (notification dispatch).
	ServiceKey string `yaml:"service_key"`
}

type DatabaseConfig struct {
	DSN string `yaml:"url"`
}

type RedisConfig struct {
	URL    string `yaml:"url"`
	Prefix string `yaml:"prefix"`
}

type EmailConfig struct {
	SMTPHost     string `yaml:"smtp_host"`
	SMTPPort     int    `yaml:"smtp_port"`
	SMTPUser     string `yaml:"smtp_user"`
	SMTPPassword string `yaml:"smtp_password"`
	FromEmail    string `yaml:"from_email"`
	FromName     string `yaml:"from_name"`
	DryRun       bool   `yaml:"dry_run"`
}

type VerificationConfig struct {
	TwoFactorTTLMinutes     int    `yaml:"two_factor_ttl_minutes"`
	PasswordResetTTLMinutes int    `yaml:"password_reset_ttl_minutes"`
	MaxAttempts             int    `yaml:"max_attempts"`
	ResendCooldownSeconds   int    `yaml:"resend_cooldown_seconds"`
	SendLimit               int    `yaml:"send_limit"`
	SendWindowMinutes       int    `yaml:"send_window_minutes"`
	ResetGrantTTLMinutes    int    `yaml:"reset_grant_ttl_minutes"`
	ChallengeTTLMinutes     int    `yaml:"two_factor_challenge_ttl_minutes"`
	DefaultLanguage         string `yaml:"default_language"`
	PurgeSchedule           string `yaml:"purge_schedule"`
	PurgeRetentionHours     int    `yaml:"purge_retention_hours"`
}

type JWTConfig struct {
	Secret           string `yaml:"secret"`
	AccessTTLMinutes int    `yaml:"access_ttl_minutes"`
}

type LogConfig struct {
	Level       string `yaml:"level"`
	Development bool   `yaml:"development"`
}

type Config struct {
	Server       ServerConfig       `yaml:"server"`
	Database     DatabaseConfig     `yaml:"database"`
	Redis        RedisConfig        `yaml:"redis"`
	Email        EmailConfig        `yaml:"email"`
	Verification VerificationConfig `yaml:"verification"`
	JWT          JWTConfig          `yaml:"jwt"`
	Log          LogConfig          `yaml:"log"`
}

// Load reads the yaml file at path, applies env overrides for secrets and
// fills defaults.
func Load(path string) (*Config, error) {
	if path == "" {
		path = DefaultPath
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open config: %w", err)
	}
	defer f.Close()

	var cfg Config
	if err := yaml.NewDecoder(f).Decode(&cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	cfg.applyEnv()
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyEnv() {
	override := func(dst *string, key string) {
		if v, ok := os.LookupEnv(key); ok && v != "" {
			*dst = v
		}
	}
	override(&c.Database.DSN, "TURAPP_DATABASE_URL")
	override(&c.Redis.URL, "TURAPP_REDIS_URL")
	override(&c.Email.SMTPPassword, "TURAPP_SMTP_PASSWORD")
	override(&c.JWT.Secret, "TURAPP_JWT_SECRET")
	override(&c.Server.ServiceKey, "TURAPP_SERVICE_KEY")
}

func (c *Config) applyDefaults() {
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Redis.Prefix == "" {
		c.Redis.Prefix = "turapp:ratelimit"
	}
	if c.Email.SMTPPort == 0 {
		c.Email.SMTPPort = 587
	}
	v := &c.Verification
	if v.TwoFactorTTLMinutes == 0 {
		v.TwoFactorTTLMinutes = 10
	}
	if v.PasswordResetTTLMinutes == 0 {
		v.PasswordResetTTLMinutes = 10
	}
	if v.MaxAttempts == 0 {
		v.MaxAttempts = 5
	}
	if v.ResendCooldownSeconds == 0 {
		v.ResendCooldownSeconds = 60
	}
	if v.SendLimit == 0 {
		v.SendLimit = 5
	}
	if v.SendWindowMinutes == 0 {
		v.SendWindowMinutes = 10
	}
	if v.ResetGrantTTLMinutes == 0 {
		v.ResetGrantTTLMinutes = 15
	}
	if v.ChallengeTTLMinutes == 0 {
		v.ChallengeTTLMinutes = 15
	}
	if v.DefaultLanguage == "" {
		v.DefaultLanguage = "en"
	}
	if v.PurgeSchedule == "" {
		v.PurgeSchedule = "@hourly"
	}
	if v.PurgeRetentionHours == 0 {
		v.PurgeRetentionHours = 24
	}
	if c.JWT.AccessTTLMinutes == 0 {
		c.JWT.AccessTTLMinutes = 15
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
}

func (c *Config) Validate() error {
	var errs []error
	if c.Database.DSN == "" {
		errs = append(errs, errors.New("database.url is required"))
	}
	if c.JWT.Secret == "" {
		errs = append(errs, errors.New("jwt.secret is required"))
	}
	if c.Verification.MaxAttempts < 1 {
		errs = append(errs, errors.New("verification.max_attempts must be positive"))
	}
	if c.Verification.TwoFactorTTLMinutes < 1 || c.Verification.PasswordResetTTLMinutes < 1 {
		errs = append(errs, errors.New("verification ttl must be at least one minute"))
	}
	return errors.Join(errs...)
}

func (v VerificationConfig) TwoFactorTTL() time.Duration {
	return time.Duration(v.TwoFactorTTLMinutes) * time.Minute
}

func (v VerificationConfig) PasswordResetTTL() time.Duration {
	return time.Duration(v.PasswordResetTTLMinutes) * time.Minute
}

func (v VerificationConfig) ResendCooldown() time.Duration {
	return time.Duration(v.ResendCooldownSeconds) * time.Second
}

func (v VerificationConfig) SendWindow() time.Duration {
	return time.Duration(v.SendWindowMinutes) * time.Minute
}

func (v VerificationConfig) ResetGrantTTL() time.Duration {
	return time.Duration(v.ResetGrantTTLMinutes) * time.Minute
}

func (v VerificationConfig) ChallengeTTL() time.Duration {
	return time.Duration(v.ChallengeTTLMinutes) * time.Minute
}

func (v VerificationConfig) PurgeRetention() time.Duration {
	return time.Duration(v.PurgeRetentionHours) * time.Hour
}

func (j JWTConfig) AccessTTL() time.Duration {
	return time.Duration(j.AccessTTLMinutes) * time.Minute
}
