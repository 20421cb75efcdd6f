package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds application configuration
type Config struct {
	MongoDB MongoDBConfig
	SMTP    SMTPConfig
	Mail    MailConfig
	Watch   WatchConfig
	Log     LogConfig
	Ops     OpsConfig
	Seen    SeenConfig
	Redis   RedisConfig
	MinIO   MinIOConfig
}

type MongoDBConfig struct {
	URI        string
	Database   string
	Collection string
	Timeout    time.Duration
}

type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
}

type MailConfig struct {
	From          string
	Recipients    []string
	Subject       string
	MaxConcurrent int
	RatePerSecond float64
}

type WatchConfig struct {
	PollInterval     time.Duration
	RecoveryInterval time.Duration
}

type LogConfig struct {
	Level string
	File  string
}

type OpsConfig struct {
	Addr string
}

// SeenConfig selects where seen submission ids are remembered.
// "memory" forgets them on restart; "redis" keeps them across restarts.
type SeenConfig struct {
	Store string
	TTL   time.Duration
}

type RedisConfig struct {
	Host     string
	Port     string
	Password string
	DB       int
}

type MinIOConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	UseSSL    bool
	Bucket    string
}

const (
	SeenStoreMemory = "memory"
	SeenStoreRedis  = "redis"
)

// LoadConfig loads configuration from environment variables and an optional .env file.
// All missing required keys are reported in a single error.
func LoadConfig() (*Config, error) {
	_ = godotenv.Load(".env")

	v := viper.New()
	v.AutomaticEnv()

	v.SetDefault("MONGO_DATABASE", "test")
	v.SetDefault("MONGO_COLLECTION", "forms")
	v.SetDefault("MONGO_TIMEOUT", 10)
	v.SetDefault("SMTP_PORT", 465)
	v.SetDefault("MAIL_SUBJECT", "New Customer Submission")
	v.SetDefault("MAIL_MAX_CONCURRENT", 4)
	v.SetDefault("MAIL_RATE_PER_SECOND", 0)
	v.SetDefault("POLLING_INTERVAL", 30)
	v.SetDefault("RECOVERY_INTERVAL", 30)
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FILE", "app.log")
	v.SetDefault("OPS_ADDR", ":9090")
	v.SetDefault("SEEN_STORE", SeenStoreMemory)
	v.SetDefault("SEEN_TTL_HOURS", 0)
	v.SetDefault("REDIS_PORT", "6379")
	v.SetDefault("MINIO_BUCKET", "intake-uploads")

	var missing []string
	required := func(key string) string {
		s := strings.TrimSpace(v.GetString(key))
		if s == "" {
			missing = append(missing, key)
		}
		return s
	}

	cfg := &Config{
		MongoDB: MongoDBConfig{
			URI:        required("MONGO_URI"),
			Database:   v.GetString("MONGO_DATABASE"),
			Collection: v.GetString("MONGO_COLLECTION"),
			Timeout:    time.Duration(v.GetInt("MONGO_TIMEOUT")) * time.Second,
		},
		SMTP: SMTPConfig{
			Host:     required("SMTP_SERVER"),
			Port:     v.GetInt("SMTP_PORT"),
			Username: required("EMAIL_ADDRESS"),
			Password: required("EMAIL_PASSWORD"),
		},
		Mail: MailConfig{
			Recipients:    ParseRecipients(required("RECIPIENT_EMAILS")),
			Subject:       v.GetString("MAIL_SUBJECT"),
			MaxConcurrent: v.GetInt("MAIL_MAX_CONCURRENT"),
			RatePerSecond: v.GetFloat64("MAIL_RATE_PER_SECOND"),
		},
		Watch: WatchConfig{
			PollInterval:     time.Duration(v.GetInt("POLLING_INTERVAL")) * time.Second,
			RecoveryInterval: time.Duration(v.GetInt("RECOVERY_INTERVAL")) * time.Second,
		},
		Log: LogConfig{
			Level: v.GetString("LOG_LEVEL"),
			File:  v.GetString("LOG_FILE"),
		},
		Ops: OpsConfig{
			Addr: v.GetString("OPS_ADDR"),
		},
		Seen: SeenConfig{
			Store: strings.ToLower(strings.TrimSpace(v.GetString("SEEN_STORE"))),
			TTL:   time.Duration(v.GetInt("SEEN_TTL_HOURS")) * time.Hour,
		},
		Redis: RedisConfig{
			Host:     v.GetString("REDIS_HOST"),
			Port:     v.GetString("REDIS_PORT"),
			Password: v.GetString("REDIS_PASSWORD"),
		},
		MinIO: MinIOConfig{
			Endpoint:  v.GetString("MINIO_ENDPOINT"),
			AccessKey: v.GetString("MINIO_ACCESS_KEY"),
			SecretKey: v.GetString("MINIO_SECRET_KEY"),
			UseSSL:    v.GetBool("MINIO_USE_SSL"),
			Bucket:    v.GetString("MINIO_BUCKET"),
		},
	}
	cfg.Mail.From = cfg.SMTP.Username

	if len(missing) > 0 {
		return nil, fmt.Errorf("missing required environment variables: %s", strings.Join(missing, ", "))
	}
	if len(cfg.Mail.Recipients) == 0 {
		return nil, fmt.Errorf("RECIPIENT_EMAILS contains no addresses")
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.Watch.PollInterval < 0 {
		return fmt.Errorf("POLLING_INTERVAL must not be negative")
	}
	if c.Watch.RecoveryInterval <= 0 {
		return fmt.Errorf("RECOVERY_INTERVAL must be positive")
	}
	if c.Mail.MaxConcurrent <= 0 {
		return fmt.Errorf("MAIL_MAX_CONCURRENT must be positive")
	}
	if c.Mail.RatePerSecond < 0 {
		return fmt.Errorf("MAIL_RATE_PER_SECOND must not be negative")
	}
	switch c.Seen.Store {
	case SeenStoreMemory:
	case SeenStoreRedis:
		if c.Redis.Host == "" {
			return fmt.Errorf("SEEN_STORE=redis requires REDIS_HOST")
		}
	default:
		return fmt.Errorf("unknown SEEN_STORE %q", c.Seen.Store)
	}
	return nil
}

// ParseRecipients splits a comma separated address list, dropping blanks.
func ParseRecipients(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
