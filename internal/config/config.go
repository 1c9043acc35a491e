// Package config loads server settings from the environment, an optional
// .env file and an optional config file.
package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/shaun/publisher/internal/archive"
	"github.com/shaun/publisher/internal/github"
	"github.com/shaun/publisher/internal/log"
)

type Config struct {
	Port string
	Log  log.Config

	GitHub  github.Config
	AppSlug string

	StoreDSN      string
	BaseFilesDir  string
	MaxInFlight   int64
	DeployHookURL string
	BasicAuthUser string
	BasicAuthPass string
	Archive       archive.S3Config
}

var keys = []string{
	"PORT", "LOG_LEVEL", "LOG_FORMAT",
	"GITHUB_APP_ID", "GITHUB_APP_PRIVATE_KEY", "GITHUB_APP_PRIVATE_KEY_PATH",
	"GITHUB_APP_SLUG", "GITHUB_API_URL", "GITHUB_TOKEN",
	"PROJECT_STORE_DSN", "BASE_FILES_DIR", "PUBLISH_MAX_IN_FLIGHT", "DEPLOY_HOOK_URL",
	"BASIC_AUTH_USER", "BASIC_AUTH_PASSWORD",
	"ARCHIVE_S3_ENDPOINT", "ARCHIVE_S3_REGION", "ARCHIVE_S3_ACCESS_KEY",
	"ARCHIVE_S3_SECRET_KEY", "ARCHIVE_S3_BUCKET", "ARCHIVE_S3_USE_SSL",
}

func defaults(v *viper.Viper) {
	v.SetDefault("PORT", "8080")
	v.SetDefault("LOG_LEVEL", string(log.LevelInfo))
	v.SetDefault("LOG_FORMAT", "console")
	v.SetDefault("PUBLISH_MAX_IN_FLIGHT", 8)
	v.SetDefault("ARCHIVE_S3_REGION", "us-east-1")
}

// Load reads .env from the working directory if present, then file if
// given, then the environment. Environment values win.
func Load(file string) (*Config, error) {
	_ = godotenv.Load(".env")

	v := viper.New()
	defaults(v)
	for _, k := range keys {
		if err := v.BindEnv(k); err != nil {
			return nil, err
		}
	}
	if file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", file, err)
		}
	}
	return fromViper(v)
}

func fromViper(v *viper.Viper) (*Config, error) {
	cfg := &Config{
		Port: strings.TrimPrefix(strings.TrimSpace(v.GetString("PORT")), ":"),
		Log: log.Config{
			Level:  log.Level(strings.ToLower(v.GetString("LOG_LEVEL"))),
			Format: v.GetString("LOG_FORMAT"),
		},
		GitHub: github.Config{
			AppID:      v.GetInt64("GITHUB_APP_ID"),
			Token:      strings.TrimSpace(v.GetString("GITHUB_TOKEN")),
			APIBaseURL: strings.TrimSpace(v.GetString("GITHUB_API_URL")),
		},
		AppSlug:       strings.TrimSpace(v.GetString("GITHUB_APP_SLUG")),
		StoreDSN:      strings.TrimSpace(v.GetString("PROJECT_STORE_DSN")),
		BaseFilesDir:  strings.TrimSpace(v.GetString("BASE_FILES_DIR")),
		MaxInFlight:   v.GetInt64("PUBLISH_MAX_IN_FLIGHT"),
		DeployHookURL: strings.TrimSpace(v.GetString("DEPLOY_HOOK_URL")),
		BasicAuthUser: v.GetString("BASIC_AUTH_USER"),
		BasicAuthPass: v.GetString("BASIC_AUTH_PASSWORD"),
		Archive: archive.S3Config{
			Endpoint:  v.GetString("ARCHIVE_S3_ENDPOINT"),
			Region:    v.GetString("ARCHIVE_S3_REGION"),
			AccessKey: v.GetString("ARCHIVE_S3_ACCESS_KEY"),
			SecretKey: v.GetString("ARCHIVE_S3_SECRET_KEY"),
			Bucket:    v.GetString("ARCHIVE_S3_BUCKET"),
			UseSSL:    v.GetBool("ARCHIVE_S3_USE_SSL"),
		},
	}
	key, err := privateKey(v.GetString("GITHUB_APP_PRIVATE_KEY"), v.GetString("GITHUB_APP_PRIVATE_KEY_PATH"))
	if err != nil {
		return nil, err
	}
	cfg.GitHub.PrivateKey = key
	return cfg, nil
}

// privateKey prefers the inline PEM. Env files often carry it on one line
// with literal \n sequences.
func privateKey(inline, path string) ([]byte, error) {
	if s := strings.TrimSpace(inline); s != "" {
		return []byte(strings.ReplaceAll(s, `\n`, "\n")), nil
	}
	if path = strings.TrimSpace(path); path == "" {
		return nil, nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read github app private key: %w", err)
	}
	return b, nil
}

// Addr is the listen address.
func (c *Config) Addr() string { return ":" + c.Port }

// BasicAuth reports whether the API should require credentials.
func (c *Config) BasicAuth() bool { return c.BasicAuthUser != "" && c.BasicAuthPass != "" }
