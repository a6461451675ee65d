package core

import (
	"fmt"
	"strings"
	"time"
)

// PolicyConfig is the scope filter evaluated against every event. Loaded once
// at startup into an immutable snapshot; the filter never reads ambient state.
type PolicyConfig struct {
	Enabled           bool     `koanf:"enabled" mapstructure:"enabled"`
	DryRun            bool     `koanf:"dry_run" mapstructure:"dry_run"`
	AllowedUserIDs    []string `koanf:"allowed_user_ids" mapstructure:"allowed_user_ids"`
	DeniedUserIDs     []string `koanf:"denied_user_ids" mapstructure:"denied_user_ids"`
	AllowedProjectIDs []string `koanf:"allowed_project_ids" mapstructure:"allowed_project_ids"`
	DeniedProjectIDs  []string `koanf:"denied_project_ids" mapstructure:"denied_project_ids"`
}

type RulesConfig struct {
	RecurringClearComments bool     `koanf:"recurring_clear_comments" mapstructure:"recurring_clear_comments"`
	RecurringPurgeSubtasks bool     `koanf:"recurring_purge_subtasks" mapstructure:"recurring_purge_subtasks"`
	KeepMarkers            []string `koanf:"keep_markers" mapstructure:"keep_markers"`
	MaxDeleteComments      int      `koanf:"max_delete_comments" mapstructure:"max_delete_comments"`
	MaxDeleteSubtasks      int      `koanf:"max_delete_subtasks" mapstructure:"max_delete_subtasks"`
}

type TodoistConfig struct {
	APIToken         string        `koanf:"api_token" mapstructure:"api_token"`
	ClientSecret     string        `koanf:"client_secret" mapstructure:"client_secret"`
	ClientID         string        `koanf:"client_id" mapstructure:"client_id"`
	OAuthRedirectURI string        `koanf:"oauth_redirect_uri" mapstructure:"oauth_redirect_uri"`
	BaseURL          string        `koanf:"base_url" mapstructure:"base_url"`
	Timeout          time.Duration `koanf:"timeout" mapstructure:"timeout"`
}

type ServerConfig struct {
	Host       string `koanf:"host" mapstructure:"host"`
	Port       int    `koanf:"port" mapstructure:"port"`
	AdminToken string `koanf:"admin_token" mapstructure:"admin_token"`
}

type StorageConfig struct {
	Driver string `koanf:"driver" mapstructure:"driver"`
	DSN    string `koanf:"dsn" mapstructure:"dsn"`
}

type JobsConfig struct {
	ReprocessAfter time.Duration `koanf:"reprocess_after" mapstructure:"reprocess_after"`
	ScanInterval   time.Duration `koanf:"scan_interval" mapstructure:"scan_interval"`
	MaxAttempts    int           `koanf:"max_attempts" mapstructure:"max_attempts"`
}

type Config struct {
	ServiceName string        `koanf:"service_name" mapstructure:"service_name"`
	Todoist     TodoistConfig `koanf:"todoist" mapstructure:"todoist"`
	Policy      PolicyConfig  `koanf:"policy" mapstructure:"policy"`
	Rules       RulesConfig   `koanf:"rules" mapstructure:"rules"`
	Server      ServerConfig  `koanf:"server" mapstructure:"server"`
	Storage     StorageConfig `koanf:"storage" mapstructure:"storage"`
	Jobs        JobsConfig    `koanf:"jobs" mapstructure:"jobs"`
}

func DefaultConfig() Config {
	return Config{
		ServiceName: "taskhooks",
		Todoist: TodoistConfig{
			BaseURL: "https://api.todoist.com/api/v1",
			Timeout: 10 * time.Second,
		},
		Policy: PolicyConfig{
			Enabled: true,
		},
		Rules: RulesConfig{
			RecurringClearComments: true,
			KeepMarkers:            []string{"[openclaw:plan]"},
			MaxDeleteComments:      200,
			MaxDeleteSubtasks:      200,
		},
		Server: ServerConfig{
			Host: "0.0.0.0",
			Port: 8081,
		},
		Storage: StorageConfig{
			Driver: "sqlite3",
			DSN:    "file:events.sqlite?_foreign_keys=on",
		},
		Jobs: JobsConfig{
			ReprocessAfter: 5 * time.Minute,
			ScanInterval:   time.Minute,
			MaxAttempts:    8,
		},
	}
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.ServiceName) == "" {
		return fmt.Errorf("core: service_name is required")
	}
	if strings.TrimSpace(c.Todoist.ClientSecret) == "" {
		return fmt.Errorf("core: todoist.client_secret is required")
	}
	if strings.TrimSpace(c.Todoist.APIToken) == "" {
		return fmt.Errorf("core: todoist.api_token is required")
	}
	if c.Rules.MaxDeleteComments < 0 || c.Rules.MaxDeleteSubtasks < 0 {
		return fmt.Errorf("core: rule delete caps must not be negative")
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("core: server.port %d is out of range", c.Server.Port)
	}
	return nil
}
