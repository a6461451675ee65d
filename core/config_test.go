package core

import (
	"context"
	"strings"
	"testing"
	"time"
)

func validConfig() Config {
	cfg := DefaultConfig()
	cfg.Todoist.APIToken = "api-token"
	cfg.Todoist.ClientSecret = "client-secret"
	return cfg
}

func TestConfigValidate(t *testing.T) {
	if err := validConfig().Validate(); err != nil {
		t.Fatalf("valid config rejected: %v", err)
	}

	missingSecret := validConfig()
	missingSecret.Todoist.ClientSecret = ""
	if err := missingSecret.Validate(); err == nil {
		t.Fatal("expected client secret to be required")
	}

	missingToken := validConfig()
	missingToken.Todoist.APIToken = " "
	if err := missingToken.Validate(); err == nil {
		t.Fatal("expected api token to be required")
	}

	badPort := validConfig()
	badPort.Server.Port = 70000
	if err := badPort.Validate(); err == nil {
		t.Fatal("expected out-of-range port to be rejected")
	}

	negativeCap := validConfig()
	negativeCap.Rules.MaxDeleteComments = -1
	if err := negativeCap.Validate(); err == nil {
		t.Fatal("expected negative delete cap to be rejected")
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	if cfg.Server.Port != 8081 {
		t.Fatalf("unexpected default port %d", cfg.Server.Port)
	}
	if !cfg.Policy.Enabled || cfg.Policy.DryRun {
		t.Fatalf("unexpected default policy %+v", cfg.Policy)
	}
	if !cfg.Rules.RecurringClearComments || cfg.Rules.RecurringPurgeSubtasks {
		t.Fatalf("unexpected default rules %+v", cfg.Rules)
	}
	if cfg.Jobs.ReprocessAfter != 5*time.Minute {
		t.Fatalf("unexpected reprocess window %v", cfg.Jobs.ReprocessAfter)
	}
	if !strings.HasPrefix(cfg.Todoist.BaseURL, "https://api.todoist.com") {
		t.Fatalf("unexpected base url %q", cfg.Todoist.BaseURL)
	}
}

func TestCfgxConfigProviderLoad(t *testing.T) {
	defaults := DefaultConfig()
	loader := StaticConfigLoader(map[string]any{
		"todoist": map[string]any{
			"api_token":     "api-token",
			"client_secret": "client-secret",
		},
		"server": map[string]any{
			"port": 9090,
		},
	})

	cfg, err := NewCfgxConfigProvider(loader).Load(context.Background(), defaults)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Server.Port != 9090 {
		t.Fatalf("override lost, port %d", cfg.Server.Port)
	}
	if cfg.Server.Host != defaults.Server.Host {
		t.Fatalf("defaults lost, host %q", cfg.Server.Host)
	}
	if cfg.Todoist.APIToken != "api-token" {
		t.Fatalf("token not loaded: %q", cfg.Todoist.APIToken)
	}
}

func TestCfgxConfigProviderValidatesLoadedConfig(t *testing.T) {
	// Secrets are not defaulted, so an empty tree cannot produce a valid config.
	_, err := NewCfgxConfigProvider(StaticConfigLoader(nil)).Load(context.Background(), DefaultConfig())
	if err == nil {
		t.Fatal("expected validation failure without secrets")
	}
}

func TestGoOptionsResolverPrecedence(t *testing.T) {
	defaults := DefaultConfig()

	loaded := map[string]any{
		"todoist": map[string]any{
			"api_token":     "api-token",
			"client_secret": "client-secret",
		},
		"server": map[string]any{
			"port": 9000,
		},
		"policy": map[string]any{
			"dry_run": true,
		},
	}
	runtime := map[string]any{
		"server": map[string]any{
			"port": 9100,
		},
	}

	resolved, err := GoOptionsResolver{}.Resolve(defaults, loaded, runtime)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if resolved.Server.Port != 9100 {
		t.Fatalf("runtime layer must win, got port %d", resolved.Server.Port)
	}
	if !resolved.Policy.DryRun {
		t.Fatal("loaded layer must survive when runtime is silent")
	}
	if resolved.Server.Host != defaults.Server.Host {
		t.Fatalf("defaults must fill the gaps, host %q", resolved.Server.Host)
	}
	if resolved.Todoist.APIToken != "api-token" {
		t.Fatalf("loaded secret lost: %q", resolved.Todoist.APIToken)
	}
}

func TestGoOptionsResolverExplicitFalseOverridesTrueDefault(t *testing.T) {
	defaults := DefaultConfig()
	if !defaults.Policy.Enabled || !defaults.Rules.RecurringClearComments {
		t.Fatalf("test assumes true defaults, got %+v / %+v", defaults.Policy, defaults.Rules)
	}

	loaded := map[string]any{
		"todoist": map[string]any{
			"api_token":     "api-token",
			"client_secret": "client-secret",
		},
		"policy": map[string]any{
			"enabled": false,
		},
	}
	runtime := map[string]any{
		"rules": map[string]any{
			"recurring_clear_comments": false,
		},
	}

	resolved, err := GoOptionsResolver{}.Resolve(defaults, loaded, runtime)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if resolved.Policy.Enabled {
		t.Fatal("explicit policy.enabled=false must not revert to the default")
	}
	if resolved.Rules.RecurringClearComments {
		t.Fatal("explicit rules.recurring_clear_comments=false must not revert to the default")
	}
	if resolved.Server.Port != defaults.Server.Port {
		t.Fatalf("untouched keys must keep defaults, port %d", resolved.Server.Port)
	}
}
