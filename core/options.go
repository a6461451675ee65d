package core

import (
	"context"
	"fmt"

	"github.com/goliatone/go-config/cfgx"
	opts "github.com/goliatone/go-options"
)

// ConfigProvider loads a resolved Config on top of supplied defaults.
type ConfigProvider interface {
	Load(ctx context.Context, defaults Config) (Config, error)
}

// RawConfigLoader supplies the raw key/value tree a provider builds from.
type RawConfigLoader interface {
	LoadRaw(ctx context.Context) (map[string]any, error)
}

type staticRawConfigLoader struct {
	Values map[string]any
}

func (l staticRawConfigLoader) LoadRaw(context.Context) (map[string]any, error) {
	if len(l.Values) == 0 {
		return map[string]any{}, nil
	}
	out := make(map[string]any, len(l.Values))
	for key, value := range l.Values {
		out[key] = value
	}
	return out, nil
}

// StaticConfigLoader exposes a fixed raw tree, mainly for tests and embedded
// deployments.
func StaticConfigLoader(values map[string]any) RawConfigLoader {
	return staticRawConfigLoader{Values: values}
}

type CfgxConfigProvider struct {
	Loader RawConfigLoader
}

func NewCfgxConfigProvider(loader RawConfigLoader) *CfgxConfigProvider {
	return &CfgxConfigProvider{Loader: loader}
}

func (p *CfgxConfigProvider) Load(ctx context.Context, defaults Config) (Config, error) {
	if p == nil {
		return defaults, nil
	}
	loader := p.Loader
	if loader == nil {
		loader = staticRawConfigLoader{}
	}
	raw, err := loader.LoadRaw(ctx)
	if err != nil {
		return Config{}, err
	}
	cfg, err := cfgx.Build[Config](raw,
		cfgx.WithDefaults(defaults),
		cfgx.WithValidator[Config]((*Config).Validate),
	)
	if err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// GoOptionsResolver merges defaults, loaded configuration, and runtime
// overrides with deterministic precedence defaults < config < runtime.
//
// The loaded and runtime layers are raw key trees holding only the keys that
// were explicitly set. Materialized Config structs cannot distinguish an
// unset boolean from one set to false, which would make a true default
// impossible to turn off.
type GoOptionsResolver struct{}

func (GoOptionsResolver) Resolve(defaults Config, loaded map[string]any, runtime map[string]any) (Config, error) {
	stack, err := opts.NewStack(
		opts.NewLayer(
			opts.NewScope("defaults", 0),
			configToLayerMap(defaults),
			opts.WithSnapshotID[map[string]any]("defaults"),
		),
		opts.NewLayer(
			opts.NewScope("config", 10),
			copyTree(loaded),
			opts.WithSnapshotID[map[string]any]("config"),
		),
		opts.NewLayer(
			opts.NewScope("runtime", 20),
			copyTree(runtime),
			opts.WithSnapshotID[map[string]any]("runtime"),
		),
	)
	if err != nil {
		return Config{}, fmt.Errorf("core: options stack build failed: %w", err)
	}
	merged, err := stack.Merge()
	if err != nil {
		return Config{}, fmt.Errorf("core: options merge failed: %w", err)
	}
	resolved, err := cfgx.Build[Config](merged.Value,
		cfgx.WithDefaults(defaults),
		cfgx.WithValidator[Config]((*Config).Validate),
	)
	if err != nil {
		return Config{}, err
	}
	if err := resolved.Validate(); err != nil {
		return Config{}, err
	}
	return resolved, nil
}

// configToLayerMap emits every key of the config, zero values included. Only
// the defaults layer is built from a materialized struct; explicit layers
// arrive as raw trees.
func configToLayerMap(cfg Config) map[string]any {
	return map[string]any{
		"service_name": cfg.ServiceName,
		"todoist": map[string]any{
			"api_token":          cfg.Todoist.APIToken,
			"client_secret":      cfg.Todoist.ClientSecret,
			"client_id":          cfg.Todoist.ClientID,
			"oauth_redirect_uri": cfg.Todoist.OAuthRedirectURI,
			"base_url":           cfg.Todoist.BaseURL,
			"timeout":            cfg.Todoist.Timeout,
		},
		"policy": map[string]any{
			"enabled":             cfg.Policy.Enabled,
			"dry_run":             cfg.Policy.DryRun,
			"allowed_user_ids":    append([]string(nil), cfg.Policy.AllowedUserIDs...),
			"denied_user_ids":     append([]string(nil), cfg.Policy.DeniedUserIDs...),
			"allowed_project_ids": append([]string(nil), cfg.Policy.AllowedProjectIDs...),
			"denied_project_ids":  append([]string(nil), cfg.Policy.DeniedProjectIDs...),
		},
		"rules": map[string]any{
			"recurring_clear_comments": cfg.Rules.RecurringClearComments,
			"recurring_purge_subtasks": cfg.Rules.RecurringPurgeSubtasks,
			"keep_markers":             append([]string(nil), cfg.Rules.KeepMarkers...),
			"max_delete_comments":      cfg.Rules.MaxDeleteComments,
			"max_delete_subtasks":      cfg.Rules.MaxDeleteSubtasks,
		},
		"server": map[string]any{
			"host":        cfg.Server.Host,
			"port":        cfg.Server.Port,
			"admin_token": cfg.Server.AdminToken,
		},
		"storage": map[string]any{
			"driver": cfg.Storage.Driver,
			"dsn":    cfg.Storage.DSN,
		},
		"jobs": map[string]any{
			"reprocess_after": cfg.Jobs.ReprocessAfter,
			"scan_interval":   cfg.Jobs.ScanInterval,
			"max_attempts":    cfg.Jobs.MaxAttempts,
		},
	}
}

func copyTree(tree map[string]any) map[string]any {
	out := make(map[string]any, len(tree))
	for key, value := range tree {
		if child, ok := value.(map[string]any); ok {
			out[key] = copyTree(child)
			continue
		}
		out[key] = value
	}
	return out
}
