package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	glog "github.com/goliatone/go-logger/glog"
	persistence "github.com/goliatone/go-persistence-bun"
	repositorycache "github.com/goliatone/go-repository-cache/cache"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/schema"

	"github.com/goliatone/go-taskhooks/command"
	"github.com/goliatone/go-taskhooks/core"
	"github.com/goliatone/go-taskhooks/ingest"
	"github.com/goliatone/go-taskhooks/jobs"
	"github.com/goliatone/go-taskhooks/migrations"
	"github.com/goliatone/go-taskhooks/policy"
	"github.com/goliatone/go-taskhooks/query"
	"github.com/goliatone/go-taskhooks/rules"
	"github.com/goliatone/go-taskhooks/server"
	sqlstore "github.com/goliatone/go-taskhooks/store/sql"
	"github.com/goliatone/go-taskhooks/todoist"
	"github.com/goliatone/go-taskhooks/webhooks"
)

const envPrefix = "TASKHOOKS_"

func main() {
	if err := run(); err != nil && !errors.Is(err, context.Canceled) {
		fmt.Fprintln(os.Stderr, "taskhooks:", err)
		os.Exit(1)
	}
}

func run() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	configPath := flag.String("config", "", "path to a JSON config file")
	host := flag.String("host", "", "bind host override")
	port := flag.Int("port", 0, "bind port override")
	driver := flag.String("driver", "", "storage driver override (sqlite3 or postgres)")
	dsn := flag.String("dsn", "", "storage dsn override")
	dryRun := flag.Bool("dry-run", false, "plan rule actions without mutating remote tasks")
	flag.Parse()

	cfg, err := loadConfig(*configPath, runtimeOverrides(*host, *port, *driver, *dsn, *dryRun))
	if err != nil {
		return err
	}

	logger := newLogger(cfg.ServiceName)
	logger.Info("starting service",
		"driver", cfg.Storage.Driver,
		"addr", fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		"dry_run", cfg.Policy.DryRun,
	)

	client, err := openPersistence(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer client.Close()

	factory, err := sqlstore.NewRepositoryFactoryFromPersistence(client)
	if err != nil {
		return err
	}

	cacheConfig := repositorycache.DefaultConfig()
	cacheConfig.TTL = time.Minute
	cacheService, err := repositorycache.NewCacheService(cacheConfig)
	if err != nil {
		return fmt.Errorf("build ledger cache: %w", err)
	}
	ledger, err := sqlstore.NewCachedLedgerStore(factory.LedgerStore(), cacheService)
	if err != nil {
		return err
	}
	outcomes := factory.ActionOutcomeStore()

	tasks := todoist.NewClient(todoist.ClientConfig{
		APIToken: cfg.Todoist.APIToken,
		BaseURL:  cfg.Todoist.BaseURL,
		Timeout:  cfg.Todoist.Timeout,
	})
	engine := rules.NewEngine(tasks, rules.BuiltIn(tasks, cfg.Rules),
		rules.WithDryRun(cfg.Policy.DryRun),
		rules.WithRecorder(outcomes),
		rules.WithLogger(logger),
	)
	orchestrator := ingest.NewOrchestrator(
		webhooks.TodoistHMACVerifier{Secret: cfg.Todoist.ClientSecret},
		ledger,
		policy.NewFilter(cfg.Policy),
		engine,
		ingest.WithLogger(logger),
	)

	srv, err := server.New(
		cfg.Server,
		cfg.Todoist,
		command.NewProcessDeliveryCommand(orchestrator),
		query.NewListLedgerEntriesQuery(ledger),
		query.NewGetLedgerEntryQuery(ledger),
		query.NewListActionOutcomesQuery(outcomes),
		server.WithLogger(logger),
		server.WithOAuthExchanger(tasks),
	)
	if err != nil {
		return err
	}

	reprocessQueue := jobs.NewMemoryQueue(0)
	scanner, err := jobs.NewScanner(factory.LedgerStore(), reprocessQueue, cfg.Jobs, logger)
	if err != nil {
		return err
	}
	worker, err := jobs.NewWorker(reprocessQueue, orchestrator, cfg.Jobs, logger)
	if err != nil {
		return err
	}

	errCh := make(chan error, 3)
	go func() { errCh <- srv.Start(ctx) }()
	go func() { errCh <- scanner.Run(ctx) }()
	go func() { errCh <- worker.Run(ctx) }()

	err = <-errCh
	stop()
	for i := 0; i < 2; i++ {
		if next := <-errCh; err == nil || errors.Is(err, context.Canceled) {
			err = next
		}
	}
	if errors.Is(err, context.Canceled) {
		logger.Info("service stopped")
		return nil
	}
	return err
}

// loadConfig layers defaults, then the optional config file merged with
// environment variables, then command-line overrides. The file, env, and flag
// layers carry only keys that were explicitly set, so an explicit false can
// turn off a true default.
func loadConfig(configPath string, runtime map[string]any) (core.Config, error) {
	raw := map[string]any{}
	if strings.TrimSpace(configPath) != "" {
		fileValues, err := readConfigFile(configPath)
		if err != nil {
			return core.Config{}, err
		}
		mergeTree(raw, fileValues)
	}
	mergeTree(raw, envTree())

	resolved, err := core.GoOptionsResolver{}.Resolve(core.DefaultConfig(), raw, runtime)
	if err != nil {
		return core.Config{}, fmt.Errorf("resolve configuration: %w", err)
	}
	return resolved, nil
}

// runtimeOverrides captures only the flags the operator actually passed.
func runtimeOverrides(host string, port int, driver, dsn string, dryRun bool) map[string]any {
	runtime := map[string]any{}
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "host":
			setPath(runtime, "server.host", strings.TrimSpace(host))
		case "port":
			setPath(runtime, "server.port", port)
		case "driver":
			setPath(runtime, "storage.driver", strings.TrimSpace(driver))
		case "dsn":
			setPath(runtime, "storage.dsn", strings.TrimSpace(dsn))
		case "dry-run":
			setPath(runtime, "policy.dry_run", dryRun)
		}
	})
	return runtime
}

func readConfigFile(path string) (map[string]any, error) {
	payload, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file %s: %w", path, err)
	}
	values := map[string]any{}
	if err := json.Unmarshal(payload, &values); err != nil {
		return nil, fmt.Errorf("decode config file %s: %w", path, err)
	}
	return values, nil
}

// envTree collects TASKHOOKS_* variables into the nested configuration shape.
func envTree() map[string]any {
	tree := map[string]any{}
	setEnvString(tree, "SERVICE_NAME", "service_name")
	setEnvString(tree, "TODOIST_API_TOKEN", "todoist.api_token")
	setEnvString(tree, "TODOIST_CLIENT_SECRET", "todoist.client_secret")
	setEnvString(tree, "TODOIST_CLIENT_ID", "todoist.client_id")
	setEnvString(tree, "TODOIST_OAUTH_REDIRECT_URI", "todoist.oauth_redirect_uri")
	setEnvString(tree, "TODOIST_BASE_URL", "todoist.base_url")
	setEnvBool(tree, "POLICY_ENABLED", "policy.enabled")
	setEnvBool(tree, "POLICY_DRY_RUN", "policy.dry_run")
	setEnvList(tree, "POLICY_ALLOWED_USER_IDS", "policy.allowed_user_ids")
	setEnvList(tree, "POLICY_DENIED_USER_IDS", "policy.denied_user_ids")
	setEnvList(tree, "POLICY_ALLOWED_PROJECT_IDS", "policy.allowed_project_ids")
	setEnvList(tree, "POLICY_DENIED_PROJECT_IDS", "policy.denied_project_ids")
	setEnvBool(tree, "RULES_RECURRING_CLEAR_COMMENTS", "rules.recurring_clear_comments")
	setEnvBool(tree, "RULES_RECURRING_PURGE_SUBTASKS", "rules.recurring_purge_subtasks")
	setEnvList(tree, "RULES_KEEP_MARKERS", "rules.keep_markers")
	setEnvInt(tree, "RULES_MAX_DELETE_COMMENTS", "rules.max_delete_comments")
	setEnvInt(tree, "RULES_MAX_DELETE_SUBTASKS", "rules.max_delete_subtasks")
	setEnvString(tree, "SERVER_HOST", "server.host")
	setEnvInt(tree, "SERVER_PORT", "server.port")
	setEnvString(tree, "SERVER_ADMIN_TOKEN", "server.admin_token")
	setEnvString(tree, "STORAGE_DRIVER", "storage.driver")
	setEnvString(tree, "STORAGE_DSN", "storage.dsn")
	return tree
}

func setEnvString(tree map[string]any, envKey, path string) {
	value := strings.TrimSpace(os.Getenv(envPrefix + envKey))
	if value != "" {
		setPath(tree, path, value)
	}
}

func setEnvBool(tree map[string]any, envKey, path string) {
	raw := strings.TrimSpace(os.Getenv(envPrefix + envKey))
	if raw == "" {
		return
	}
	value, err := strconv.ParseBool(raw)
	if err != nil {
		return
	}
	setPath(tree, path, value)
}

func setEnvInt(tree map[string]any, envKey, path string) {
	raw := strings.TrimSpace(os.Getenv(envPrefix + envKey))
	if raw == "" {
		return
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return
	}
	setPath(tree, path, value)
}

func setEnvList(tree map[string]any, envKey, path string) {
	raw := strings.TrimSpace(os.Getenv(envPrefix + envKey))
	if raw == "" {
		return
	}
	var values []string
	for _, part := range strings.Split(raw, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			values = append(values, trimmed)
		}
	}
	if len(values) > 0 {
		setPath(tree, path, values)
	}
}

func setPath(tree map[string]any, path string, value any) {
	keys := strings.Split(path, ".")
	node := tree
	for _, key := range keys[:len(keys)-1] {
		child, ok := node[key].(map[string]any)
		if !ok {
			child = map[string]any{}
			node[key] = child
		}
		node = child
	}
	node[keys[len(keys)-1]] = value
}

func mergeTree(dst, src map[string]any) {
	for key, value := range src {
		srcChild, srcIsMap := value.(map[string]any)
		dstChild, dstIsMap := dst[key].(map[string]any)
		if srcIsMap && dstIsMap {
			mergeTree(dstChild, srcChild)
			continue
		}
		dst[key] = value
	}
}

type persistenceConfig struct {
	driver  string
	dsn     string
	otelTag string
}

func (c persistenceConfig) GetDebug() bool                { return false }
func (c persistenceConfig) GetDriver() string             { return c.driver }
func (c persistenceConfig) GetServer() string             { return c.dsn }
func (c persistenceConfig) GetPingTimeout() time.Duration { return 5 * time.Second }
func (c persistenceConfig) GetOtelIdentifier() string     { return c.otelTag }

func openPersistence(ctx context.Context, cfg core.Config, logger core.Logger) (*persistence.Client, error) {
	driver := strings.TrimSpace(strings.ToLower(cfg.Storage.Driver))
	var (
		dialect       schema.Dialect
		dialectTarget string
	)
	switch driver {
	case "sqlite3", "sqlite":
		driver = "sqlite3"
		dialect = sqlitedialect.New()
		dialectTarget = migrations.DialectSQLite
	case "postgres", "pq":
		driver = "postgres"
		dialect = pgdialect.New()
		dialectTarget = migrations.DialectPostgres
	default:
		return nil, fmt.Errorf("unsupported storage driver %q", cfg.Storage.Driver)
	}

	sqlDB, err := sql.Open(driver, cfg.Storage.DSN)
	if err != nil {
		return nil, fmt.Errorf("open %s database: %w", driver, err)
	}
	if driver == "sqlite3" {
		sqlDB.SetMaxOpenConns(1)
	}

	client, err := persistence.New(persistenceConfig{
		driver:  driver,
		dsn:     cfg.Storage.DSN,
		otelTag: cfg.ServiceName,
	}, sqlDB, dialect)
	if err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("build persistence client: %w", err)
	}

	err = migrations.Register(ctx, func(_ context.Context, migrationDialect string, _ string, fsys fs.FS) error {
		if migrationDialect != dialectTarget {
			return nil
		}
		client.RegisterSQLMigrations(fsys)
		return nil
	}, migrations.WithValidationTargets(dialectTarget))
	if err != nil {
		_ = client.Close()
		return nil, err
	}
	if err := client.Migrate(ctx); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("apply migrations: %w", err)
	}
	logger.Info("database ready", "driver", driver)

	return client, nil
}

// slogAdapter exposes a slog.Logger through the logging contract the rest of
// the service consumes.
type slogAdapter struct {
	logger *slog.Logger
}

func newLogger(serviceName string) core.Logger {
	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug})
	return &slogAdapter{logger: slog.New(handler).With("service", serviceName)}
}

func (l *slogAdapter) Trace(msg string, args ...any) { l.logger.Debug(msg, args...) }
func (l *slogAdapter) Debug(msg string, args ...any) { l.logger.Debug(msg, args...) }
func (l *slogAdapter) Info(msg string, args ...any)  { l.logger.Info(msg, args...) }
func (l *slogAdapter) Warn(msg string, args ...any)  { l.logger.Warn(msg, args...) }
func (l *slogAdapter) Error(msg string, args ...any) { l.logger.Error(msg, args...) }

func (l *slogAdapter) Fatal(msg string, args ...any) {
	l.logger.Error(msg, args...)
	os.Exit(1)
}

func (l *slogAdapter) WithContext(context.Context) glog.Logger { return l }

var _ glog.Logger = (*slogAdapter)(nil)
