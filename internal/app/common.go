package app

import (
	"fmt"
	"strings"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"

	"github.com/blackwell-systems/addonsync/internal/addon"
	"github.com/blackwell-systems/addonsync/internal/config"
	"github.com/blackwell-systems/addonsync/internal/events"
	"github.com/blackwell-systems/addonsync/internal/installer"
	"github.com/blackwell-systems/addonsync/internal/lifecycle"
	"github.com/blackwell-systems/addonsync/internal/logging"
	"github.com/blackwell-systems/addonsync/internal/metrics"
	"github.com/blackwell-systems/addonsync/internal/queue"
	"github.com/blackwell-systems/addonsync/internal/repository"
	"github.com/blackwell-systems/addonsync/internal/store"
)

// env holds the collaborators every command shares.
type env struct {
	cfg     *config.Config
	store   *store.Store
	queue   *queue.Queue
	logger  *zap.Logger
	metrics *metrics.Metrics
}

// openEnv loads configuration, opens the database and the event queue.
func openEnv() (*env, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}

	logger, err := logging.New(cfg.Logging())
	if err != nil {
		return nil, fmt.Errorf("failed to create logger: %w", err)
	}

	db, err := store.Open(cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	return &env{
		cfg:     cfg,
		store:   db,
		queue:   queue.New(queue.NewFileStorage(cfg.QueuePath)),
		logger:  logger,
		metrics: metrics.New(),
	}, nil
}

// Close releases the database and flushes the logger.
func (e *env) Close() error {
	_ = e.logger.Sync()
	return e.store.Close()
}

// orchestrator builds the lifecycle state machine for plugins and themes.
func (e *env) orchestrator() *lifecycle.Orchestrator {
	resolver := repository.NewResolver(e.store, e.store, e.cfg.MainRepositoryKey)
	return lifecycle.New(resolver, e.queue,
		[]lifecycle.Descriptor{
			lifecycle.PluginDescriptor(e.store),
			lifecycle.ThemeDescriptor(e.store),
		},
		lifecycle.WithProxyMarker(e.cfg.ProxyMarker),
		lifecycle.WithRetainedNotification(e.cfg.NotifyRetainedUninstall),
		lifecycle.WithLogger(e.logger),
		lifecycle.WithMetrics(e.metrics),
	)
}

// runner builds an installer runner around backend.
func (e *env) runner(backend installer.Backend) *installer.Runner {
	return installer.NewRunner(backend, e.orchestrator(), e.cfg.ProxyMarker, e.cfg.Concurrency, e.logger)
}

// registry builds the listener registry, registering the operator's
// aliases from the config directory.
func (e *env) registry() (*events.Registry, error) {
	client := resty.New().SetTimeout(e.cfg.WebhookTimeout)
	registry := events.NewRegistry(e.logger, client)

	dir, err := config.Dir()
	if err != nil {
		return nil, fmt.Errorf("failed to get config directory: %w", err)
	}
	aliases, err := config.LoadListenerAliases(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to load listener aliases: %w", err)
	}
	for name, ref := range aliases.Aliases {
		registry.Alias(name, ref)
	}
	return registry, nil
}

// dispatcher builds the event dispatcher over the queue and the store.
func (e *env) dispatcher() (*events.Dispatcher, error) {
	registry, err := e.registry()
	if err != nil {
		return nil, err
	}
	return events.NewDispatcher(e.queue, e.store, registry, e.logger, e.metrics), nil
}

// parseListeners converts "event=ref" flag values to declared listeners.
func parseListeners(values []string) (addon.Listeners, error) {
	if len(values) == 0 {
		return nil, nil
	}
	out := addon.Listeners{}
	for _, v := range values {
		event, ref, ok := strings.Cut(v, "=")
		if !ok || strings.TrimSpace(ref) == "" {
			return nil, fmt.Errorf("invalid listener %q (want event=ref)", v)
		}
		kind, err := addon.ParseEventKind(strings.TrimSpace(event))
		if err != nil {
			return nil, err
		}
		out[kind] = append(out[kind], strings.TrimSpace(ref))
	}
	return out, nil
}

// mergeListeners appends extra to base per event kind.
func mergeListeners(base, extra addon.Listeners) addon.Listeners {
	if len(extra) == 0 {
		return base
	}
	out := addon.Listeners{}
	for k, refs := range base {
		out[k] = append([]string(nil), refs...)
	}
	for k, refs := range extra {
		out[k] = append(out[k], refs...)
	}
	return out
}

// splitPackageArg splits "vendor/name:constraint" into name and version.
func splitPackageArg(arg string) (string, string) {
	name, version, _ := strings.Cut(arg, ":")
	return strings.TrimSpace(name), strings.TrimSpace(version)
}

// describeResult summarizes what an outcome did to a package.
func describeResult(verb lifecycle.Verb, name string, res lifecycle.Result) string {
	switch {
	case res.Deleted:
		return fmt.Sprintf("%s: removed (%s)", name, res.Event)
	case res.Record != nil:
		return fmt.Sprintf("%s: %s %s (%s)", name, res.Record.Status, versionLabel(res.Record), res.Event)
	default:
		return fmt.Sprintf("%s: %s recorded", name, verb)
	}
}

func versionLabel(rec *addon.Record) string {
	if rec.CurrentVersion == "" {
		return "no installed version"
	}
	return rec.CurrentVersion
}
