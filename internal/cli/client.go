package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/markduk/portalmover/internal/config"
	"github.com/markduk/portalmover/internal/record"
	"github.com/markduk/portalmover/internal/remote"
	"github.com/markduk/portalmover/internal/schema"
	"github.com/markduk/portalmover/internal/telemetry"
)

// dryRunTarget is journalled as the target of dry runs.
const dryRunTarget = "dry-run"

// remoteSetup is the client a command writes through plus the telemetry
// observing it.
type remoteSetup struct {
	client   remote.Client
	target   string
	provider *telemetry.Provider
	metrics  *telemetry.Metrics
}

func (r *remoteSetup) shutdown(ctx context.Context) {
	if err := r.provider.Shutdown(ctx); err != nil {
		slog.Warn("telemetry shutdown failed", "error", err)
	}
}

// newRemote builds the remote client. Dry runs write into an in-memory
// store seeded with preload. Real targets get, from the inside out:
// instrumentation, a per-call timeout and retries of transient faults, so
// every attempt is traced.
func newRemote(ctx context.Context, cfg *config.Config, catalog *schema.Catalog, dryRun bool, preload []record.Record, telemetryOut io.Writer) (*remoteSetup, error) {
	provider, err := telemetry.Init(ctx, telemetry.Config{
		Enabled: cfg.Telemetry.Enabled,
		Stdout:  cfg.Telemetry.Stdout,
		Version: Version,
		Writer:  telemetryOut,
	})
	if err != nil {
		return nil, err
	}
	setup := &remoteSetup{provider: provider, metrics: telemetry.NewMetrics()}

	if dryRun {
		mem := remote.NewMemoryStore(remote.WithPreloaded(preload...))
		setup.client = telemetry.WrapClient(mem, provider, setup.metrics)
		setup.target = dryRunTarget
		return setup, nil
	}

	if cfg.Target.URL == "" {
		return nil, fmt.Errorf("no target: set --target or %s, or use --dry-run", config.KeyTargetURL)
	}
	webOpts := []remote.WebAPIOption{remote.WithWebAPILogger(slog.Default())}
	if cfg.Target.Token != "" {
		webOpts = append(webOpts, remote.WithBearerToken(cfg.Target.Token))
	}
	api, err := remote.NewWebAPI(cfg.Target.URL, catalog, webOpts...)
	if err != nil {
		return nil, err
	}

	var client remote.Client = telemetry.WrapClient(api, provider, setup.metrics)
	if cfg.Target.Timeout > 0 {
		client = remote.WithTimeout(client, cfg.Target.Timeout)
	}
	policy := remote.DefaultRetryPolicy()
	policy.MaxElapsedTime = cfg.Target.RetryMaxElapsed
	policy.Logger = slog.Default()
	setup.client = remote.WithRetry(client, policy)
	setup.target = cfg.Target.URL
	return setup, nil
}

// writeMetrics exports the Prometheus textfile when one is configured.
func (r *remoteSetup) writeMetrics(path string) {
	if path == "" {
		return
	}
	if err := r.metrics.WriteTextfile(path); err != nil {
		slog.Warn("metrics export failed", "path", path, "error", err)
		return
	}
	slog.Debug("metrics written", "path", path)
}
