// Package setup wires the ambient stack and every SPEC_FULL.md §4.9
// component into one running Connection, the same role dendrite's own
// setup package plays for a dendrite monolith: logging, Sentry, Jaeger
// tracing, the embedded NATS bus, the debug server, and the sync engine
// itself, all constructed from one Config around the credential store the
// caller supplies in Deps.
package setup

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/opentracing/opentracing-go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/sirupsen/logrus"
	jaegercfg "github.com/uber/jaeger-client-go/config"
	jaegerprom "github.com/uber/jaeger-lib/metrics/prometheus"

	"github.com/matrix-org/matrix-sync-core/internal/bus"
	"github.com/matrix-org/matrix-sync-core/internal/clock"
	"github.com/matrix-org/matrix-sync-core/internal/log"
	"github.com/matrix-org/matrix-sync-core/internal/random"
	"github.com/matrix-org/matrix-sync-core/internal/util"
	"github.com/matrix-org/matrix-sync-core/pkg/debugserver"
	"github.com/matrix-org/matrix-sync-core/pkg/e2e"
	"github.com/matrix-org/matrix-sync-core/pkg/hsapi"
	"github.com/matrix-org/matrix-sync-core/pkg/matrixclient"
	"github.com/matrix-org/matrix-sync-core/pkg/store"
	"github.com/matrix-org/matrix-sync-core/pkg/syncengine"
	"github.com/matrix-org/matrix-sync-core/setup/config"
)

var upGauge = promauto.NewGauge(prometheus.GaugeOpts{
	Namespace: "matrix_sync_core",
	Name:      "up",
	Help:      "Set to 1 once this connection's Runtime has completed Start.",
})

// Deps are the collaborators only the host application can supply;
// everything else is built from Config.
type Deps struct {
	Config   *config.Config
	Store    store.Database
	UI       matrixclient.UIAdapter
	Fetcher  hsapi.Fetcher // nil selects hsapi.NewHTTPFetcher
	UserID   string
	DeviceID string
}

// Runtime holds every long-lived component New assembles. Start begins the
// sync loop and watchdog; Shutdown tears everything down in reverse order.
type Runtime struct {
	Config *config.Config
	Store  store.Database
	Bus    *bus.Bus
	Conn   *syncengine.Connection
	Debug  *debugserver.Server
	logger *logrus.Entry

	tracerCloser io.Closer
	stopWatchdog func()
	debugCancel  context.CancelFunc
}

// New builds a Runtime from Deps. It does not start anything: call Start to
// begin the sync loop once the caller is ready.
func New(deps Deps) (*Runtime, error) {
	cfg := deps.Config
	configErrs := cfg.Verify()
	if len(configErrs) > 0 {
		return nil, fmt.Errorf("setup: invalid config: %v", []string(configErrs))
	}

	logger := log.New(log.Options{Level: "info", Component: "matrix-sync-core"})

	if cfg.Sentry.Enabled {
		if err := sentry.Init(sentry.ClientOptions{
			Dsn:              cfg.Sentry.DSN,
			Environment:      cfg.Sentry.Environment,
			AttachStacktrace: true,
		}); err != nil {
			logger.WithError(err).Warn("setup: failed to initialize Sentry, continuing without it")
		}
	}

	var tracerCloser io.Closer
	if cfg.Tracing.Enabled {
		closer, err := initTracing(cfg.Tracing)
		if err != nil {
			logger.WithError(err).Warn("setup: failed to initialize Jaeger tracing, continuing without it")
		} else {
			tracerCloser = closer
		}
	}

	b, err := bus.Start(bus.Options{})
	if err != nil {
		return nil, fmt.Errorf("setup: start embedded bus: %w", err)
	}

	fetcher := deps.Fetcher
	if fetcher == nil {
		fetcher = hsapi.NewHTTPFetcher()
	}
	client := hsapi.New(fetcher)

	homeServerURL := util.NormalizeHomeServerURL(deps.Store.GetHomeServer(cfg.Global.DefaultHomeServerURL))

	conn := syncengine.New(syncengine.Options{
		HomeServerURL: homeServerURL,
		Client:        client,
		Credentials:   deps.Store,
		UI:            deps.UI,
		Clock:         clock.System{},
		Random:        random.System{},
		Logger:        logger,
		Bus:           b,

		LongPollTimeoutMillis:   cfg.Sync.LongPollTimeoutMS,
		WatchdogTickInterval:    time.Duration(cfg.Sync.WatchdogTickIntervalMS) * time.Millisecond,
		LivenessThresholdMillis: cfg.Sync.WatchdogThresholdMS,
	})
	conn.UserID = deps.UserID
	conn.DeviceID = deps.DeviceID

	wireE2E(conn, cfg.E2E, deps.Store, client, logger)

	var debugSrv *debugserver.Server
	if cfg.Debug.Enabled {
		debugSrv = debugserver.New(cfg.Debug.BindAddress, debugserver.ProviderFunc(func() interface{} { return conn.Snapshot() }), b)
	}

	return &Runtime{
		Config:       cfg,
		Store:        deps.Store,
		Bus:          b,
		Conn:         conn,
		Debug:        debugSrv,
		logger:       logger,
		tracerCloser: tracerCloser,
	}, nil
}

// wireE2E attaches pkg/e2e.Core's lifecycle to conn without syncengine
// importing pkg/e2e: Core is constructed lazily, inside the bootstrap
// closure, once conn.UserID/DeviceID hold their real post-login values.
func wireE2E(conn *syncengine.Connection, cfg config.E2E, creds matrixclient.CredentialStore, client *hsapi.Client, logger *logrus.Entry) {
	conn.SetE2EBootstrap(func(ctx context.Context) {
		server := conn.HomeServerURL
		if _, domain, ok := util.SplitUserID(conn.UserID); ok {
			server = util.NormalizeServerName(domain)
		}
		core := e2e.New(conn.UserID, conn.DeviceID, server, cfg.AccountDataDir, creds, client, conn.ConnInfo, logger.WithField("component", "e2e"))
		if cfg.MaxOneTimeKeys > 0 {
			core.SetMaxOneTimeKeys(cfg.MaxOneTimeKeys)
		}
		core.Bootstrap(func(err error) {
			logger.WithError(err).Warn("e2e: bootstrap failed")
		})
		conn.SetE2ESyncHook(core.HandleSync)
	})
}

// initTracing constructs a Jaeger tracer and installs it as the global
// opentracing.Tracer, the standard jaeger-client-go wiring for an
// opentracing-go consumer.
func initTracing(cfg config.Tracing) (io.Closer, error) {
	tracerCfg := jaegercfg.Configuration{
		ServiceName: cfg.ServiceName,
		Sampler:     &jaegercfg.SamplerConfig{Type: "const", Param: 1},
		Reporter:    &jaegercfg.ReporterConfig{LocalAgentHostPort: cfg.AgentAddress, LogSpans: false},
	}
	tracer, closer, err := tracerCfg.NewTracer(jaegercfg.Metrics(jaegerprom.New()))
	if err != nil {
		return nil, fmt.Errorf("setup: construct jaeger tracer: %w", err)
	}
	opentracing.SetGlobalTracer(tracer)
	return closer, nil
}

// Start performs login (or token restore), begins the sync loop, the
// liveness watchdog, and the debug server if configured. password is only
// used on a fresh login; it is ignored when a stored access token is
// restored successfully (spec.md §4.2).
func (r *Runtime) Start(ctx context.Context, password string) {
	r.Conn.Start(ctx, password)
	r.stopWatchdog = r.Conn.StartWatchdog(ctx)

	if r.Debug != nil {
		debugCtx, cancel := context.WithCancel(ctx)
		r.debugCancel = cancel
		go func() {
			if err := r.Debug.ListenAndServe(debugCtx); err != nil {
				r.logger.WithError(err).Warn("setup: debug server exited")
			}
		}()
	}

	upGauge.Set(1)
}

// Shutdown tears down the watchdog, debug server, sync connection, bus, and
// tracer, in reverse order of construction.
func (r *Runtime) Shutdown() {
	upGauge.Set(0)
	if r.debugCancel != nil {
		r.debugCancel()
	}
	if r.stopWatchdog != nil {
		r.stopWatchdog()
	}
	r.Conn.Shutdown()
	r.Bus.Close()
	if r.tracerCloser != nil {
		_ = r.tracerCloser.Close()
	}
	if r.Config.Sentry.Enabled {
		sentry.Flush(5 * time.Second)
	}
}
