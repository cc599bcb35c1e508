package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/alecthomas/kong"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/fx"

	"stream-proxy-go/internal/client"
	"stream-proxy-go/internal/command"
	"stream-proxy-go/internal/config"
	"stream-proxy-go/internal/handler"
	"stream-proxy-go/internal/manifest"
	"stream-proxy-go/internal/metrics"
	"stream-proxy-go/internal/middleware"
	"stream-proxy-go/internal/server"
	"stream-proxy-go/internal/service"
	"stream-proxy-go/internal/store"
)

// Set by goreleaser ldflags.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	var cli config.CLI
	kctx := kong.Parse(&cli,
		kong.Name("stream-proxy"),
		kong.Description("Loopback HTTP proxy for IPTV and HLS streams."),
		kong.Vars{"version": fmt.Sprintf("%s (%s, %s)", version, commit, date)},
	)

	switch kctx.Command() {
	case "fetch <url>":
		kctx.FatalIfErrorf(runFetch(&cli))
	default:
		runServe(&cli)
	}
}

func runServe(cli *config.CLI) {
	fx.New(
		fx.Provide(
			func() *config.CLI { return cli },
			func() handler.Version { return handler.Version(version) },
			config.Load,
			newLogger,
			newMetrics,
			newEcho,
			fx.Annotate(server.NewPortGate,
				fx.As(fx.Self()),
				fx.As(new(command.PortSource)),
				fx.As(new(handler.PortReporter)),
			),
			server.Listen,
			newRewriter,
			fx.Annotate(client.NewStreamClient,
				fx.As(new(service.Fetcher)),
				fx.As(new(command.Fetcher)),
			),
			fx.Annotate(store.NewConfigStore, fx.As(new(command.ConfigStore))),
			service.NewProxyService,
			command.NewBridge,
			handler.NewProxyHandler,
			handler.NewCommandHandler,
			handler.NewHealthHandler,
		),
		fx.Invoke(handler.RegisterRoutes, registerMetrics, warnConfigPermissions, startServer),
	).Run()
}

// runFetch performs one playlist fetch and prints {"body","final_url"} to stdout.
func runFetch(cli *config.CLI) error {
	cfg, err := config.Load(cli)
	if err != nil {
		return err
	}
	logger := newLoggerTo(cfg, os.Stderr)

	c := client.NewStreamClient(cfg, logger, nil)
	bridge := command.NewBridge(c, server.NewPortGate(), store.NewConfigStore(cfg), cfg, logger)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	res, err := bridge.FetchURL(ctx, cli.Fetch.URL)
	if err != nil {
		return err
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetEscapeHTML(false)
	return enc.Encode(res)
}

func newLogger(cfg *config.Config) *slog.Logger {
	return newLoggerTo(cfg, os.Stdout)
}

func newLoggerTo(cfg *config.Config, w io.Writer) *slog.Logger {
	level := slog.LevelInfo
	switch strings.ToLower(cfg.Log.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	opts := &slog.HandlerOptions{Level: level}

	var h slog.Handler
	switch strings.ToLower(cfg.Log.Format) {
	case "text":
		h = slog.NewTextHandler(w, opts)
	default:
		h = slog.NewJSONHandler(w, opts)
	}

	return slog.New(h)
}

// newMetrics returns nil when metrics are disabled; every consumer treats
// a nil *metrics.Metrics as "don't record".
func newMetrics(cfg *config.Config) *metrics.Metrics {
	if !cfg.Metrics.Enabled {
		return nil
	}
	return metrics.New()
}

func newRewriter(cfg *config.Config, ln net.Listener, logger *slog.Logger) *manifest.Rewriter {
	return manifest.NewRewriter(server.Origin(ln.Addr()),
		manifest.WithURITags(cfg.Manifest.URITags...),
		manifest.WithLogger(logger),
	)
}

func newEcho(cfg *config.Config, logger *slog.Logger, m *metrics.Metrics) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Server.ReadTimeout = 30 * time.Second
	// WriteTimeout is disabled (0): a live stream response may run for hours.
	// Upstream stalls are bounded by the client's header timeout and by
	// context cancellation when the player goes away.
	e.Server.WriteTimeout = 0
	e.Server.IdleTimeout = 120 * time.Second
	e.Server.ReadHeaderTimeout = 10 * time.Second

	e.Pre(middleware.CORS())

	e.Use(echomw.Recover())
	e.Use(echomw.RequestIDWithConfig(echomw.RequestIDConfig{Generator: uuid.NewString}))
	e.Use(middleware.RequestLogger(logger))
	e.Use(echomw.BodyLimit("2M"))
	e.Use(middleware.SecurityHeaders())

	if m != nil {
		e.Use(middleware.MetricsMiddleware(m))
	}

	if cfg.Server.RateLimit.Enabled {
		e.Use(middleware.RateLimiter(cfg.Server.RateLimit))
		logger.Info("rate limiter enabled", "rps", cfg.Server.RateLimit.RequestsPerSecond)
	}

	return e
}

func registerMetrics(e *echo.Echo, cfg *config.Config, m *metrics.Metrics) {
	if m == nil {
		return
	}
	e.GET(cfg.Metrics.Path, echo.WrapHandler(promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{})))
}

func warnConfigPermissions(cfg *config.Config, logger *slog.Logger) {
	cfg.WarnPermissions(logger)
}

func startServer(lc fx.Lifecycle, e *echo.Echo, ln net.Listener, logger *slog.Logger) {
	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			logger.Info("starting server", "addr", ln.Addr().String())
			go func() {
				if err := e.Server.Serve(ln); err != nil && err != http.ErrServerClosed {
					logger.Error("server error", "err", err)
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			logger.Info("shutting down server")
			return e.Shutdown(ctx)
		},
	})
}
