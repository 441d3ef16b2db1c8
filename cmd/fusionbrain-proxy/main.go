package main

import (
	"context"
	"fmt"
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
	"go.uber.org/fx"

	"fusionbrain-proxy-go/internal/client"
	"fusionbrain-proxy-go/internal/config"
	"fusionbrain-proxy-go/internal/handler"
	"fusionbrain-proxy-go/internal/imaging"
	"fusionbrain-proxy-go/internal/metrics"
	"fusionbrain-proxy-go/internal/middleware"
	"fusionbrain-proxy-go/internal/rewrite"
	"fusionbrain-proxy-go/internal/service"
)

// Set by goreleaser ldflags.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	var cli config.CLI
	kong.Parse(&cli,
		kong.Name("fusionbrain-proxy"),
		kong.Description("Reverse proxy for the FusionBrain API that re-encodes generated images as JPEG."),
		kong.Vars{"version": fmt.Sprintf("%s (%s, %s)", version, commit, date)},
	)

	fx.New(
		fx.Provide(
			func() *config.CLI { return &cli },
			func() handler.Version { return handler.Version(version) },
			config.Load,
			newLogger,
			metrics.New,
			newEcho,
			newTranscoder,
			newRewriter,
			client.NewUpstreamClient,
			service.NewProxyService,
			handler.NewProxyHandler,
			handler.NewHealthHandler,
		),
		fx.Invoke(handler.RegisterRoutes, warnConfigPermissions, startServer),
	).Run()
}

func newLogger(cfg *config.Config) *slog.Logger {
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
		h = slog.NewTextHandler(os.Stdout, opts)
	default:
		h = slog.NewJSONHandler(os.Stdout, opts)
	}

	return slog.New(h)
}

func newTranscoder(logger *slog.Logger, m *metrics.Metrics) *imaging.Transcoder {
	return imaging.NewTranscoder(imaging.MultiReporter{imaging.NewLogReporter(logger), m})
}

// newRewriter is provided as the service's BodyRewriter.
func newRewriter(cfg *config.Config, t *imaging.Transcoder, logger *slog.Logger, m *metrics.Metrics) service.BodyRewriter {
	return rewrite.New(t,
		rewrite.WithWorkers(cfg.Transcode.Workers),
		rewrite.WithReporter(rewrite.MultiReporter{rewrite.NewLogReporter(logger), m}),
	)
}

func newEcho(cfg *config.Config, logger *slog.Logger, m *metrics.Metrics) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = handler.ErrorHandler(logger)

	e.Server.ReadTimeout = 30 * time.Second
	// Transcoding large batches can take longer than any fixed write budget;
	// the upstream client timeout bounds the request instead.
	e.Server.WriteTimeout = 0
	e.Server.IdleTimeout = 120 * time.Second
	e.Server.ReadHeaderTimeout = 10 * time.Second

	e.Use(echomw.Recover())
	e.Use(echomw.RequestIDWithConfig(echomw.RequestIDConfig{Generator: uuid.NewString}))
	e.Use(middleware.RequestLogger(logger))
	if cfg.Metrics.Enabled {
		e.Use(middleware.MetricsMiddleware(m, cfg.Metrics.Path))
	}
	e.Use(echomw.BodyLimit(fmt.Sprintf("%dB", cfg.Server.BodyMaxBytes)))

	return e
}

func warnConfigPermissions(cfg *config.Config, logger *slog.Logger) {
	cfg.WarnPermissions(logger)
}

func startServer(lc fx.Lifecycle, e *echo.Echo, cfg *config.Config, logger *slog.Logger) {
	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			addr := cfg.Server.Addr()
			ln, err := net.Listen("tcp", addr)
			if err != nil {
				return fmt.Errorf("bind %s: %w", addr, err)
			}

			tls := cfg.Server.TLS
			logger.Info("starting server",
				"addr", addr,
				"tls", tls.Enabled(),
				"upstream", cfg.Upstream.BaseURL,
				"workers", cfg.Transcode.Workers,
			)

			go func() {
				var err error
				if tls.Enabled() {
					err = e.Server.ServeTLS(ln, tls.CertFile, tls.KeyFile)
				} else {
					err = e.Server.Serve(ln)
				}
				if err != nil && err != http.ErrServerClosed {
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
