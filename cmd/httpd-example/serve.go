package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/automaxprocs/maxprocs"
	"go.uber.org/zap"

	"github.com/corewire/httpd"
	"github.com/corewire/httpd/internal/logx"
)

var (
	flagAddr             string
	flagServerName       string
	flagMaxWorkers       int64
	flagIdleTimeout      time.Duration
	flagMetricsAddr      string
	flagMetricsNamespace string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Bind and serve until interrupted",
	Example: "# httpd-example serve --addr :8080\n" +
		"# httpd-example serve --config httpd.yaml",
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVar(&flagAddr, "addr", ":8080", "Listen address")
	serveCmd.Flags().StringVar(&flagServerName, "server-name", "httpd-example", "Value of the Server response header")
	serveCmd.Flags().Int64Var(&flagMaxWorkers, "max-workers", 256, "Maximum concurrently served connections")
	serveCmd.Flags().DurationVar(&flagIdleTimeout, "idle-timeout", 60*time.Second, "Per-connection inactivity timeout (0 disables it)")
	serveCmd.Flags().StringVar(&flagMetricsAddr, "metrics-addr", "", "Address to serve /metrics on (empty disables it)")
	serveCmd.Flags().StringVar(&flagMetricsNamespace, "metrics-namespace", "httpd_example", "Prometheus namespace for the server's collectors")
}

func runServe(cmd *cobra.Command, args []string) error {
	zlog, err := zap.NewProduction()
	if err != nil {
		return err
	}
	defer zlog.Sync()
	logger := logx.NewZap(zlog)

	undo, err := maxprocs.Set(maxprocs.Logger(func(format string, a ...any) {
		logger.Info("automaxprocs", logx.F("msg", fmt.Sprintf(format, a...)))
	}))
	if err != nil {
		logger.Warn("automaxprocs: failed to set GOMAXPROCS", logx.F("err", err.Error()))
	} else {
		defer undo()
	}

	addr := flagAddr
	serverName := flagServerName
	maxWorkers := flagMaxWorkers
	idleTimeout := flagIdleTimeout
	metricsAddr := flagMetricsAddr
	metricsNamespace := flagMetricsNamespace

	if configPath != "" {
		fc, err := loadFileConfig(configPath)
		if err != nil {
			return err
		}
		if fc.Addr != "" {
			addr = fc.Addr
		}
		if fc.ServerName != "" {
			serverName = fc.ServerName
		}
		if fc.MaxWorkers > 0 {
			maxWorkers = fc.MaxWorkers
		}
		if fc.IdleTimeoutMS > 0 {
			idleTimeout = time.Duration(fc.IdleTimeoutMS) * time.Millisecond
		}
		if fc.MetricsAddr != "" {
			metricsAddr = fc.MetricsAddr
		}
		if fc.MetricsNamespace != "" {
			metricsNamespace = fc.MetricsNamespace
		}
	}

	var reg *prometheus.Registry
	if metricsAddr != "" {
		reg = prometheus.NewRegistry()
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
		metricsSrv := &http.Server{Addr: metricsAddr, Handler: mux}
		go func() {
			if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("metrics server exited", logx.F("err", err.Error()))
			}
		}()
		defer metricsSrv.Close()
	}

	srv, err := httpd.NewServer(addr, nil, httpd.Config{
		ServerName:       serverName,
		MaxWorkers:       maxWorkers,
		IdleTimeout:      idleTimeout,
		MetricsRegistry:  reg,
		MetricsNamespace: metricsNamespace,
		Logger:           logger,
	})
	if err != nil {
		return err
	}
	defer srv.Close()

	logger.Info("listening", logx.F("addr", srv.Addr().String()))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go serveLoop(ctx, srv, logger)

	<-ctx.Done()
	logger.Info("shutting down")
	return nil
}

func serveLoop(ctx context.Context, srv *httpd.Server, logger httpd.Logger) {
	for req := range srv.Incoming() {
		select {
		case <-ctx.Done():
			req.Close()
			return
		default:
		}
		handle(req, logger)
	}
}

func handle(req *httpd.Request, logger httpd.Logger) {
	defer req.Close()

	if body, err := req.AsReader(); err == nil {
		buf := make([]byte, 4096)
		for {
			n, err := body.Read(buf)
			if n == 0 || err != nil {
				break
			}
		}
	}

	if err := req.Respond(httpd.NewStringResponse(httpd.StatusOK, "pong\n")); err != nil {
		logger.Warn("respond failed", logx.F("err", err.Error()), logx.F("path", req.URL.Path))
	}
}
