// Package telemetry sets up logging and metrics from command-line flags.
package telemetry

import (
	"errors"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/urfave/cli/v2"
)

var CLIFlagDebug = &cli.BoolFlag{
	Name:    "debug",
	Usage:   "enable debug logging",
	Value:   false,
	EnvVars: []string{"VVIEW_DEBUG"},
}

var CLIFlagLogFormat = &cli.StringFlag{
	Name:    "log-format",
	Usage:   "log output format (text or json)",
	Value:   "text",
	EnvVars: []string{"VVIEW_LOG_FORMAT"},
}

var CLIFlagMetricsListenAddress = &cli.StringFlag{
	Name:    "metrics-address",
	Usage:   "listen address for the metrics server, off when empty",
	Value:   "",
	EnvVars: []string{"VVIEW_METRICS_ADDRESS"},
}

// StartLogger builds the process logger from the --debug and --log-format
// flags and installs it as the slog default. Logs go to stderr so command
// output on stdout stays clean.
func StartLogger(cctx *cli.Context) *slog.Logger {
	return NewLogger(cctx.App.ErrWriter, cctx.Bool(CLIFlagDebug.Name), cctx.String(CLIFlagLogFormat.Name))
}

// NewLogger returns a logger writing to w and makes it the slog default.
func NewLogger(w io.Writer, debug bool, format string) *slog.Logger {
	if w == nil {
		w = os.Stderr
	}
	level := slog.LevelInfo
	if debug {
		level = slog.LevelDebug
	}
	opts := &slog.HandlerOptions{Level: level, AddSource: debug}

	var handler slog.Handler
	switch strings.ToLower(format) {
	case "json":
		handler = slog.NewJSONHandler(w, opts)
	default:
		handler = slog.NewTextHandler(w, opts)
	}

	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger
}

// StartMetrics serves /metrics in the background when --metrics-address is
// set.
func StartMetrics(cctx *cli.Context) {
	addr := cctx.String(CLIFlagMetricsListenAddress.Name)
	if addr == "" {
		return
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	server := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		slog.Info("serving metrics", "address", addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("metrics server failed", "error", err)
		}
	}()
}
