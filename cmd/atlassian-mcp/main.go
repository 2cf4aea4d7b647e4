// atlassian-mcp: Jira and Confluence MCP Server
//
// An MCP server that gives AI coding tools access to Jira Cloud and
// Confluence, remembers each user's defaults and recent work, and
// suggests likely next steps after every call.
//
// Usage:
//
//	atlassian-mcp serve      # Start MCP server (stdio transport)
//	atlassian-mcp serve --transport sse --addr localhost:3001
//	atlassian-mcp version
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

	"github.com/mark3labs/mcp-go/server"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/HendryAvila/atlassian-mcp/internal/config"
	mcpserver "github.com/HendryAvila/atlassian-mcp/internal/server"
)

const shutdownTimeout = 5 * time.Second

type serveFlags struct {
	configPath  string
	transport   string
	addr        string
	metricsAddr string
}

func main() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "atlassian-mcp",
		Short:        "Jira and Confluence MCP server",
		SilenceUsage: true,
	}
	root.AddCommand(newServeCmd(), newVersionCmd())
	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "atlassian-mcp v%s\n", mcpserver.Version)
		},
	}
}

func newServeCmd() *cobra.Command {
	var f serveFlags
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the MCP server",
		Long: `Start the MCP server. Settings come from the config file, a .env file
and ATLASSIAN_*, CACHE_*, CONTEXT_*, MCP_* and LOG_* environment variables.
Flags override all of them.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd.Context(), cmd, f)
		},
	}
	cmd.Flags().StringVarP(&f.configPath, "config", "c", "", "Config file (YAML, JSON or TOML)")
	cmd.Flags().StringVar(&f.transport, "transport", "", "Transport: stdio or sse")
	cmd.Flags().StringVar(&f.addr, "addr", "", "Listen address for the sse transport")
	cmd.Flags().StringVar(&f.metricsAddr, "metrics-addr", "", "Listen address for /metrics (disabled when empty)")
	return cmd
}

func run(ctx context.Context, cmd *cobra.Command, f serveFlags) error {
	cfg, err := config.Load(f.configPath)
	if err != nil {
		return err
	}
	if cmd.Flags().Changed("transport") {
		cfg.Server.Transport = f.transport
	}
	if cmd.Flags().Changed("addr") {
		cfg.Server.Addr = f.addr
	}
	if cmd.Flags().Changed("metrics-addr") {
		cfg.Server.MetricsAddr = f.metricsAddr
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	// stdout belongs to the stdio transport.
	logger, err := cfg.Log.NewLogger(os.Stderr)
	if err != nil {
		return err
	}

	srv, cleanup, err := mcpserver.New(cfg, logger)
	if err != nil {
		return fmt.Errorf("creating server: %w", err)
	}
	defer cleanup()

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.Server.MetricsAddr != "" {
		metricsSrv := &http.Server{
			Addr:              cfg.Server.MetricsAddr,
			Handler:           metricsMux(srv),
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			logger.WithField("addr", cfg.Server.MetricsAddr).Info("serving metrics")
			if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.WithError(err).Error("metrics server stopped")
			}
		}()
		defer shutdown(logger, "metrics", metricsSrv.Shutdown)
	}

	switch cfg.Server.Transport {
	case "sse":
		return serveSSE(ctx, logger, srv, cfg.Server)
	default:
		logger.Info("serving MCP over stdio")
		return serveStdio(ctx, srv)
	}
}

func metricsMux(srv *mcpserver.Server) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", srv.Metrics.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok\n"))
	})
	return mux
}

// serveStdio runs until stdin closes or ctx is cancelled.
func serveStdio(ctx context.Context, srv *mcpserver.Server) error {
	stdio := server.NewStdioServer(srv.MCP)
	err := stdio.Listen(ctx, os.Stdin, os.Stdout)
	if err != nil && errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func serveSSE(ctx context.Context, logger *logrus.Logger, srv *mcpserver.Server, cfg config.ServerConfig) error {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = "http://" + cfg.Addr
	}
	sse := server.NewSSEServer(
		srv.MCP,
		server.WithBaseURL(baseURL),
		server.WithKeepAlive(true),
	)

	errCh := make(chan error, 1)
	go func() {
		logger.WithFields(logrus.Fields{
			"addr":     cfg.Addr,
			"sse":      baseURL + "/sse",
			"messages": baseURL + "/message",
		}).Info("serving MCP over SSE")
		errCh <- sse.Start(cfg.Addr)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		logger.Info("shutting down")
		shutdown(logger, "sse", sse.Shutdown)
		return nil
	}
}

func shutdown(logger *logrus.Logger, name string, fn func(context.Context) error) {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := fn(ctx); err != nil {
		logger.WithError(err).WithField("server", name).Warn("shutdown failed")
	}
}
