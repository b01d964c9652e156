package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"

	"github.com/kalambet/painlog/internal/api"
	"github.com/kalambet/painlog/internal/config"
	"github.com/kalambet/painlog/internal/grafana"
	"github.com/kalambet/painlog/internal/influx"
	"github.com/kalambet/painlog/internal/journal"
	"github.com/kalambet/painlog/internal/readiness"
	"github.com/kalambet/painlog/internal/tracker"
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the painlog server (foreground)",
	RunE: func(cmd *cobra.Command, args []string) error {
		withMCP, _ := cmd.Flags().GetBool("mcp")
		return runServer(withMCP)
	},
}

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the running painlog server",
	RunE: func(cmd *cobra.Command, args []string) error {
		return stopServer()
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show server, tracker and backend status",
	RunE: func(cmd *cobra.Command, args []string) error {
		return showStatus(cmd.Context())
	},
}

func init() {
	startCmd.Flags().Bool("mcp", false, "also serve MCP tools on stdio")
}

// runtimeDir holds the PID file: the data dir when set, else the config dir.
func runtimeDir(cfg config.Config) string {
	if cfg.Storage.DataDir != "" {
		return cfg.Storage.DataDir
	}
	return filepath.Dir(cfg.Path)
}

func pidFilePath(cfg config.Config) string {
	return filepath.Join(runtimeDir(cfg), "painlog.pid")
}

func writePIDFile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())), 0o644)
}

func readPIDFile(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(strings.TrimSpace(string(data)))
}

func removePIDFile(path string) {
	os.Remove(path)
}

func setupLogging(level string) {
	logLevel := slog.LevelInfo
	if strings.EqualFold(level, "debug") {
		logLevel = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel})))
}

// backends are the long-lived clients shared by every request.
type backends struct {
	influx  *influx.Writer
	grafana *grafana.Client
	journal *journal.Store
}

func openBackends(cfg config.Config, withJournal bool) (*backends, error) {
	w, err := influx.NewWriter(cfg.Influx, cfg.Subject)
	if err != nil {
		return nil, err
	}

	b := &backends{
		influx: w,
		grafana: grafana.NewClient(cfg.Grafana.URL, cfg.Grafana.APIKey,
			grafana.WithDashboard(cfg.Grafana.DashboardUID, cfg.Grafana.PanelID),
			grafana.WithTimeout(cfg.Grafana.Timeout),
		),
	}

	if withJournal && cfg.Storage.DataDir != "" {
		store, err := journal.Open(cfg.Storage.DataDir)
		if err != nil {
			w.Close()
			return nil, fmt.Errorf("opening journal: %w", err)
		}
		b.journal = store
	}
	return b, nil
}

func (b *backends) checks() []readiness.Check {
	return []readiness.Check{
		{Name: "influxdb", Probe: b.influx.Ping},
		{Name: "grafana", Probe: b.grafana.Health},
	}
}

func (b *backends) Close() {
	if err := b.influx.Close(); err != nil {
		slog.Warn("closing influxdb client", "error", err)
	}
	if b.journal != nil {
		if err := b.journal.Close(); err != nil {
			slog.Warn("closing journal", "error", err)
		}
	}
}

func runServer(withMCP bool) error {
	fmt.Fprintf(os.Stderr, "painlog version %s\n", version)

	cfg, err := config.Load(cfgPath)
	if err != nil {
		return err
	}
	setupLogging(cfg.Log.Level)
	slog.Info("configuration loaded", "path", cfg.Path, "subject", cfg.Subject)

	baseURL := localURL(cfg.Server)
	pidPath := pidFilePath(cfg)
	healthClient := &http.Client{Timeout: 2 * time.Second}
	if resp, err := healthClient.Get(baseURL + "/health"); err == nil {
		resp.Body.Close()
		if pid, pidErr := readPIDFile(pidPath); pidErr == nil {
			printWarning("painlog is already running (PID %d)", pid)
			return fmt.Errorf("server already running (PID %d)", pid)
		}
		printWarning("painlog is already running on port %d", cfg.Server.Port)
		return fmt.Errorf("server already running on port %d", cfg.Server.Port)
	}
	if err := writePIDFile(pidPath); err != nil {
		return fmt.Errorf("writing PID file: %w", err)
	}
	defer removePIDFile(pidPath)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	b, err := openBackends(cfg, true)
	if err != nil {
		return err
	}
	defer b.Close()

	// The server starts without its backends; each request reports its own failure.
	if err := readiness.EnsureReady(ctx, os.Stderr, b.checks()...); err != nil {
		printWarning("backends not ready: %v", err)
	}

	opts := []tracker.Option{tracker.WithLogger(slog.Default().With("component", "tracker"))}
	if b.journal != nil {
		opts = append(opts, tracker.WithJournal(b.journal))
	}
	t := tracker.New(b.influx, b.grafana, opts...)

	handler := api.NewWebHandler(api.WebDeps{
		Tracker:  t,
		Subject:  cfg.Subject,
		PubURL:   cfg.Grafana.PubURL,
		EmbedURL: cfg.Grafana.EmbedURL,
	})

	addr := net.JoinHostPort(cfg.Server.Host, strconv.Itoa(cfg.Server.Port))
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      cfg.Grafana.Timeout + cfg.Influx.Timeout + 5*time.Second,
		IdleTimeout:       60 * time.Second,
		BaseContext: func(_ net.Listener) context.Context {
			return ctx
		},
	}

	if withMCP {
		mcpSrv := api.NewMCPServer(api.MCPDeps{Tracker: t, Version: version})
		stdioSrv := server.NewStdioServer(mcpSrv)
		go func() {
			if err := stdioSrv.Listen(ctx, os.Stdin, os.Stdout); err != nil && !errors.Is(err, context.Canceled) {
				slog.Error("MCP stdio server error", "error", err)
			}
		}()
		slog.Info("MCP server started (stdio transport)")
	}

	errCh := make(chan error, 1)
	go func() {
		fmt.Fprintf(os.Stderr, "painlog listening on %s\n", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		fmt.Fprintln(os.Stderr, "shutting down...")
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func stopServer() error {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		printError("could not load config: %v", err)
		return err
	}

	pidPath := pidFilePath(cfg)
	pid, err := readPIDFile(pidPath)
	if err != nil {
		printError("painlog is not running (no PID file)")
		return fmt.Errorf("not running: %w", err)
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		printError("could not find process %d", pid)
		return err
	}

	if err := process.Signal(syscall.SIGTERM); err != nil {
		printError("could not stop painlog (PID %d): %v", pid, err)
		removePIDFile(pidPath)
		return err
	}

	printSuccess("Sent stop signal to painlog (PID %d)", pid)
	return nil
}

func showStatus(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		printError("config error: %v", err)
		return nil
	}

	client := &apiClient{
		baseURL:    localURL(cfg.Server),
		httpClient: &http.Client{Timeout: 2 * time.Second},
	}
	resp, err := client.get(ctx, "/status")
	if err != nil {
		printStatus("Server", "stopped")
	} else {
		var st tracker.Status
		if err := decodeJSON(resp, &st); err != nil {
			printStatus("Server", "error (%v)", err)
		} else {
			printStatus("Server", "running on port %d", cfg.Server.Port)
			printStatus("Current pain", "%d", st.CurrentMetric)
			printStatus("Last annotation", "%s", orNone(st.LastAnnotation))
		}
	}

	printStatus("Subject", "%s", cfg.Subject)
	printStatus("InfluxDB", "%s/%s", cfg.Influx.Addr(), cfg.Influx.Database)
	printStatus("Grafana", "%s", cfg.Grafana.URL)

	b, err := openBackends(cfg, false)
	if err != nil {
		printError("%v", err)
		return nil
	}
	defer b.Close()
	if err := readiness.EnsureReady(ctx, os.Stderr, b.checks()...); err != nil {
		printWarning("backends not ready")
	}
	return nil
}

func orNone(s string) string {
	if s == "" {
		return "(none)"
	}
	return s
}
