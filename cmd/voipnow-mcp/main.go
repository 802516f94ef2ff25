// Command voipnow-mcp is an MCP gateway for VoipNow provisioning. It
// keeps the OAuth access token fresh in the background and exposes the
// provisioning operations as MCP tools over stdio, streamable HTTP, or
// SSE.
package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"github.com/modelcontextprotocol/go-sdk/mcp"
	"golang.org/x/crypto/bcrypt"
	"golang.org/x/sync/errgroup"

	"github.com/alexjbarnes/voipnow-mcp/internal/catalog"
	"github.com/alexjbarnes/voipnow-mcp/internal/logging"
	"github.com/alexjbarnes/voipnow-mcp/internal/manager"
	"github.com/alexjbarnes/voipnow-mcp/internal/mcpserver"
	"github.com/alexjbarnes/voipnow-mcp/internal/server"
	"github.com/alexjbarnes/voipnow-mcp/internal/soap"
)

var Version = "dev"

// options is the process configuration: environment variables with
// flag overrides. The application configuration lives in the JSON file
// and can change at runtime; these cannot.
type options struct {
	ConfigPath    string        `env:"VOIPNOW_MCP_CONFIG"`
	Transport     string        `env:"VOIPNOW_MCP_TRANSPORT" envDefault:"stdio"`
	ListenAddr    string        `env:"VOIPNOW_MCP_LISTEN" envDefault:":8080"`
	Secure        bool          `env:"VOIPNOW_MCP_SECURE"`
	CachePath     string        `env:"VOIPNOW_MCP_WSDL_CACHE"`
	LogTransport  string        `env:"VOIPNOW_MCP_LOG_TRANSPORT" envDefault:"console"`
	CheckInterval time.Duration `env:"VOIPNOW_MCP_CHECK_INTERVAL"`
}

func main() {
	// Handle hash-token subcommand before config loading.
	if len(os.Args) > 1 && os.Args[1] == "hash-token" {
		hashToken()
		return
	}

	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// hashToken reads a token from stdin and prints its bcrypt hash, for
// use as the authTokenMCP config value.
func hashToken() {
	fmt.Fprint(os.Stderr, "Enter token: ")
	scanner := bufio.NewScanner(os.Stdin)
	if !scanner.Scan() {
		fmt.Fprintln(os.Stderr, "no input")
		os.Exit(1)
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(scanner.Text()), bcrypt.DefaultCost)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	fmt.Println(string(hash))
}

func loadOptions(args []string) (*options, error) {
	// Best-effort .env for local development.
	_ = godotenv.Load()

	opts := &options{}
	if err := env.Parse(opts); err != nil {
		return nil, fmt.Errorf("parsing environment: %w", err)
	}

	fs := flag.NewFlagSet("voipnow-mcp", flag.ContinueOnError)
	fs.StringVar(&opts.ConfigPath, "config", opts.ConfigPath, "path to the JSON configuration file")
	fs.StringVar(&opts.Transport, "transport", opts.Transport, "MCP transport (stdio, streamable-http, sse)")
	fs.StringVar(&opts.ListenAddr, "listen-addr", opts.ListenAddr, "HTTP listen address")
	fs.BoolVar(&opts.Secure, "secure", opts.Secure, "require a bearer token on HTTP transports")
	fs.StringVar(&opts.CachePath, "wsdl-cache", opts.CachePath, "path to the WSDL cache database")
	fs.StringVar(&opts.LogTransport, "log-transport", opts.LogTransport, "log output format (console, syslog)")
	fs.DurationVar(&opts.CheckInterval, "check-interval", opts.CheckInterval, "base delay between token freshness checks (0 uses the default)")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	// The config path may also be given as the first positional
	// argument.
	if opts.ConfigPath == "" && fs.NArg() > 0 {
		opts.ConfigPath = fs.Arg(0)
	}

	if opts.ConfigPath == "" {
		return nil, fmt.Errorf("VOIPNOW_MCP_CONFIG or --config is required")
	}

	switch opts.Transport {
	case "stdio", "streamable-http", "sse":
	default:
		return nil, fmt.Errorf("unknown transport %q", opts.Transport)
	}

	switch opts.LogTransport {
	case "console", "syslog":
	default:
		return nil, fmt.Errorf("unknown log transport %q", opts.LogTransport)
	}

	if opts.CachePath == "" {
		if dir, err := os.UserCacheDir(); err == nil {
			opts.CachePath = filepath.Join(dir, "voipnow-mcp", "wsdl.db")
		}
	}

	return opts, nil
}

func run() error {
	opts, err := loadOptions(os.Args[1:])
	if err != nil {
		return err
	}

	logger, level := logging.NewLogger(opts.LogTransport)
	logger.Info("voipnow-mcp starting",
		slog.String("version", Version),
		slog.String("transport", opts.Transport),
		slog.Bool("secure", opts.Secure),
	)

	m := manager.New(opts.ConfigPath, logger, manager.Options{
		Secure:        opts.Secure,
		Level:         level,
		CheckInterval: opts.CheckInterval,
	})

	// The first load is fatal on failure; later reloads keep the
	// previous configuration.
	if err := m.Load(); err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	defer m.Close()

	var cache *soap.Cache
	if opts.CachePath != "" {
		cache, err = soap.OpenCache(opts.CachePath)
		if err != nil {
			logger.Warn("WSDL cache unavailable", slog.String("error", err.Error()))
		} else {
			defer cache.Close()
		}
	}

	tools, err := catalog.Load()
	if err != nil {
		return err
	}

	mcpServer := mcp.NewServer(
		&mcp.Implementation{Name: "voipnow-mcp", Version: Version},
		nil,
	)

	soapClient := soap.New(logger, cache)
	if err := mcpserver.RegisterTools(mcpServer, tools, m.Store(), soapClient, logger); err != nil {
		return err
	}

	logger.Info("registered provisioning tools", slog.Int("count", len(tools)))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)

	// SIGHUP triggers a config reload, same path as a file change.
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)

	g.Go(func() error {
		for {
			select {
			case <-gctx.Done():
				return gctx.Err()
			case <-hup:
				logger.Info("received SIGHUP, reloading")
				m.Reload()
			}
		}
	})

	g.Go(func() error {
		return manager.NewWatcher(m, logger).Watch(gctx)
	})

	if opts.Transport == "stdio" {
		g.Go(func() error {
			return mcpServer.Run(gctx, &mcp.StdioTransport{})
		})
	} else {
		g.Go(func() error {
			return runHTTP(gctx, opts, m, mcpServer, logger)
		})
	}

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}

	return nil
}

// runHTTP serves the MCP endpoints over HTTP until the context is
// cancelled.
func runHTTP(ctx context.Context, opts *options, m *manager.Manager, mcpServer *mcp.Server, logger *slog.Logger) error {
	getServer := func(*http.Request) *mcp.Server { return mcpServer }

	cfg := server.MuxConfig{
		MCPHandler: mcp.NewStreamableHTTPHandler(getServer, nil),
		Tokens:     m.Store(),
		Secure:     opts.Secure,
		Logger:     logger,
	}

	if opts.Transport == "sse" {
		cfg.SSEHandler = mcp.NewSSEHandler(getServer, nil)
	}

	httpServer := &http.Server{
		Addr:        opts.ListenAddr,
		Handler:     server.NewMux(cfg),
		ReadTimeout: 30 * time.Second,
		IdleTimeout: 120 * time.Second,
	}

	go func() {
		<-ctx.Done()
		logger.Info("shutting down HTTP server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		httpServer.Shutdown(shutdownCtx)
	}()

	logger.Info("starting HTTP server", slog.String("listen", opts.ListenAddr))

	if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("HTTP server error: %w", err)
	}

	return nil
}
