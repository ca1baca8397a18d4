// Command turnbased-match-server runs the turn-based match server.
//
// It supports three commands:
//  1. "serve" (default) – runs the HTTP server exposing REST API, WebSocket, and an /mcp HTTP endpoint
//  2. "mcp" – runs an MCP stdio server and spins up an internal HTTP API if none is available
//  3. "validate" – checks the game definitions of a config directory
//
// Process settings come from TURNENGINE_* environment variables (a .env file
// is loaded first); flags override them. ngrok tunneling is available for
// easy external access during development.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/mark3labs/mcp-go/server"
	"github.com/urfave/cli/v3"
	"golang.ngrok.com/ngrok"
	ngrokConfig "golang.ngrok.com/ngrok/config"

	"github.com/wricardo/turnbased-match-server/api"
	"github.com/wricardo/turnbased-match-server/game/config"
	"github.com/wricardo/turnbased-match-server/game/lifecycle"
	"github.com/wricardo/turnbased-match-server/game/service"
	"github.com/wricardo/turnbased-match-server/game/store"
	"github.com/wricardo/turnbased-match-server/game/store/redisstore"
	"github.com/wricardo/turnbased-match-server/game/store/sqlite"
	"github.com/wricardo/turnbased-match-server/internal/telemetry"
	"github.com/wricardo/turnbased-match-server/transport/mcp"
	"github.com/wricardo/turnbased-match-server/transport/websocket"
	"github.com/wricardo/turnbased-match-server/validate"
)

// Version information
const (
	Version = "1.0.0"
	AppName = "Turn-Based Match Server"
)

func main() {
	// Load .env file if it exists (ignore error if not found)
	if err := godotenv.Load(); err != nil {
		if !os.IsNotExist(err) {
			log.Printf("Warning: Error loading .env file: %v", err)
		}
	} else {
		log.Println("Loaded environment variables from .env file")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newCommand().Run(ctx, os.Args); err != nil {
		log.Fatal(err)
	}
}

// newCommand builds the command tree.
func newCommand() *cli.Command {
	return &cli.Command{
		Name:           "turnbased-match-server",
		Usage:          AppName,
		Version:        Version,
		DefaultCommand: "serve",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:    "debug",
				Usage:   "Enable debug logging",
				Sources: cli.EnvVars(config.EnvPrefix + "DEBUG"),
			},
			&cli.StringFlag{
				Name:    "config-dir",
				Usage:   "Directory containing game definitions",
				Value:   "configs",
				Sources: cli.EnvVars(config.EnvPrefix+"CONFIG_DIR", "CONFIG_DIR"),
			},
		},
		Before: func(ctx context.Context, cmd *cli.Command) (context.Context, error) {
			if cmd.Bool("debug") {
				log.SetFlags(log.LstdFlags | log.Lshortfile)
			} else {
				log.SetFlags(log.LstdFlags)
			}
			return ctx, nil
		},
		Commands: []*cli.Command{
			{
				Name:  "serve",
				Usage: "Run HTTP server with API, WebSocket, and MCP endpoint",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "addr", Usage: "HTTP listen address (overrides " + config.EnvPrefix + "ADDR)"},
					&cli.StringFlag{Name: "store", Usage: "Store driver: memory, file, sqlite or redis"},
					&cli.BoolFlag{Name: "ngrok", Usage: "Enable ngrok tunnel", Sources: cli.EnvVars("NGROK_ENABLED")},
					&cli.StringFlag{Name: "ngrok-auth", Usage: "Ngrok auth token", Sources: cli.EnvVars("NGROK_AUTHTOKEN", "NGROK_AUTH_TOKEN")},
					&cli.StringFlag{Name: "ngrok-domain", Usage: "Custom ngrok domain (optional)", Sources: cli.EnvVars("NGROK_DOMAIN")},
				},
				Action: runServe,
			},
			{
				Name:    "mcp",
				Aliases: []string{"stdio-mcp", "mcp-stdio"},
				Usage:   "Run MCP stdio server, reusing or starting an HTTP API",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "api-url", Usage: "External API to proxy to", Value: "http://localhost:8080"},
				},
				Action: runStdioMCP,
			},
			{
				Name:      "validate",
				Usage:     "Validate the game definitions of the config directory",
				ArgsUsage: "[dir]",
				Action:    runValidate,
			},
		},
	}
}

// loadConfig reads the environment and applies the flags that override it.
func loadConfig(cmd *cli.Command) (config.ServerConfig, error) {
	cfg, err := config.LoadServerConfig()
	if err != nil {
		return cfg, err
	}
	if cmd.IsSet("config-dir") {
		cfg.ConfigDir = cmd.String("config-dir")
	}
	if cmd.IsSet("addr") {
		cfg.Addr = cmd.String("addr")
	}
	if cmd.IsSet("store") {
		cfg.Store = cmd.String("store")
	}
	if cmd.Bool("debug") {
		cfg.Debug = true
	}
	return cfg, cfg.Validate()
}

// services is everything a running server owns.
type services struct {
	game  service.GameService
	hub   *websocket.Hub
	close func()
}

// initializeServices opens the configured store, builds the game registry
// from the config directory and wires the game service. Background loops
// stop when ctx is done.
func initializeServices(ctx context.Context, cfg config.ServerConfig) (*services, error) {
	configManager, err := config.NewManager(cfg.ConfigDir)
	if err != nil {
		return nil, fmt.Errorf("failed to create config manager: %w", err)
	}
	registry, err := configManager.BuildRegistry()
	if err != nil {
		return nil, fmt.Errorf("failed to build game registry: %w", err)
	}
	log.Printf("Loaded games: %v", registry.GameIDs())

	kv, dispatcher, closeStore, err := openStore(ctx, cfg)
	if err != nil {
		return nil, err
	}

	hub := websocket.NewHub()
	go hub.Run(ctx)

	deps := service.NewDeps(service.Options{
		Store:            kv,
		Registry:         registry,
		Games:            configManager,
		Dispatcher:       dispatcher,
		Notifier:         hub,
		RejectDuplicates: cfg.RejectDuplicates,
	})

	return &services{
		game:  service.NewGameService(deps),
		hub:   hub,
		close: closeStore,
	}, nil
}

// openStore returns the KV backend and the lifecycle dispatcher that fits
// it. Redis shares due checks between processes through its delay queue;
// every other backend uses in-process timers.
func openStore(ctx context.Context, cfg config.ServerConfig) (store.KV, lifecycle.Dispatcher, func(), error) {
	switch cfg.Store {
	case config.StoreFile:
		fs, err := store.NewFileStore(cfg.DataDir)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("failed to open file store: %w", err)
		}
		log.Printf("Using file store in %s", cfg.DataDir)
		return withLocalDispatcher(fs)

	case config.StoreSQLite:
		if err := os.MkdirAll(filepath.Dir(cfg.SQLitePath), 0755); err != nil {
			return nil, nil, nil, fmt.Errorf("failed to create sqlite directory: %w", err)
		}
		db, err := sqlite.Open(cfg.SQLitePath)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("failed to open sqlite store: %w", err)
		}
		log.Printf("Using sqlite store at %s", cfg.SQLitePath)
		return withLocalDispatcher(db)

	case config.StoreRedis:
		opened, err := redisstore.Open(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("failed to open redis store: %w", err)
		}
		rs := redisstore.New(opened.Client(), cfg.RedisPrefix)
		queue := redisstore.NewDelayQueue(rs.Client(), cfg.RedisPrefix, cfg.PollInterval)
		go func() {
			if err := queue.Run(ctx); err != nil && ctx.Err() == nil {
				log.Printf("Lifecycle queue stopped: %v", err)
			}
		}()
		log.Printf("Using redis store at %s (prefix %s)", cfg.RedisAddr, cfg.RedisPrefix)
		return rs, queue, func() {
			if err := rs.Close(); err != nil {
				log.Printf("Failed to close redis store: %v", err)
			}
		}, nil
	}

	log.Println("Using in-memory store; sessions are lost on restart")
	return withLocalDispatcher(store.NewMemoryStore())
}

func withLocalDispatcher(kv store.KV) (store.KV, lifecycle.Dispatcher, func(), error) {
	dispatcher := lifecycle.NewLocalDispatcher(30 * time.Second)
	return kv, dispatcher, func() {
		dispatcher.Close()
		if err := kv.Close(); err != nil {
			log.Printf("Failed to close store: %v", err)
		}
	}, nil
}

// runServe starts the HTTP server with REST API, WebSocket hub, and an /mcp
// proxy endpoint. If ngrok is enabled it also provisions a public tunnel.
func runServe(ctx context.Context, cmd *cli.Command) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	log.Printf("Starting %s v%s", AppName, Version)

	shutdownTracing, err := telemetry.Setup(ctx, cfg.OTLPEndpoint, telemetry.ServiceName)
	if err != nil {
		log.Printf("Warning: tracing disabled: %v", err)
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(flushCtx); err != nil {
			log.Printf("Tracing shutdown error: %v", err)
		}
	}()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	svcs, err := initializeServices(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize services: %w", err)
	}
	defer svcs.close()

	apiServer := api.NewServer(svcs.game, svcs.hub)

	// Create MCP client for /mcp endpoint
	mcpClient := mcp.NewClient(localURL(cfg.Addr))

	// Create main router that combines API and MCP
	mainRouter := http.NewServeMux()
	mainRouter.Handle("/", apiServer)
	mainRouter.HandleFunc("/mcp", mcpHandler(mcpClient))

	httpServer := &http.Server{
		Addr:         cfg.Addr,
		Handler:      mainRouter,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	var wg sync.WaitGroup
	serveErr := make(chan error, 1)

	wg.Add(1)
	go func() {
		defer wg.Done()

		log.Printf("HTTP server listening on %s", cfg.Addr)
		log.Printf("REST API: %s/api", localURL(cfg.Addr))
		log.Printf("WebSocket: ws://%s/ws?session=<session_id>", hostPort(cfg.Addr))
		log.Printf("MCP endpoint: %s/mcp", localURL(cfg.Addr))

		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serveErr <- fmt.Errorf("HTTP server failed: %w", err)
		}
	}()

	if cmd.Bool("ngrok") {
		wg.Add(1)
		go func() {
			defer wg.Done()
			runNgrok(ctx, cmd.String("ngrok-auth"), cmd.String("ngrok-domain"), mainRouter)
		}()
	}

	select {
	case <-ctx.Done():
		log.Println("Shutting down...")
	case err = <-serveErr:
	}
	cancel()

	// Graceful shutdown with timeout
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Printf("HTTP server shutdown error: %v", err)
	}

	wg.Wait()
	log.Println("Server stopped")
	return err
}

// mcpHandler serves MCP JSON-RPC messages over plain HTTP POST.
func mcpHandler(client *mcp.Client) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != "POST" {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}

		body, err := io.ReadAll(r.Body)
		if err != nil {
			http.Error(w, "Failed to read request", http.StatusBadRequest)
			return
		}
		defer r.Body.Close()

		response := client.GetMCPServer().HandleMessage(r.Context(), body)

		w.Header().Set("Content-Type", "application/json")
		responseData, err := json.Marshal(response)
		if err != nil {
			http.Error(w, "Failed to marshal response", http.StatusInternalServerError)
			return
		}
		w.Write(responseData)
	}
}

// runNgrok serves handler through an ngrok tunnel until ctx is done.
func runNgrok(ctx context.Context, authToken, domain string, handler http.Handler) {
	if authToken == "" {
		log.Println("WARNING: Ngrok enabled but no auth token provided (use --ngrok-auth, NGROK_AUTHTOKEN, or NGROK_AUTH_TOKEN env var)")
		return
	}

	log.Println("Starting ngrok tunnel...")

	var tunnel ngrokConfig.Tunnel
	if domain != "" {
		tunnel = ngrokConfig.HTTPEndpoint(ngrokConfig.WithDomain(domain))
		log.Printf("Using custom ngrok domain: %s", domain)
	} else {
		tunnel = ngrokConfig.HTTPEndpoint()
	}

	tun, err := ngrok.Listen(ctx, tunnel, ngrok.WithAuthtoken(authToken))
	if err != nil {
		log.Printf("Failed to start ngrok tunnel: %v", err)
		return
	}
	defer func() {
		if err := tun.Close(); err != nil {
			log.Printf("Failed to close ngrok tunnel: %v", err)
		}
	}()

	ngrokURL := tun.URL()
	log.Printf("🚀 Ngrok tunnel established: %s", ngrokURL)
	log.Printf("  REST API (ngrok): %s/api", ngrokURL)
	log.Printf("  WebSocket (ngrok): %s/ws?session=<session_id>", ngrokURL)
	log.Printf("  MCP endpoint (ngrok): %s/mcp", ngrokURL)

	srv := &http.Server{Handler: handler}
	go func() {
		<-ctx.Done()
		srv.Close()
	}()
	if err := srv.Serve(tun); err != nil && err != http.ErrServerClosed {
		log.Printf("Ngrok server error: %v", err)
	}
	log.Println("Ngrok tunnel closed")
}

// runStdioMCP runs an MCP stdio server. It reuses an external API when one
// answers; otherwise it starts an internal HTTP API on a random loopback
// port and targets that.
func runStdioMCP(ctx context.Context, cmd *cli.Command) error {
	externalURL := cmd.String("api-url")
	baseURL := externalURL

	log.Printf("Checking for external API server at %s...", externalURL)
	testClient := &http.Client{Timeout: 2 * time.Second}
	resp, err := testClient.Get(externalURL + "/health")
	if err == nil && resp.StatusCode < 500 {
		resp.Body.Close()
		log.Printf("External API server found at %s, using it for MCP", externalURL)
	} else {
		log.Printf("No external API server found, starting internal HTTP server")

		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		svcs, err := initializeServices(ctx, cfg)
		if err != nil {
			return fmt.Errorf("failed to initialize services: %w", err)
		}
		defer svcs.close()

		listener, err := net.Listen("tcp", "127.0.0.1:0")
		if err != nil {
			return fmt.Errorf("failed to get available port: %w", err)
		}
		internalAddr := listener.Addr().String()
		log.Printf("Starting internal HTTP server on %s for MCP stdio", internalAddr)

		httpServer := &http.Server{Handler: api.NewServer(svcs.game, svcs.hub)}
		go func() {
			if err := httpServer.Serve(listener); err != nil && err != http.ErrServerClosed {
				log.Printf("Internal HTTP server error: %v", err)
			}
		}()
		defer httpServer.Close()

		baseURL = "http://" + internalAddr
	}

	mcpClient := mcp.NewClient(baseURL)
	log.Printf("MCP stdio server ready (API at %s)", baseURL)

	if err := server.ServeStdio(mcpClient.GetMCPServer()); err != nil {
		return fmt.Errorf("MCP stdio server error: %w", err)
	}
	return nil
}

// runValidate checks the game definitions and fails when any is invalid.
func runValidate(ctx context.Context, cmd *cli.Command) error {
	dir := cmd.String("config-dir")
	if cmd.Args().Len() > 0 {
		dir = cmd.Args().First()
	}

	results, err := validate.ValidateDir(dir)
	if err != nil {
		return err
	}
	if !validate.Report(os.Stdout, results) {
		return cli.Exit("", 1)
	}
	return nil
}

// hostPort turns a listen address into one a local client can dial.
func hostPort(addr string) string {
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return addr
	}
	if host == "" || host == "0.0.0.0" || host == "::" {
		host = "localhost"
	}
	return net.JoinHostPort(host, port)
}

func localURL(addr string) string {
	return "http://" + hostPort(addr)
}
