// konsole - game server console manager
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

	"github.com/charmbracelet/log"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	flag "github.com/spf13/pflag"

	"github.com/ernie/konsole/internal/api"
	"github.com/ernie/konsole/internal/auth"
	"github.com/ernie/konsole/internal/config"
	"github.com/ernie/konsole/internal/console"
	"github.com/ernie/konsole/internal/maintenance"
	"github.com/ernie/konsole/internal/manager"
	"github.com/ernie/konsole/internal/metrics"
	"github.com/ernie/konsole/internal/relay"
	"github.com/ernie/konsole/internal/storage"
)

var version = "dev"

const defaultConfigPath = "/etc/konsole/config.yml"

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "serve":
		cmdServe(os.Args[2:])
	case "status":
		cmdStatus(os.Args[2:])
	case "start", "stop", "restart":
		cmdAction(os.Args[1], os.Args[2:])
	case "maintenance":
		cmdMaintenance(os.Args[2:])
	case "backups":
		cmdBackups(os.Args[2:])
	case "history":
		cmdHistory(os.Args[2:])
	case "actions":
		cmdActions(os.Args[2:])
	case "login":
		cmdLogin(os.Args[2:])
	case "user":
		cmdUser(os.Args[2:])
	case "version":
		fmt.Printf("konsole %s\n", version)
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println("Usage: konsole <command> [options] [args]")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  serve                               Start the console manager and API server")
	fmt.Println("  status                              Show server, maintenance and manager status")
	fmt.Println("  start [--wait 5m]                   Start the server")
	fmt.Println("  stop [--wait 5m]                    Stop the server (admin)")
	fmt.Println("  restart [--wait 5m]                 Restart the server (admin)")
	fmt.Println("  maintenance on|off                  Switch maintenance mode (admin)")
	fmt.Println("  backups list                        List backups")
	fmt.Println("  backups create [name]               Create a backup (admin)")
	fmt.Println("  backups delete <name>               Delete a backup (admin)")
	fmt.Println("  backups prune                       Delete backups beyond the limit (admin)")
	fmt.Println("  history [--tracker T] [--limit N]   Show recorded status changes")
	fmt.Println("  actions [--action A] [--limit N]    Show the action audit log (admin)")
	fmt.Println("  login <username>                    Log in and store the API token")
	fmt.Println("  user add [--admin] <username>       Add a user (prompts for password)")
	fmt.Println("  user remove <username>              Remove a user")
	fmt.Println("  user list                           List all users")
	fmt.Println("  user reset <username>               Reset a user's password")
	fmt.Println("  user admin <username>               Toggle admin status for a user")
	fmt.Println("  version                             Show version")
	fmt.Println("  help                                Show this help")
	fmt.Println()
	fmt.Println("Global Options:")
	fmt.Println("  --config <path>    Path to configuration file (default /etc/konsole/config.yml)")
	fmt.Println("  --url <url>        Base URL of the konsole server (default: derived from config)")
	fmt.Println()
	fmt.Println("Examples:")
	fmt.Println("  konsole serve --config /etc/konsole/config.yml")
	fmt.Println("  konsole user add --admin myuser")
	fmt.Println("  konsole login myuser")
	fmt.Println("  konsole start --wait 10m")
}

// newLogger builds the process logger from the configured level
func newLogger(level string) (*log.Logger, error) {
	lvl, err := log.ParseLevel(level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", level, err)
	}
	logger := log.NewWithOptions(os.Stderr, log.Options{
		Level:           lvl,
		ReportTimestamp: true,
		TimeFormat:      time.DateTime,
	})
	log.SetDefault(logger)
	return logger, nil
}

// newDriver builds the console driver named in the config
func newDriver(cfg *config.Config) (console.Driver, error) {
	switch cfg.Console.Driver {
	case "simulator":
		return console.NewSimulator(console.SimulatorConfig{
			Username:     cfg.Console.Username,
			Password:     cfg.Console.Password,
			Servers:      []string{cfg.Console.Address},
			MaxPlayers:   cfg.Console.Simulator.MaxPlayers,
			QueueLength:  cfg.Console.Simulator.QueueLength,
			ConfirmPolls: cfg.Console.Simulator.ConfirmPolls,
		}), nil
	}
	return nil, fmt.Errorf("unknown console driver %q", cfg.Console.Driver)
}

// cmdServe starts the console manager and the HTTP API
func cmdServe(args []string) {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	configPath := fs.String("config", "", "path to config file")
	fs.Parse(args)

	// Determine config path
	cfgPath := *configPath
	if cfgPath == "" {
		if _, err := os.Stat(defaultConfigPath); err == nil {
			cfgPath = defaultConfigPath
		} else {
			log.Fatal("no config file found, use --config to specify one", "path", defaultConfigPath)
		}
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatal("failed to load config", "err", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatal("invalid config", "err", err)
	}

	logger, err := newLogger(cfg.Log.Level)
	if err != nil {
		log.Fatal("failed to set up logging", "err", err)
	}
	logger.Info("konsole starting", "version", version, "server", cfg.Console.Address)

	store, err := storage.New(cfg.Database.Path)
	if err != nil {
		logger.Fatal("failed to initialize database", "err", err)
	}
	defer store.Close()
	logger.Info("database initialized", "path", cfg.Database.Path)

	if cfg.Database.HistoryRetention > 0 {
		n, err := store.PruneTransitions(context.Background(), time.Now().Add(-cfg.Database.HistoryRetention))
		if err != nil {
			logger.Warn("failed to prune history", "err", err)
		} else if n > 0 {
			logger.Info("pruned history", "transitions", n)
		}
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	recorder := metrics.NewRecorder(reg)

	driver, err := newDriver(cfg)
	if err != nil {
		logger.Fatal("failed to create console driver", "err", err)
	}

	mgr, err := manager.New(cfg, driver, manager.Options{
		Store:    store,
		Metrics:  recorder,
		FlagFile: maintenance.NewFlagFile(cfg.Maintenance.FlagFile, logger.WithPrefix("maintenance")),
		Logger:   logger,
	})
	if err != nil {
		logger.Fatal("failed to create manager", "err", err)
	}

	authService := auth.NewService(cfg.Auth.JWTSecret, cfg.Auth.TokenDuration)

	router := api.NewRouter(store, mgr, authService, api.Options{
		Metrics:   recorder,
		WaitLimit: cfg.Server.WaitLimit,
		Logger:    logger,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var embedded *relay.Embedded
	var pub *relay.Publisher
	if cfg.NATS.Enabled() {
		url := cfg.NATS.URL
		if cfg.NATS.Embedded {
			port := cfg.NATS.EmbeddedPort
			if port == 0 {
				port = -1
			}
			embedded, err = relay.StartEmbedded(relay.EmbeddedOptions{
				Port:      port,
				JetStream: cfg.NATS.KVBucket != "",
				StoreDir:  cfg.NATS.StoreDir,
			})
			if err != nil {
				logger.Fatal("failed to start embedded NATS server", "err", err)
			}
			url = embedded.ClientURL()
			logger.Info("embedded NATS server started", "url", url)
		}

		pub, err = relay.Connect(ctx, url, relay.Options{
			Prefix:   cfg.NATS.SubjectPrefix,
			KVBucket: cfg.NATS.KVBucket,
			Logger:   logger.WithPrefix("relay"),
		})
		if err != nil {
			logger.Fatal("failed to connect relay", "err", err)
		}
		events, _ := mgr.Subscribe(256)
		go pub.Run(ctx, events)
		logger.Info("relaying events", "url", url, "prefix", cfg.NATS.SubjectPrefix)
	}

	if err := mgr.Start(ctx); err != nil {
		logger.Fatal("failed to start manager", "err", err)
	}
	logger.Info("manager started", "poll_interval", cfg.Console.PollInterval)

	addr := fmt.Sprintf("%s:%d", cfg.Server.ListenAddr, cfg.Server.HTTPPort)
	server := &http.Server{
		Addr:        addr,
		Handler:     router,
		ReadTimeout: 15 * time.Second,
		// actions may hold the response for up to the wait limit
		WriteTimeout: cfg.Server.WaitLimit + 15*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("HTTP server listening", "addr", addr)
		if err := server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	select {
	case sig := <-sigCh:
		logger.Info("shutting down", "signal", sig)
	case err := <-serverErr:
		logger.Fatal("HTTP server error", "err", err)
	}

	// Sequential shutdown
	logger.Info("shutting down HTTP server")
	httpCtx, httpCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer httpCancel()
	if err := server.Shutdown(httpCtx); err != nil {
		logger.Warn("HTTP server shutdown error", "err", err)
	}

	logger.Info("stopping manager")
	mgr.Stop()

	if pub != nil {
		if err := pub.Close(); err != nil {
			logger.Warn("relay close error", "err", err)
		}
	}
	if embedded != nil {
		embedded.Shutdown()
	}

	cancel()
	logger.Info("shutdown complete")
}
