// Command claudeminerd runs the ClaudeMiner daemon: three producers
// (ProcessScanner, LogWatcher, HookReceiver) feeding a single Coordinator,
// which maintains the session store and drives the sinks (WebSocket
// broadcaster/HTTP server, notifier), plus the SessionCleaner fed by the
// Coordinator, the HTTP kill route, and its own periodic timer.
// Grounded on cmd/server/main.go's flag/signal/wiring shape, repointed at
// the lifecycle components instead of the teacher's gamification/frontend
// stack.
package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/juki-j/claudeminer/internal/cleaner"
	"github.com/juki-j/claudeminer/internal/config"
	"github.com/juki-j/claudeminer/internal/coordinator"
	"github.com/juki-j/claudeminer/internal/hookreceiver"
	"github.com/juki-j/claudeminer/internal/hooks"
	"github.com/juki-j/claudeminer/internal/logwatcher"
	"github.com/juki-j/claudeminer/internal/scanner"
	"github.com/juki-j/claudeminer/internal/session"
	"github.com/juki-j/claudeminer/internal/sinks"
)

func main() {
	configPath := flag.String("config", "", "Path to config file (defaults to the XDG claudeminer/config.yaml)")
	port := flag.Int("port", 0, "Override server port")
	noHooks := flag.Bool("no-hooks", false, "Skip installing Claude Code hooks at startup")
	flag.Parse()

	cfgPath := *configPath
	if cfgPath == "" {
		cfgPath = config.DefaultConfigPath()
	}

	cfg, err := config.LoadOrDefault(cfgPath)
	if err != nil {
		log.Fatalf("loading config: %v", err)
	}
	if *port > 0 {
		cfg.Server.Port = *port
	}
	if *noHooks {
		cfg.Hooks.Enabled = false
	}

	logger := log.Default()

	store := session.NewStore()
	events := make(chan session.MonitorEvent, 256)
	cleanupEvents := make(chan cleaner.CleanupEvent, 64)

	notifier := sinks.NewLogNotifier(logger)
	broadcaster := sinks.NewBroadcaster(store, cfg.Server.SnapshotInterval, cfg.Server.MaxConnections, scanner.MemoryBytes, logger)
	defer broadcaster.Stop()

	pidCache := coordinator.NewPIDCache(cfg.Debug.Dir)
	coord := coordinator.New(store, cleanupEvents, broadcaster, notifier, pidCache, scanner.ProcessAlive, scanner.ProbeTerminal, logger)

	clean := cleaner.New(store, scanner.ProcessAlive, logger)

	httpServer := sinks.NewServer(store, broadcaster, cleanupEvents, sinks.KillPID, notifier, cfg.Server.AllowedOrigins, cfg.Server.AuthToken, logger)
	mux := http.NewServeMux()
	httpServer.SetupRoutes(mux)

	if cfg.Hooks.Enabled {
		hookMgr := hooks.New(cfg.Hooks.SettingsPath, cfg.Pipe.Path, logger)
		if err := hookMgr.EnsureRegistered(); err != nil {
			logger.Printf("[claudeminerd] installing hooks: %v", err)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var wg sync.WaitGroup
	runProducer(ctx, &wg, "coordinator", func(ctx context.Context) error {
		coord.Run(ctx, events)
		return nil
	})
	runProducer(ctx, &wg, "process-scanner", producerFromVoid(cfg.Scanner, events, logger))
	runProducer(ctx, &wg, "log-watcher", func(ctx context.Context) error {
		return logwatcher.New(cfg.Debug, cfg.LogWatch, events, logger).Run(ctx)
	})
	runProducer(ctx, &wg, "hook-receiver", func(ctx context.Context) error {
		return hookreceiver.New(cfg.Pipe, events, notifier, logger).Run(ctx)
	})
	runProducer(ctx, &wg, "cleaner", func(ctx context.Context) error {
		clean.Run(ctx, cleanupEvents)
		return nil
	})
	runProducer(ctx, &wg, "cleaner-timer", func(ctx context.Context) error {
		cleaner.StartPeriodicTimer(ctx, cleanupEvents, cfg.Cleaner.TimerInterval)
		return nil
	})

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
	go func() {
		for sig := range sigCh {
			if sig == syscall.SIGHUP {
				reloaded, err := config.Load(cfgPath)
				if err != nil {
					logger.Printf("[claudeminerd] reloading config: %v", err)
					continue
				}
				for _, change := range config.Diff(cfg, reloaded) {
					logger.Printf("[claudeminerd] config changed: %s", change)
				}
				logger.Printf("[claudeminerd] config reloaded from %s; restart the daemon to apply producer cadence changes", cfgPath)
				cfg = reloaded
				continue
			}
			logger.Printf("[claudeminerd] received %s, shutting down", sig)
			cancel()
			wg.Wait()
			os.Exit(0)
		}
	}()

	logger.Printf("[claudeminerd] starting HTTP/WS server on %s:%d", cfg.Server.Host, cfg.Server.Port)
	if err := sinks.ListenAndServe(cfg.Server.Host, cfg.Server.Port, mux, logger); err != nil {
		logger.Fatalf("server error: %v", err)
	}
}

// runProducer launches fn in its own goroutine tracked by wg, logging a
// single line on exit so a crashed producer is visible without killing the
// daemon; producers themselves already loop until ctx is cancelled.
func runProducer(ctx context.Context, wg *sync.WaitGroup, name string, fn func(context.Context) error) {
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := fn(ctx); err != nil {
			log.Printf("[claudeminerd] %s exited: %v", name, err)
		}
	}()
}

// producerFromVoid adapts Scanner.Run, which has no error return, to the
// (context.Context) error shape every other producer uses.
func producerFromVoid(cfg config.ScannerConfig, events chan<- session.MonitorEvent, logger *log.Logger) func(context.Context) error {
	return func(ctx context.Context) error {
		scanner.New(cfg, events, logger).Run(ctx)
		return nil
	}
}
