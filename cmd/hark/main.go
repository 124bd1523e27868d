// Command hark listens for a wake word and answers the spoken command that
// follows it.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync/atomic"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/hark/internal/config"
	"github.com/MrWong99/hark/internal/health"
	"github.com/MrWong99/hark/internal/observe"
	"github.com/MrWong99/hark/pkg/audio/miniaudio"
)

// version is overridden at link time with -ldflags "-X main.version=...".
var version = "dev"

// shutdownTimeout bounds the graceful shutdown after a signal.
const shutdownTimeout = 15 * time.Second

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "hark.yaml", "path to the YAML or TOML configuration file")
	listDevices := flag.Bool("list-devices", false, "print the capture devices and exit")
	headless := flag.Bool("headless", false, "log replies instead of playing them")
	flag.Parse()

	if *listDevices {
		return printDevices()
	}

	// ── Load configuration ────────────────────────────────────────────────────
	var (
		level  slog.LevelVar
		active atomic.Pointer[pipeline]
	)
	watcher, err := config.NewWatcher(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "hark: config file %q not found; copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "hark: %v\n", err)
		}
		return 1
	}
	cfg := watcher.Current()

	// ── Logger ────────────────────────────────────────────────────────────────
	level.Set(slogLevel(cfg.Server.LogLevel))
	slog.SetDefault(newLogger(cfg.Server.LogFormat, &level))

	slog.Info("hark starting",
		"version", version,
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
	)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Observability ─────────────────────────────────────────────────────────
	telemetry, err := observe.Setup(observe.TelemetryConfig{
		ServiceName:    "hark",
		ServiceVersion: version,
		RuntimeMetrics: true,
	})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := telemetry.Shutdown(sctx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()

	// ── Pipeline ──────────────────────────────────────────────────────────────
	mux := http.NewServeMux()
	p, err := buildPipeline(ctx, cfg, config.NewRegistry(), mux, options{headless: *headless})
	if err != nil {
		slog.Error("failed to build pipeline", "err", err)
		return 1
	}
	active.Store(p)

	printStartupSummary(cfg, p)

	health.New(p.checks).Register(mux)
	mux.Handle("GET /metrics", telemetry.Handler())

	// ── Run ───────────────────────────────────────────────────────────────────
	g, gctx := errgroup.WithContext(ctx)

	var srv *http.Server
	if cfg.Server.ListenAddr != "" {
		srv = &http.Server{
			Addr:              cfg.Server.ListenAddr,
			Handler:           observe.Middleware(observe.DefaultMetrics())(mux),
			ReadHeaderTimeout: 10 * time.Second,
		}
		g.Go(func() error {
			slog.Info("http listener started", "addr", srv.Addr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("http server: %w", err)
			}
			return nil
		})
	}

	if err := p.detector.Start(gctx, p.onWake); err != nil {
		slog.Error("failed to start detector", "err", err)
		_ = p.close(context.Background())
		return 1
	}
	g.Go(func() error {
		return p.detector.Wait()
	})

	// Edits to the config file are picked up by polling; SIGHUP reloads at
	// once.
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)
	g.Go(func() error {
		for {
			select {
			case <-gctx.Done():
				return nil
			case <-hup:
				watcher.Kick()
			}
		}
	})
	g.Go(func() error {
		return watcher.Run(gctx, func(old, new *config.Config) {
			applyReload(&level, active.Load(), old, new)
		})
	})

	slog.Info("listening for the wake word; press Ctrl+C to shut down")

	// Either a signal arrives or a component fails; both end the run.
	<-gctx.Done()

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	slog.Info("shutdown signal received, stopping…")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	code := 0
	if srv != nil {
		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Warn("http shutdown error", "err", err)
		}
	}
	active.Store(nil)
	if err := p.close(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
		code = 1
	}
	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("run error", "err", err)
		code = 1
	}
	if code == 0 {
		slog.Info("goodbye")
	}
	return code
}

// applyReload applies the live subset of a config change and warns about
// the rest.
func applyReload(level *slog.LevelVar, p *pipeline, old, new *config.Config) {
	diff := config.Diff(old, new)
	if diff.Empty() {
		return
	}
	if diff.LogLevelChanged {
		level.Set(slogLevel(diff.NewLogLevel))
		slog.Info("log level changed", "level", diff.NewLogLevel)
	}
	if diff.AssistantChanged && p != nil && p.assistant != nil {
		earcon, err := loadEarcon(new.Assistant.Earcon)
		if err != nil {
			slog.Warn("earcon disabled", "err", err)
			earcon = nil
		}
		p.assistant.UpdateConfig(new.Assistant, earcon)
		slog.Info("assistant settings reloaded")
	}
	if len(diff.RestartRequired) > 0 {
		slog.Warn("config changes require a restart", "sections", strings.Join(diff.RestartRequired, ", "))
	}
}

// printDevices lists the capture devices miniaudio can open.
func printDevices() int {
	devices, err := miniaudio.ListDevices()
	if err != nil {
		fmt.Fprintf(os.Stderr, "hark: %v\n", err)
		return 1
	}
	for _, d := range devices {
		marker := " "
		if d.IsDefault {
			marker = "*"
		}
		fmt.Printf("%s %s\n", marker, d.Name)
	}
	return 0
}

// ── Startup summary ───────────────────────────────────────────────────────────

func printStartupSummary(cfg *config.Config, p *pipeline) {
	fmt.Println("╔═══════════════════════════════════════╗")
	fmt.Println("║          hark · startup summary       ║")
	fmt.Println("╠═══════════════════════════════════════╣")
	printProvider("Source", cfg.Audio.Source.Name, "")
	printProvider("VAD", cfg.WakeWord.VAD.Name, "")
	printProvider("KWS", cfg.WakeWord.KWS.Name, strings.Join(cfg.WakeWord.KWS.Keywords, ","))
	printProvider("STT", cfg.Providers.STT.Name, cfg.Providers.STT.Model)
	printProvider("LLM", cfg.Providers.LLM.Name, cfg.Providers.LLM.Model)
	printProvider("TTS", cfg.Providers.TTS.Name, cfg.Providers.TTS.Model)
	fmt.Printf("║  Tools           : %-19d ║\n", len(p.tools.Schemas()))
	fmt.Printf("║  MCP servers     : %-19d ║\n", len(cfg.Tools.MCP))
	if p.journal != nil {
		fmt.Printf("║  Journal         : %-19s ║\n", "postgres")
	} else {
		fmt.Printf("║  Journal         : %-19s ║\n", "(disabled)")
	}
	if cfg.Server.ListenAddr != "" {
		fmt.Printf("║  Listen addr     : %-19s ║\n", cfg.Server.ListenAddr)
	}
	fmt.Println("╚═══════════════════════════════════════╝")
}

func printProvider(kind, name, model string) {
	value := name
	if value == "" {
		value = "(not configured)"
	} else if model != "" {
		value = name + " / " + model
	}
	if len(value) > 19 {
		value = value[:16] + "…"
	}
	fmt.Printf("║  %-12s    : %-19s ║\n", kind, value)
}

// ── Logger ─────────────────────────────────────────────────────────────────────

func slogLevel(level config.LogLevel) slog.Level {
	switch level {
	case config.LogDebug:
		return slog.LevelDebug
	case config.LogWarn:
		return slog.LevelWarn
	case config.LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func newLogger(format config.LogFormat, level slog.Leveler) *slog.Logger {
	opts := &slog.HandlerOptions{Level: level}
	if format == config.LogFormatJSON {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}
