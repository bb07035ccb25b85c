package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"github.com/cjeanneret/RollGo/internal/config"
	"github.com/cjeanneret/RollGo/internal/debug"
	"github.com/cjeanneret/RollGo/internal/web"
)

func main() {
	// CLI flags
	webPort := &webPortFlag{defaultPort: 8080}
	flag.Var(webPort, "web", "start web server on port; -web= for default 8080, -web 8980 for custom port")
	cfgPath := flag.String("config", filepath.Join("configs", "default.yaml"), "path to config file")
	interval := flag.Duration("interval", 0, "override capture interval (e.g. 2s); 0 keeps the config value")
	persist := &boolOverride{}
	flag.Var(persist, "persist", "override capture.persist (true or false)")
	flag.Parse()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, *cfgPath, *interval, persist, webPort.port()); err != nil {
		log.Fatalf("rollgo: %v", err)
	}
}

func run(ctx context.Context, cfgPath string, interval time.Duration, persist *boolOverride, port int) error {
	if err := config.ValidateConfigPath(cfgPath); err != nil {
		return fmt.Errorf("invalid config path: %w", err)
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("load config failed: %w", err)
	}
	if err := validateCLIOverrides(interval); err != nil {
		return fmt.Errorf("invalid CLI override: %w", err)
	}
	applyOverrides(cfg, interval, persist)
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	// Initialize debug system
	debug.Init(cfg.Defaults.DebugLevel)
	debug.Section("Initialization")
	debug.Value("Config path", cfgPath)
	debug.Value("Debug level", cfg.Defaults.DebugLevel)

	if port > 0 {
		broadcaster := web.NewStatusBroadcaster()
		debug.SetOutput(io.MultiWriter(os.Stdout, web.BroadcastWriter(broadcaster)))

		a, err := newApp(cfg, broadcaster.OnEvent)
		if err != nil {
			return err
		}
		defer a.Close()

		srv, err := web.NewServer(fmt.Sprintf(":%d", port), broadcaster, a.ctrl, a.latest, a.frameIndex())
		if err != nil {
			return err
		}
		return srv.Run(ctx)
	}

	a, err := newApp(cfg)
	if err != nil {
		return err
	}
	defer a.Close()
	return runConsole(ctx, a.ctrl, os.Stdin, os.Stdout)
}

// validateCLIOverrides checks the CLI overrides. A zero interval means
// "use config default".
func validateCLIOverrides(interval time.Duration) error {
	if interval < 0 {
		return fmt.Errorf("interval must be positive, got %v", interval)
	}
	if interval > 0 && interval < time.Millisecond {
		return fmt.Errorf("interval must be at least 1ms, got %v", interval)
	}
	return nil
}

// applyOverrides mutates cfg with the CLI overrides that were given.
func applyOverrides(cfg *config.Config, interval time.Duration, persist *boolOverride) {
	if interval > 0 {
		cfg.Capture.IntervalMs = int(interval / time.Millisecond)
	}
	if persist != nil && persist.set {
		cfg.Capture.Persist = persist.val
	}
}

// webPortFlag implements flag.Value for -web: 0 = disabled, -web= or -web 8080 → 8080, -web 8980 → 8980.
type webPortFlag struct {
	val         int
	defaultPort int
}

func (w *webPortFlag) String() string {
	if w.val == 0 {
		return "0"
	}
	return strconv.Itoa(w.val)
}

func (w *webPortFlag) Set(s string) error {
	if s == "" {
		w.val = w.defaultPort
		return nil
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return err
	}
	if v <= 0 || v > 65535 {
		return fmt.Errorf("port must be 1-65535, got %d", v)
	}
	w.val = v
	return nil
}

func (w *webPortFlag) port() int { return w.val }

// boolOverride is a bool flag that remembers whether it was given at all.
type boolOverride struct {
	val bool
	set bool
}

func (b *boolOverride) String() string {
	if !b.set {
		return ""
	}
	return strconv.FormatBool(b.val)
}

func (b *boolOverride) Set(s string) error {
	v, err := strconv.ParseBool(s)
	if err != nil {
		return err
	}
	b.val, b.set = v, true
	return nil
}

// IsBoolFlag lets "-persist" alone mean "-persist=true".
func (b *boolOverride) IsBoolFlag() bool { return true }
