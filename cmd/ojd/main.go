// Command ojd is the minimum wiring that exercises the core engine: load
// config, open the store, build the bus/scheduler/adapters, optionally
// load a runbook, and run until SIGTERM/SIGINT drains every subsystem.
// The CLI argument surface itself is out of scope (spec.md §1); this is
// not a front-end, just enough flags to point the engine at a project.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"oj/internal/adapter"
	"oj/internal/bus"
	"oj/internal/clock"
	"oj/internal/config"
	"oj/internal/engine"
	"oj/internal/lifecycle"
	"oj/internal/logging"
	"oj/internal/runbook"
	"oj/internal/scheduler"
	"oj/internal/store"
	"oj/internal/telemetry"
)

func main() {
	var (
		stateDir    = flag.String("state-dir", "", "Override config state_dir")
		runbookPath = flag.String("runbook", "", "Override config runbook_path")
		configPath  = flag.String("config-dir", ".", "Directory to search for an ojd config file")
	)
	flag.Parse()

	if err := run(*stateDir, *runbookPath, *configPath); err != nil {
		fmt.Fprintf(os.Stderr, "ojd: %v\n", err)
		os.Exit(1)
	}
}

func run(stateDirOverride, runbookOverride, configDir string) error {
	logger := logging.Default("ojd")

	cfg, err := config.Load(configDir)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if stateDirOverride != "" {
		cfg.StateDir = stateDirOverride
	}
	if runbookOverride != "" {
		cfg.RunbookPath = runbookOverride
	}
	if cfg.MachineID == "" {
		if host, err := os.Hostname(); err == nil {
			cfg.MachineID = host
		} else {
			cfg.MachineID = "ojd"
		}
	}

	clk := clock.RealClock{}

	st, err := store.Open(cfg.StateDir, cfg.MachineID, clk)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	b := bus.New(logger)
	auditLog := logging.Default("ojd.events")
	b.SetGlobalHandler(func(ev bus.Event) {
		auditLog.Debug("event: %s %v", ev.Name, ev.Data)
	})

	sched := scheduler.New()
	adapters := adapter.NewFakeSet(clk.Now)
	tel := telemetry.New()

	var rb *runbook.Runbook
	if cfg.RunbookPath != "" {
		data, err := os.ReadFile(cfg.RunbookPath)
		if err != nil {
			return fmt.Errorf("read runbook %s: %w", cfg.RunbookPath, err)
		}
		doc, err := runbook.Parse(data)
		if err != nil {
			return fmt.Errorf("parse runbook %s: %w", cfg.RunbookPath, err)
		}
		rb, err = runbook.Load(doc)
		if err != nil {
			return fmt.Errorf("load runbook %s: %w", cfg.RunbookPath, err)
		}
	}

	opts := engine.DefaultOptions()
	opts.SessionIdleThreshold = cfg.SessionIdleThreshold
	opts.PollInterval = cfg.PollInterval
	opts.SweepInterval = cfg.SweepInterval
	opts.CompactInterval = cfg.CompactInterval
	opts.SnapshotInterval = cfg.SnapshotInterval
	opts.DrainTimeout = cfg.DrainTimeout
	opts.MaxConcurrentEffects = cfg.MaxConcurrentEffects
	opts.Recovery = engine.RecoveryPolicy{
		MaxNudges:       cfg.MaxNudges,
		NudgeCooldown:   cfg.NudgeCooldown,
		MaxRestarts:     cfg.MaxRestarts,
		RestartCooldown: cfg.RestartCooldown,
	}

	eng := engine.New(st, b, sched, adapters, rb, clk, logger, tel, opts)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	runErrCh := make(chan error, 1)
	go func() { runErrCh <- eng.Run(ctx) }()

	<-ctx.Done()
	logger.Info("ojd: shutdown signal received, draining")

	group := lifecycle.NewGroup(logger, cfg.DrainTimeout)
	group.Register(eng)
	group.Register(sched)
	group.Register(b)
	group.Register(st)

	drainCtx, cancel := context.WithTimeout(context.Background(), cfg.DrainTimeout*4)
	defer cancel()
	if errs := group.DrainAll(drainCtx); len(errs) > 0 {
		return fmt.Errorf("drain: %v", errs)
	}

	if err := <-runErrCh; err != nil && err != context.Canceled {
		logger.Warn("ojd: engine run returned: %v", err)
	}
	return nil
}
