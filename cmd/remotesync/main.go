package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alexjbarnes/remotesync/internal/config"
	"github.com/alexjbarnes/remotesync/internal/engine"
	syncerrors "github.com/alexjbarnes/remotesync/internal/errors"
	"github.com/alexjbarnes/remotesync/internal/logging"
	"github.com/alexjbarnes/remotesync/internal/remote"
	"github.com/alexjbarnes/remotesync/internal/state"
)

var Version = "dev"

func main() {
	mode := "sync"
	if len(os.Args) > 1 {
		mode = os.Args[1]
	}

	if err := run(mode); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(mode string) error {
	switch mode {
	case "sync", "plan", "prune":
	default:
		return fmt.Errorf("unknown mode %q (expected sync, plan, or prune)", mode)
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger := logging.NewLogger(cfg.Environment)
	logger.Info("remotesync starting",
		slog.String("version", Version),
		slog.String("mode", mode),
		slog.String("service", cfg.ServiceType),
		slog.String("sync_dir", cfg.SyncDir),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	ledger, err := openLedger(cfg)
	if err != nil {
		return fmt.Errorf("loading state: %w", err)
	}
	defer ledger.Close()

	profileID := engine.ProfileID(cfg.ServiceType)
	if err := ledger.InitProfile(profileID); err != nil {
		return fmt.Errorf("initializing profile %s: %w", profileID, err)
	}

	if mode == "prune" {
		return runPrune(cfg, ledger, profileID, logger)
	}

	runner, vault, err := buildRunner(cfg, ledger, logger)
	if err != nil {
		return err
	}

	if mode == "plan" {
		return runPlan(ctx, runner)
	}

	return runSync(ctx, cfg, runner, vault, logger)
}

func openLedger(cfg *config.Config) (*state.State, error) {
	if cfg.StateDB != "" {
		return state.LoadAt(cfg.StateDB)
	}

	return state.Load()
}

func buildRunner(cfg *config.Config, ledger *state.State, logger *slog.Logger) (*engine.Runner, *engine.Vault, error) {
	remoteClient, err := remote.New(cfg.ServiceType, cfg.RemoteDir)
	if err != nil {
		return nil, nil, fmt.Errorf("creating remote client: %w", err)
	}

	logger.Info("deriving encryption key", slog.String("method", string(cfg.EncryptionMethod)))

	cipher, err := engine.NewCipher(cfg.EncryptionMethod, cfg.Password, cfg.EncryptionSalt)
	if err != nil {
		return nil, nil, fmt.Errorf("creating cipher: %w", err)
	}

	vault, err := engine.NewVault(cfg.SyncDir)
	if err != nil {
		return nil, nil, fmt.Errorf("opening sync root: %w", err)
	}

	runner := engine.NewRunner(vault, remoteClient, cipher, engine.NewVaultTrash(vault), ledger, engine.RunnerOptions{
		ServiceType:             cfg.ServiceType,
		Assemble:                cfg.AssembleOptions(),
		ConflictAction:          cfg.ConflictAction,
		Direction:               cfg.SyncDirection,
		EmptyFolderPolicy:       cfg.EmptyFolderPolicy,
		SkipSizeLargerThan:      cfg.SkipSizeLargerThan,
		Concurrency:             cfg.Concurrency,
		ProtectModifyPercentage: cfg.ProtectModifyPercentage,
		OnProgress: func(done, total int, key string, decision engine.Decision) {
			logger.Debug("progress",
				slog.Int("done", done),
				slog.Int("total", total),
				slog.String("key", key),
				slog.String("decision", string(decision)),
			)
		},
		Logger: logger,
	})

	return runner, vault, nil
}

// runPlan prints the plan a sync would execute without touching
// anything.
func runPlan(ctx context.Context, runner *engine.Runner) error {
	plan, err := runner.DryRun(ctx, "manual")
	if err != nil {
		return err
	}

	for _, a := range plan.Actions {
		fmt.Printf("%-22s %-50s %s\n", a.Decision, a.Key, a.Reason)
	}

	fmt.Printf("\n%d actions\n", len(plan.Actions))

	return nil
}

// runPrune sweeps plan history older than the retention window.
func runPrune(cfg *config.Config, ledger *state.State, profileID string, logger *slog.Logger) error {
	cutoff := time.Now().AddDate(0, 0, -cfg.HistoryRetentionDays).UnixMilli()

	removed, err := ledger.PruneExpired(profileID, cutoff)
	if err != nil {
		return fmt.Errorf("pruning history: %w", err)
	}

	logger.Info("history pruned",
		slog.String("profile", profileID),
		slog.Int("removed", removed),
		slog.Int("retention_days", cfg.HistoryRetentionDays),
	)

	return nil
}

// runSync performs an initial pass, then keeps the daemon alive for
// save-triggered and interval-triggered passes when configured. With
// neither trigger enabled, the initial pass is the whole run.
func runSync(ctx context.Context, cfg *config.Config, runner *engine.Runner, vault *engine.Vault, logger *slog.Logger) error {
	if _, err := runner.Sync(ctx, "manual"); err != nil {
		return err
	}

	if !cfg.SyncOnSave && cfg.SyncInterval == 0 {
		return nil
	}

	g, gctx := errgroup.WithContext(ctx)

	trigger := func(name string) {
		if _, err := runner.Sync(gctx, name); err != nil {
			if errors.Is(err, syncerrors.ErrSyncInFlight) {
				logger.Debug("sync already running, trigger dropped", slog.String("trigger", name))
				return
			}

			logger.Error("sync failed", slog.String("trigger", name), slog.String("error", err.Error()))
		}
	}

	if cfg.SyncOnSave {
		watcher := engine.NewWatcher(vault, 0, func() { trigger("save") }, logger)

		g.Go(func() error {
			return watcher.Watch(gctx)
		})
	}

	if cfg.SyncInterval > 0 {
		g.Go(func() error {
			ticker := time.NewTicker(cfg.SyncInterval)
			defer ticker.Stop()

			for {
				select {
				case <-gctx.Done():
					return gctx.Err()
				case <-ticker.C:
					trigger("interval")
				}
			}
		})
	}

	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		logger.Info("shutting down")
		return nil
	}

	return err
}
