package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	syncerrors "github.com/alexjbarnes/remotesync/internal/errors"
)

// ProfileID derives the ledger profile identifier for a service type.
// One profile per remote kind keeps previous-sync records from one
// remote ever being compared against another.
func ProfileID(serviceType string) string {
	return serviceType + "-default-1"
}

// RunnerOptions carries the full policy surface for a sync runner.
type RunnerOptions struct {
	ServiceType             string
	Assemble                AssembleOptions
	ConflictAction          ConflictAction
	Direction               SyncDirection
	EmptyFolderPolicy       EmptyFolderPolicy
	SkipSizeLargerThan      int64
	Concurrency             int
	ProtectModifyPercentage float64
	OnProgress              ProgressFunc
	Logger                  *slog.Logger
}

// Runner drives one profile's sync passes end to end: scan, list,
// verify key, assemble, plan, execute, record. At most one pass runs at
// a time; a second caller gets ErrSyncInFlight instead of queueing,
// which is what the save-triggered and interval-triggered paths both
// want.
type Runner struct {
	vault     *Vault
	remote    RemoteClient
	cipher    Cipher
	trash     Trash
	ledger    Ledger
	opts      RunnerOptions
	profileID string
	logger    *slog.Logger

	inFlight atomic.Bool
}

// NewRunner wires a runner for one profile.
func NewRunner(vault *Vault, remote RemoteClient, cipher Cipher, trash Trash, ledger Ledger, opts RunnerOptions) *Runner {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	return &Runner{
		vault:     vault,
		remote:    remote,
		cipher:    cipher,
		trash:     trash,
		ledger:    ledger,
		opts:      opts,
		profileID: ProfileID(opts.ServiceType),
		logger:    opts.Logger,
	}
}

// ProfileID returns the ledger profile this runner operates on.
func (r *Runner) ProfileID() string {
	return r.profileID
}

// Sync runs one full pass. The plan is appended to the history ledger
// whether or not execution succeeded, so a partially failed run is
// still auditable. trigger records what started the pass ("manual",
// "save", "interval").
func (r *Runner) Sync(ctx context.Context, trigger string) (*SyncPlan, error) {
	return r.run(ctx, trigger, false)
}

// DryRun generates and returns the plan without executing or recording
// anything.
func (r *Runner) DryRun(ctx context.Context, trigger string) (*SyncPlan, error) {
	return r.run(ctx, trigger, true)
}

func (r *Runner) run(ctx context.Context, trigger string, dry bool) (*SyncPlan, error) {
	if !r.inFlight.CompareAndSwap(false, true) {
		return nil, syncerrors.ErrSyncInFlight
	}
	defer r.inFlight.Store(false)

	start := time.Now()

	local, err := ScanLocal(r.vault, r.opts.Assemble.SyncConfigDir, r.opts.Assemble.ConfigDirName, r.logger)
	if err != nil {
		return nil, fmt.Errorf("scanning local files: %w", err)
	}

	remoteList, err := r.remote.ListAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing remote: %w", err)
	}

	// Key verification is fatal for the pass: planning against a corpus
	// we cannot decrypt would schedule mass deletions.
	keyRes := CheckRemoteKey(ctx, remoteList, r.remote, r.cipher, r.logger)
	if !keyRes.OK {
		return nil, fmt.Errorf("%w: %s", syncerrors.ErrKeyMismatch, keyRes.Reason)
	}

	prevMap, err := r.ledger.PrevEntities(r.profileID)
	if err != nil {
		return nil, fmt.Errorf("loading previous-sync records: %w", err)
	}

	prev := make([]Entity, 0, len(prevMap))
	for _, e := range prevMap {
		prev = append(prev, e)
	}

	mixed := Assemble(local, prev, remoteList, r.cipher, r.opts.Assemble, r.logger)

	now := start.UnixMilli()

	actions := Plan(mixed, PlanOptions{
		ConflictAction:     r.opts.ConflictAction,
		Direction:          r.opts.Direction,
		EmptyFolderPolicy:  r.opts.EmptyFolderPolicy,
		SkipSizeLargerThan: r.opts.SkipSizeLargerThan,
		Now:                now,
	})

	plan := &SyncPlan{
		Timestamp:   now,
		ProfileID:   r.profileID,
		ServiceType: r.opts.ServiceType,
		Trigger:     trigger,
		Actions:     actions,
	}

	r.logPlanSummary(plan, len(mixed))

	if dry {
		return plan, nil
	}

	executor := NewExecutor(r.vault, r.remote, r.cipher, r.trash, r.ledger, ExecOptions{
		ProfileID:               r.profileID,
		Concurrency:             r.opts.Concurrency,
		ProtectModifyPercentage: r.opts.ProtectModifyPercentage,
		OnProgress:              r.opts.OnProgress,
		Logger:                  r.logger,
	})

	execErr := executor.Execute(ctx, *plan, mixed)

	appendErr := r.ledger.AppendPlan(r.profileID, *plan)
	if appendErr != nil {
		appendErr = fmt.Errorf("recording plan: %w", appendErr)
	}

	if execErr == nil && appendErr == nil {
		if err := r.ledger.SetLastSuccessTime(r.profileID, time.Now().UnixMilli()); err != nil {
			return plan, fmt.Errorf("recording success time: %w", err)
		}

		if keyRes.SentinelMissing {
			if err := WriteSentinel(ctx, r.remote, r.cipher); err != nil {
				r.logger.Warn("writing sync sentinel", slog.String("error", err.Error()))
			}
		}

		r.logger.Info("sync completed",
			slog.String("profile", r.profileID),
			slog.String("trigger", trigger),
			slog.Int("actions", len(plan.Actions)),
			slog.Duration("elapsed", time.Since(start)),
		)
	}

	return plan, errors.Join(execErr, appendErr)
}

func (r *Runner) logPlanSummary(plan *SyncPlan, entries int) {
	counts := make(map[Decision]int)
	for _, a := range plan.Actions {
		counts[a.Decision]++
	}

	r.logger.Info("plan generated",
		slog.String("profile", r.profileID),
		slog.String("trigger", plan.Trigger),
		slog.Int("entries", entries),
		slog.Int("actions", len(plan.Actions)),
		slog.Int("uploads", counts[DecisionUpload]),
		slog.Int("downloads", counts[DecisionDownload]),
		slog.Int("deletes", counts[DecisionDeleteLocal]+counts[DecisionDeleteRemote]),
		slog.Int("noops", counts[DecisionNoop]),
		slog.Int("skips", counts[DecisionSkip]),
	)
}
