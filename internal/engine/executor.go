package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	syncerrors "github.com/alexjbarnes/remotesync/internal/errors"
)

// defaultConcurrency bounds parallel plan actions when no limit is
// configured.
const defaultConcurrency = 5

// Ledger is the persistence capability the executor and runner drive.
// internal/state implements it on bbolt; tests implement it in memory.
type Ledger interface {
	PrevEntities(profileID string) (map[string]Entity, error)
	SetPrevEntity(profileID string, e Entity) error
	DeletePrevEntity(profileID, key string) error
	AppendPlan(profileID string, plan SyncPlan) error
	LastSuccessTime(profileID string) (int64, error)
	SetLastSuccessTime(profileID string, millis int64) error
}

// ProgressFunc is called after each action completes. done counts
// finished actions, total is the plan's action count. Called
// synchronously from executor goroutines; panics are recovered so a
// misbehaving callback cannot kill a run.
type ProgressFunc func(done, total int, key string, decision Decision)

// ExecOptions carries the runtime policy for one executor.
type ExecOptions struct {
	ProfileID string
	// Concurrency bounds parallel actions within a phase. <= 0 means the
	// default of 5.
	Concurrency int
	// ProtectModifyPercentage aborts the run before any I/O when the
	// plan's destructive actions exceed this percentage of the sync set.
	// 100 disables the breaker.
	ProtectModifyPercentage float64
	OnProgress              ProgressFunc
	Logger                  *slog.Logger
}

// Executor applies a generated plan against the local vault and the
// remote store, recording per-key bookkeeping in the ledger as it goes.
// One action failing does not stop the run; all failures are aggregated
// into the returned error.
type Executor struct {
	vault  *Vault
	remote RemoteClient
	cipher Cipher
	trash  Trash
	ledger Ledger
	opts   ExecOptions

	// skipped holds folder keys whose creation failed; everything
	// beneath them is skipped rather than written into a missing parent.
	skipMu  sync.Mutex
	skipped map[string]bool
}

// NewExecutor wires an executor for one profile.
func NewExecutor(vault *Vault, remote RemoteClient, cipher Cipher, trash Trash, ledger Ledger, opts ExecOptions) *Executor {
	if opts.Concurrency <= 0 {
		opts.Concurrency = defaultConcurrency
	}

	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	return &Executor{
		vault:   vault,
		remote:  remote,
		cipher:  cipher,
		trash:   trash,
		ledger:  ledger,
		opts:    opts,
		skipped: make(map[string]bool),
	}
}

// Execute applies the plan. Phases run sequentially in the plan's
// order (folder creates, file actions, file deletes, folder removals);
// within the folder phases actions are additionally grouped by depth so
// a parent always exists before its children and children are removed
// before their parent. File-phase actions touch distinct keys and run
// concurrently up to the configured limit.
//
// Before any I/O the plan is checked against the protect-modify
// breaker: when destructive actions exceed the configured percentage of
// the assembled sync set, Execute returns ErrExcessiveModifications and
// nothing is touched.
func (e *Executor) Execute(ctx context.Context, plan SyncPlan, mixed map[string]*MixedEntity) error {
	if err := e.checkProtectModify(plan, mixed); err != nil {
		return err
	}

	folderCreates, fileActions, fileDeletes, folderRemoves := splitPhases(plan.Actions)

	prog := &progress{total: len(plan.Actions), fn: e.opts.OnProgress, logger: e.opts.Logger}

	var errs []error

	// Folder creates, shallowest level first. Failures poison the
	// subtree so no child is written into a missing parent.
	for _, group := range depthGroups(folderCreates, false) {
		errs = append(errs, e.runGroup(ctx, group, mixed, prog, true))
	}

	errs = append(errs, e.runGroup(ctx, fileActions, mixed, prog, false))
	errs = append(errs, e.runGroup(ctx, fileDeletes, mixed, prog, false))

	// Folder removals, deepest level first so children go before parents.
	for _, group := range depthGroups(folderRemoves, true) {
		errs = append(errs, e.runGroup(ctx, group, mixed, prog, false))
	}

	return errors.Join(errs...)
}

// checkProtectModify is the circuit breaker: it counts destructive
// actions against the size of the assembled sync set. Destructive means
// content that exists today gets removed or overwritten: deletes,
// folder removals, and transfers whose target side is live. Keep-both
// preserves both versions and is not counted; neither are creations
// into empty space.
func (e *Executor) checkProtectModify(plan SyncPlan, mixed map[string]*MixedEntity) error {
	totalEntries := len(mixed)
	if totalEntries == 0 {
		return nil
	}

	destructive := 0

	for _, a := range plan.Actions {
		m := mixed[a.Key]

		switch a.Decision {
		case DecisionDeleteLocal, DecisionDeleteRemote, DecisionRemoveLocalFolder, DecisionRemoveRemoteFolder:
			destructive++
		case DecisionUpload:
			if m != nil && m.Remote != nil && !m.Remote.Folder {
				destructive++
			}
		case DecisionDownload:
			if m != nil && m.Local != nil && !m.Local.Folder {
				destructive++
			}
		}
	}

	pct := float64(destructive) / float64(totalEntries) * 100

	if pct > e.opts.ProtectModifyPercentage {
		return fmt.Errorf("%w: %d destructive actions across %d entries (%.1f%% > %.1f%%)",
			syncerrors.ErrExcessiveModifications,
			destructive, totalEntries, pct, e.opts.ProtectModifyPercentage)
	}

	return nil
}

// splitPhases partitions the ordered action list back into its four
// phases.
func splitPhases(actions []SyncPlanAction) (folderCreates, fileActions, fileDeletes, folderRemoves []SyncPlanAction) {
	for _, a := range actions {
		switch a.Decision {
		case DecisionCreateLocalFolder, DecisionCreateRemoteFolder:
			folderCreates = append(folderCreates, a)
		case DecisionDeleteLocal, DecisionDeleteRemote:
			fileDeletes = append(fileDeletes, a)
		case DecisionRemoveLocalFolder, DecisionRemoveRemoteFolder:
			folderRemoves = append(folderRemoves, a)
		default:
			fileActions = append(fileActions, a)
		}
	}

	return folderCreates, fileActions, fileDeletes, folderRemoves
}

// depthGroups buckets actions by key depth. The plan emits them already
// sorted, so groups come out shallow-to-deep; pass deepFirst to reverse.
func depthGroups(actions []SyncPlanAction, deepFirst bool) [][]SyncPlanAction {
	byDepth := make(map[int][]SyncPlanAction)

	minDepth, maxDepth := 0, 0

	for i, a := range actions {
		d := KeyDepth(a.Key)
		if i == 0 || d < minDepth {
			minDepth = d
		}

		if d > maxDepth {
			maxDepth = d
		}

		byDepth[d] = append(byDepth[d], a)
	}

	var groups [][]SyncPlanAction

	if deepFirst {
		for d := maxDepth; d >= minDepth; d-- {
			if g := byDepth[d]; len(g) > 0 {
				groups = append(groups, g)
			}
		}
	} else {
		for d := minDepth; d <= maxDepth; d++ {
			if g := byDepth[d]; len(g) > 0 {
				groups = append(groups, g)
			}
		}
	}

	return groups
}

// runGroup applies one batch of actions with bounded concurrency.
// Errors are collected, never propagated through the group, so one
// failed action does not cancel its siblings. poisonOnFail marks failed
// folder keys so descendants are skipped in later groups.
func (e *Executor) runGroup(ctx context.Context, actions []SyncPlanAction, mixed map[string]*MixedEntity, prog *progress, poisonOnFail bool) error {
	if len(actions) == 0 {
		return nil
	}

	g := new(errgroup.Group)
	g.SetLimit(e.opts.Concurrency)

	var (
		mu   sync.Mutex
		errs []error
	)

	for _, a := range actions {
		g.Go(func() error {
			err := e.apply(ctx, a, mixed[a.Key])
			if err != nil {
				e.opts.Logger.Error("sync action failed",
					slog.String("key", a.Key),
					slog.String("decision", string(a.Decision)),
					slog.String("error", err.Error()),
				)

				if poisonOnFail {
					e.poison(a.Key)
				}

				mu.Lock()
				errs = append(errs, fmt.Errorf("%s %s: %w", a.Decision, a.Key, err))
				mu.Unlock()
			}

			prog.step(a.Key, a.Decision)

			return nil
		})
	}

	_ = g.Wait()

	return errors.Join(errs...)
}

func (e *Executor) poison(folderKey string) {
	e.skipMu.Lock()
	e.skipped[folderKey] = true
	e.skipMu.Unlock()
}

func (e *Executor) underPoisoned(key string) bool {
	e.skipMu.Lock()
	defer e.skipMu.Unlock()

	for folder := range e.skipped {
		if UnderKey(folder, key) {
			return true
		}
	}

	return false
}

// apply dispatches one action.
func (e *Executor) apply(ctx context.Context, a SyncPlanAction, m *MixedEntity) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	if e.underPoisoned(a.Key) {
		e.opts.Logger.Warn("skipping action under failed folder", slog.String("key", a.Key))
		return nil
	}

	switch a.Decision {
	case DecisionNoop:
		return e.applyNoop(m)
	case DecisionSkip:
		return nil
	case DecisionDropHistory:
		return e.ledger.DeletePrevEntity(e.opts.ProfileID, a.Key)
	case DecisionUpload:
		return e.upload(ctx, a.Key, m)
	case DecisionDownload:
		return e.download(ctx, a.Key, m)
	case DecisionDeleteLocal:
		return e.deleteLocal(a.Key)
	case DecisionDeleteRemote:
		return e.deleteRemote(ctx, a.Key, m)
	case DecisionCreateLocalFolder:
		return e.createLocalFolder(a.Key)
	case DecisionCreateRemoteFolder:
		return e.createRemoteFolder(ctx, a.Key, m)
	case DecisionRemoveLocalFolder:
		return e.removeLocalFolder(ctx, a.Key, m)
	case DecisionRemoveRemoteFolder:
		return e.removeRemoteFolder(ctx, a.Key, m)
	case DecisionKeepBoth:
		return e.keepBoth(ctx, a, m)
	default:
		return fmt.Errorf("unknown decision %q", a.Decision)
	}
}

// applyNoop refreshes the previous-sync record when both sides are
// live. Covers the converged-independently case, where prev is stale or
// missing even though no transfer is needed.
func (e *Executor) applyNoop(m *MixedEntity) error {
	if m == nil || m.Local == nil || m.Remote == nil {
		return nil
	}

	return e.upsertPrev(Entity{
		Key:        m.Key,
		Folder:     m.Local.Folder,
		MTime:      m.Local.MTime,
		Size:       m.Local.Size,
		Hash:       m.Local.Hash,
		RemoteHash: m.Remote.Hash,
	})
}

func (e *Executor) upload(ctx context.Context, key string, m *MixedEntity) error {
	if m == nil || m.Local == nil {
		return fmt.Errorf("no local entity to upload")
	}

	data, err := e.vault.ReadFile(key)
	if err != nil {
		return fmt.Errorf("reading local file: %w", err)
	}

	payload, err := e.cipher.EncryptContent(data)
	if err != nil {
		return fmt.Errorf("encrypting content: %w", err)
	}

	remoteKey, err := e.remoteKeyFor(key, m)
	if err != nil {
		return err
	}

	if err := e.remote.PutContent(ctx, remoteKey, payload); err != nil {
		return fmt.Errorf("uploading: %w", err)
	}

	return e.upsertPrev(Entity{
		Key:        key,
		MTime:      m.Local.MTime,
		Size:       m.Local.Size,
		Hash:       m.Local.Hash,
		RemoteHash: HashBytes(payload),
	})
}

func (e *Executor) download(ctx context.Context, key string, m *MixedEntity) error {
	if m == nil || m.Remote == nil {
		return fmt.Errorf("no remote entity to download")
	}

	payload, err := e.remote.GetContent(ctx, m.Remote.RemoteKey())
	if err != nil {
		return fmt.Errorf("downloading: %w", err)
	}

	plain, err := e.cipher.DecryptContent(payload)
	if err != nil {
		return fmt.Errorf("decrypting content: %w", err)
	}

	// When overwriting a live local file, snapshot it first so a
	// concurrent local edit aborts the write instead of being lost.
	var prePullInfo os.FileInfo

	if m.Local != nil {
		if st, statErr := e.vault.Stat(key); statErr == nil {
			prePullInfo = st
		}
	}

	mtime := time.Time{}
	if m.Remote.MTime != 0 {
		mtime = time.UnixMilli(m.Remote.MTime)
	}

	if err := e.vault.WriteFile(key, plain, mtime, prePullInfo); err != nil {
		return err
	}

	rec := Entity{
		Key:        key,
		MTime:      m.Remote.MTime,
		Size:       int64(len(plain)),
		Hash:       HashBytes(plain),
		RemoteHash: m.Remote.Hash,
	}

	// The vault may have clamped or defaulted the mtime; record what the
	// file actually carries so the next scan compares cleanly.
	if st, statErr := e.vault.Stat(key); statErr == nil {
		rec.MTime = st.ModTime().UnixMilli()
	}

	return e.upsertPrev(rec)
}

func (e *Executor) deleteLocal(key string) error {
	if !e.trash.TrashReversible(key) {
		if err := e.trash.TrashPermanent(key); err != nil {
			return fmt.Errorf("deleting local file: %w", err)
		}
	}

	return e.ledger.DeletePrevEntity(e.opts.ProfileID, key)
}

func (e *Executor) deleteRemote(ctx context.Context, key string, m *MixedEntity) error {
	if m == nil || m.Remote == nil {
		return fmt.Errorf("no remote entity to delete")
	}

	if err := e.remote.Delete(ctx, m.Remote.RemoteKey()); err != nil {
		return fmt.Errorf("deleting remote object: %w", err)
	}

	return e.ledger.DeletePrevEntity(e.opts.ProfileID, key)
}

func (e *Executor) createLocalFolder(key string) error {
	if err := e.vault.MkdirAll(key); err != nil {
		return fmt.Errorf("creating local folder: %w", err)
	}

	return e.upsertPrev(Entity{Key: key, Folder: true})
}

func (e *Executor) createRemoteFolder(ctx context.Context, key string, m *MixedEntity) error {
	remoteKey, err := e.remoteKeyFor(key, m)
	if err != nil {
		return err
	}

	if err := e.remote.CreateFolder(ctx, remoteKey); err != nil {
		return fmt.Errorf("creating remote folder: %w", err)
	}

	return e.upsertPrev(Entity{Key: key, Folder: true})
}

// removeLocalFolder removes the local folder; when the mixed view shows
// the folder live on the remote too, this is the clean-both-sides
// decision and the remote marker is removed as well.
func (e *Executor) removeLocalFolder(ctx context.Context, key string, m *MixedEntity) error {
	if err := e.vault.DeleteEmptyDir(key); err != nil {
		return err
	}

	if m != nil && m.Remote != nil {
		if err := e.remote.Delete(ctx, m.Remote.RemoteKey()); err != nil {
			return fmt.Errorf("removing remote folder: %w", err)
		}
	}

	return e.ledger.DeletePrevEntity(e.opts.ProfileID, key)
}

func (e *Executor) removeRemoteFolder(ctx context.Context, key string, m *MixedEntity) error {
	if m == nil || m.Remote == nil {
		return fmt.Errorf("no remote folder to remove")
	}

	if err := e.remote.Delete(ctx, m.Remote.RemoteKey()); err != nil {
		return fmt.Errorf("removing remote folder: %w", err)
	}

	return e.ledger.DeletePrevEntity(e.opts.ProfileID, key)
}

// keepBoth resolves a conflict without losing either version: the
// losing side's content moves to the conflict-copy key and both keys
// end up present on both sides. For a file/folder clash the file is the
// loser and the folder takes over the original key on both sides.
func (e *Executor) keepBoth(ctx context.Context, a SyncPlanAction, m *MixedEntity) error {
	if m == nil || m.Local == nil || m.Remote == nil {
		return fmt.Errorf("keep-both requires both sides live")
	}

	typeClash := m.Local.Folder != m.Remote.Folder

	if a.LoserLocal {
		return e.keepBothLocalLoses(ctx, a, m, typeClash)
	}

	return e.keepBothRemoteLoses(ctx, a, m, typeClash)
}

func (e *Executor) keepBothLocalLoses(ctx context.Context, a SyncPlanAction, m *MixedEntity, typeClash bool) error {
	// Move the local version aside, then push the copy so both sides
	// hold it.
	if err := e.vault.Rename(a.Key, a.ConflictCopyKey); err != nil {
		return fmt.Errorf("renaming local conflict copy: %w", err)
	}

	copyEntity := *m.Local
	copyEntity.Key = a.ConflictCopyKey
	copyEntity.EncryptedKey = ""
	copyEntity.Encrypted = false

	if err := e.upload(ctx, a.ConflictCopyKey, &MixedEntity{Key: a.ConflictCopyKey, Local: &copyEntity}); err != nil {
		return err
	}

	if typeClash {
		// The remote side is a folder; mirror it at the original key. The
		// slash-suffixed form keeps the prev record under the folder
		// bucket key that later folder decisions target.
		return e.createLocalFolder(a.Key + "/")
	}

	// Pull the winning remote version into the vacated key.
	return e.download(ctx, a.Key, &MixedEntity{Key: a.Key, Remote: m.Remote})
}

func (e *Executor) keepBothRemoteLoses(ctx context.Context, a SyncPlanAction, m *MixedEntity, typeClash bool) error {
	// Fetch the losing remote version and materialize it under the
	// conflict-copy key on both sides.
	payload, err := e.remote.GetContent(ctx, m.Remote.RemoteKey())
	if err != nil {
		return fmt.Errorf("downloading conflict copy: %w", err)
	}

	plain, err := e.cipher.DecryptContent(payload)
	if err != nil {
		return fmt.Errorf("decrypting conflict copy: %w", err)
	}

	mtime := time.Time{}
	if m.Remote.MTime != 0 {
		mtime = time.UnixMilli(m.Remote.MTime)
	}

	if err := e.vault.WriteFile(a.ConflictCopyKey, plain, mtime, nil); err != nil {
		return err
	}

	copyPayload, err := e.cipher.EncryptContent(plain)
	if err != nil {
		return fmt.Errorf("encrypting conflict copy: %w", err)
	}

	copyRemoteKey, err := e.remoteKeyFor(a.ConflictCopyKey, nil)
	if err != nil {
		return err
	}

	if err := e.remote.PutContent(ctx, copyRemoteKey, copyPayload); err != nil {
		return fmt.Errorf("uploading conflict copy: %w", err)
	}

	if err := e.upsertPrev(Entity{
		Key:        a.ConflictCopyKey,
		MTime:      m.Remote.MTime,
		Size:       int64(len(plain)),
		Hash:       HashBytes(plain),
		RemoteHash: HashBytes(copyPayload),
	}); err != nil {
		return err
	}

	if typeClash {
		// The local side is a folder; replace the remote file with a
		// folder marker at the original key.
		if err := e.remote.Delete(ctx, m.Remote.RemoteKey()); err != nil {
			return fmt.Errorf("removing clashing remote file: %w", err)
		}

		return e.createRemoteFolder(ctx, a.Key+"/", nil)
	}

	// Push the winning local version over the original remote key.
	return e.upload(ctx, a.Key, m)
}

// remoteKeyFor resolves the on-remote name for a logical key: the
// observed remote name when the key already exists there, otherwise a
// freshly encrypted name. Folder keys keep their trailing slash outside
// the ciphertext.
func (e *Executor) remoteKeyFor(key string, m *MixedEntity) (string, error) {
	if m != nil && m.Remote != nil {
		return m.Remote.RemoteKey(), nil
	}

	bare := strings.TrimSuffix(key, "/")

	enc, err := e.cipher.EncryptName(bare)
	if err != nil {
		return "", fmt.Errorf("encrypting remote name: %w", err)
	}

	if IsFolderKey(key) {
		enc += "/"
	}

	return enc, nil
}

func (e *Executor) upsertPrev(ent Entity) error {
	return e.ledger.SetPrevEntity(e.opts.ProfileID, ent)
}

// progress fans completion events out to the configured callback.
type progress struct {
	mu     sync.Mutex
	done   int
	total  int
	fn     ProgressFunc
	logger *slog.Logger
}

func (p *progress) step(key string, d Decision) {
	p.mu.Lock()
	p.done++
	done := p.done
	p.mu.Unlock()

	if p.fn == nil {
		return
	}

	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("progress callback panicked", slog.Any("panic", r))
		}
	}()

	p.fn(done, p.total, key, d)
}
