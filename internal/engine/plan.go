package engine

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// Decision is the closed set of per-key actions a plan can contain.
type Decision string

const (
	DecisionNoop               Decision = "noop"
	DecisionUpload             Decision = "upload"
	DecisionDownload           Decision = "download"
	DecisionDeleteLocal        Decision = "delete-local"
	DecisionDeleteRemote       Decision = "delete-remote"
	DecisionCreateLocalFolder  Decision = "create-local-folder"
	DecisionCreateRemoteFolder Decision = "create-remote-folder"
	DecisionRemoveLocalFolder  Decision = "remove-local-folder"
	DecisionRemoveRemoteFolder Decision = "remove-remote-folder"
	// DecisionDropHistory removes a stale previous-sync row for a path
	// that is gone from both sides. No file I/O.
	DecisionDropHistory Decision = "drop-history"
	// DecisionKeepBoth resolves a conflict by keeping both versions: the
	// losing side's content is renamed to ConflictCopyKey and both keys
	// end up on both sides.
	DecisionKeepBoth Decision = "keep-both"
	// DecisionSkip performs no I/O; Reason explains why (too large,
	// disallowed by direction, cleanup disabled).
	DecisionSkip Decision = "skip"
)

// ConflictAction selects how divergent changes on both sides resolve.
type ConflictAction string

const (
	ConflictKeepNewer  ConflictAction = "keep-newer"
	ConflictKeepLocal  ConflictAction = "keep-local"
	ConflictKeepRemote ConflictAction = "keep-remote"
	ConflictKeepBoth   ConflictAction = "keep-both"
)

// SyncDirection restricts which way content may flow.
type SyncDirection string

const (
	DirectionBidirectional SyncDirection = "bidirectional"
	DirectionPushOnly      SyncDirection = "incremental-push-only"
	DirectionPullOnly      SyncDirection = "incremental-pull-only"
)

// EmptyFolderPolicy controls whether folders left empty by deletions are
// themselves removed.
type EmptyFolderPolicy string

const (
	EmptyFolderSkip  EmptyFolderPolicy = "skip"
	EmptyFolderClean EmptyFolderPolicy = "clean-both-sides"
)

// ParseConflictAction validates a configured conflict action string.
func ParseConflictAction(s string) (ConflictAction, error) {
	switch ConflictAction(s) {
	case ConflictKeepNewer, ConflictKeepLocal, ConflictKeepRemote, ConflictKeepBoth:
		return ConflictAction(s), nil
	case "":
		return ConflictKeepNewer, nil
	}

	return "", fmt.Errorf("unknown conflict action %q", s)
}

// ParseSyncDirection validates a configured sync direction string.
func ParseSyncDirection(s string) (SyncDirection, error) {
	switch SyncDirection(s) {
	case DirectionBidirectional, DirectionPushOnly, DirectionPullOnly:
		return SyncDirection(s), nil
	case "":
		return DirectionBidirectional, nil
	}

	return "", fmt.Errorf("unknown sync direction %q", s)
}

// ParseEmptyFolderPolicy validates a configured empty-folder policy string.
func ParseEmptyFolderPolicy(s string) (EmptyFolderPolicy, error) {
	switch EmptyFolderPolicy(s) {
	case EmptyFolderSkip, EmptyFolderClean:
		return EmptyFolderPolicy(s), nil
	case "":
		return EmptyFolderSkip, nil
	}

	return "", fmt.Errorf("unknown empty-folder policy %q", s)
}

// SyncPlanAction is one decision for one logical key.
type SyncPlanAction struct {
	Key      string   `json:"key"`
	Decision Decision `json:"decision"`
	// SizeBeforeAction is the byte size of the content the action moves
	// or removes (source size for transfers, entity size for deletes).
	SizeBeforeAction int64 `json:"size_before_action"`
	// Reason is a human-diagnosable explanation for audit/export.
	Reason string `json:"reason"`
	// ConflictCopyKey is set for keep-both: the key the losing version
	// is renamed to.
	ConflictCopyKey string `json:"conflict_copy_key,omitempty"`
	// LoserLocal is set for keep-both: true when the local version is
	// the one renamed.
	LoserLocal bool `json:"loser_local,omitempty"`
}

// SyncPlan is the ordered action list for one run plus run metadata.
// Persisted immutably once generated; the ledger only ever appends.
type SyncPlan struct {
	Timestamp   int64            `json:"timestamp"`
	ProfileID   string           `json:"profile_id"`
	ServiceType string           `json:"service_type"`
	Trigger     string           `json:"trigger,omitempty"`
	Actions     []SyncPlanAction `json:"actions"`
}

// PlanOptions are the policy knobs consumed by Plan.
type PlanOptions struct {
	ConflictAction    ConflictAction
	Direction         SyncDirection
	EmptyFolderPolicy EmptyFolderPolicy
	// SkipSizeLargerThan skips transfers whose source exceeds this many
	// bytes. <= 0 means unlimited.
	SkipSizeLargerThan int64
	// Now is the single clock snapshot for the run, unix milliseconds.
	// Injected so planning is deterministic.
	Now int64
}

// changeKind classifies one side of a key against the prev record.
type changeKind int

const (
	changeNone changeKind = iota
	changeNew
	changeModified
	changeDeleted
	changeAbsent // not present now, not present in prev
)

// Plan derives the sync plan from the assembled mixed view. Pure and
// deterministic: identical inputs produce an identical action list, and
// the only clock read is opts.Now.
//
// The output is a flat list already satisfying the executor's partial
// order: folder creates shallowest-first, then file actions, then file
// deletes deepest-first, then folder removals deepest-first.
func Plan(mixed map[string]*MixedEntity, opts PlanOptions) []SyncPlanAction {
	var (
		folderCreates []SyncPlanAction
		fileActions   []SyncPlanAction
		fileDeletes   []SyncPlanAction
		folderRemoves []SyncPlanAction
	)

	folders := make([]*MixedEntity, 0)

	keys := make([]string, 0, len(mixed))
	for key := range mixed {
		keys = append(keys, key)
	}

	sort.Strings(keys)

	// After-sets simulate which keys survive on each side once the plan
	// is applied; the folder pass uses them to find empty folders.
	localAfter := make(map[string]bool)
	remoteAfter := make(map[string]bool)

	for _, key := range keys {
		m := mixed[key]

		if m.Local != nil {
			localAfter[key] = true
		}

		if m.Remote != nil {
			remoteAfter[key] = true
		}

		if isFolderEntry(m) {
			folders = append(folders, m)
			continue
		}

		a := planFile(m, opts)

		switch a.Decision {
		case DecisionUpload, DecisionKeepBoth:
			remoteAfter[key] = true

			if a.Decision == DecisionKeepBoth {
				localAfter[key] = true
				localAfter[a.ConflictCopyKey] = true
				remoteAfter[a.ConflictCopyKey] = true
			}

			fileActions = append(fileActions, a)
		case DecisionDownload:
			localAfter[key] = true

			fileActions = append(fileActions, a)
		case DecisionDeleteLocal:
			delete(localAfter, key)

			fileDeletes = append(fileDeletes, a)
		case DecisionDeleteRemote:
			delete(remoteAfter, key)

			fileDeletes = append(fileDeletes, a)
		default:
			fileActions = append(fileActions, a)
		}
	}

	// Folder pass, deepest first so removals cascade upward.
	sort.Slice(folders, func(i, j int) bool {
		di, dj := KeyDepth(folders[i].Key), KeyDepth(folders[j].Key)
		if di != dj {
			return di > dj
		}

		return folders[i].Key < folders[j].Key
	})

	for _, m := range folders {
		a := planFolder(m, opts, localAfter, remoteAfter)

		switch a.Decision {
		case DecisionCreateLocalFolder:
			localAfter[m.Key] = true

			folderCreates = append(folderCreates, a)
		case DecisionCreateRemoteFolder:
			remoteAfter[m.Key] = true

			folderCreates = append(folderCreates, a)
		case DecisionRemoveLocalFolder:
			delete(localAfter, m.Key)

			folderRemoves = append(folderRemoves, a)
		case DecisionRemoveRemoteFolder:
			delete(remoteAfter, m.Key)

			folderRemoves = append(folderRemoves, a)
		default:
			fileActions = append(fileActions, a)
		}
	}

	sortShallowFirst(folderCreates)
	sortByKey(fileActions)
	sortDeepFirst(fileDeletes)
	sortDeepFirst(folderRemoves)

	out := make([]SyncPlanAction, 0, len(folderCreates)+len(fileActions)+len(fileDeletes)+len(folderRemoves))
	out = append(out, folderCreates...)
	out = append(out, fileActions...)
	out = append(out, fileDeletes...)
	out = append(out, folderRemoves...)

	return out
}

// isFolderEntry reports whether the mixed entity is a pure folder
// entry. A live file/folder clash routes through planFile, which
// resolves the structural conflict.
func isFolderEntry(m *MixedEntity) bool {
	if m.Local != nil && m.Remote != nil && m.Local.Folder != m.Remote.Folder {
		return false
	}

	if m.Local != nil {
		return m.Local.Folder
	}

	if m.Remote != nil {
		return m.Remote.Folder
	}

	return m.Prev != nil && m.Prev.Folder
}

// classify compares one side against the prev record.
func classify(cur, prev *Entity) changeKind {
	prevPresent := prev != nil && !prev.Deleted

	switch {
	case cur == nil && !prevPresent:
		return changeAbsent
	case cur == nil:
		return changeDeleted
	case !prevPresent:
		return changeNew
	}

	if cur.Folder || prev.Folder {
		// Folders compare by presence only.
		if cur.Folder == prev.Folder {
			return changeNone
		}

		return changeModified
	}

	if !entityDiffers(cur, prev, prev.Hash) {
		return changeNone
	}

	return changeModified
}

// classifyRemote is classify for the remote side, preferring the
// remote-visible fingerprint recorded at last sync (ciphertext hashes
// differ from plaintext hashes when content is encrypted).
func classifyRemote(cur, prev *Entity) changeKind {
	prevPresent := prev != nil && !prev.Deleted

	switch {
	case cur == nil && !prevPresent:
		return changeAbsent
	case cur == nil:
		return changeDeleted
	case !prevPresent:
		return changeNew
	}

	if cur.Folder || prev.Folder {
		if cur.Folder == prev.Folder {
			return changeNone
		}

		return changeModified
	}

	prevHash := prev.RemoteHash
	if prevHash == "" {
		prevHash = prev.Hash
	}

	if !entityDiffers(cur, prev, prevHash) {
		return changeNone
	}

	return changeModified
}

// entityDiffers reports whether a live file differs from the prev
// record. Fingerprints decide when both are known ("same content,
// different mtime" is unchanged); otherwise fall back to mtime+size.
func entityDiffers(cur, prev *Entity, prevHash string) bool {
	if cur.Hash != "" && prevHash != "" {
		return cur.Hash != prevHash
	}

	if cur.Size != prev.Size && cur.Size != SizeUnknown && prev.Size != SizeUnknown {
		return true
	}

	return cur.MTime != prev.MTime
}

// sameContent reports whether local and remote hold identical content
// by fingerprint. Encrypted remotes hash ciphertext, so fingerprints are
// only comparable when the remote observation is unencrypted.
func sameContent(local, remote *Entity) bool {
	if local == nil || remote == nil || local.Folder || remote.Folder {
		return false
	}

	if remote.Encrypted {
		return false
	}

	return local.Hash != "" && local.Hash == remote.Hash
}

func planFile(m *MixedEntity, opts PlanOptions) SyncPlanAction {
	// Structural clash: file on one live side, folder on the other.
	if m.Local != nil && m.Remote != nil && m.Local.Folder != m.Remote.Folder {
		return planTypeClash(m, opts)
	}

	lc := classify(m.Local, m.Prev)
	rc := classifyRemote(m.Remote, m.Prev)

	switch {
	case lc == changeAbsent && rc == changeAbsent:
		// Only prev remains, or a tombstone: drop the stale row.
		return action(m.Key, DecisionDropHistory, 0, "gone from both sides, dropping history row")

	case lc == changeDeleted && rc == changeDeleted:
		return action(m.Key, DecisionDropHistory, 0, "deleted on both sides")

	case lc == changeNone && rc == changeNone:
		return action(m.Key, DecisionNoop, 0, "unchanged on both sides")

	case (lc == changeNew || lc == changeModified) && (rc == changeNone || rc == changeAbsent):
		return pushAction(m, opts, reasonFor("local", lc))

	case (rc == changeNew || rc == changeModified) && (lc == changeNone || lc == changeAbsent):
		return pullAction(m, opts, reasonFor("remote", rc))

	case lc == changeDeleted && rc == changeNone:
		return deleteRemoteAction(m, opts)

	case rc == changeDeleted && lc == changeNone:
		return deleteLocalAction(m, opts)

	case lc == changeDeleted && (rc == changeModified || rc == changeNew):
		// Edit overrides delete: the modified side wins.
		return pullAction(m, opts, "remote edit overrides local delete")

	case rc == changeDeleted && (lc == changeModified || lc == changeNew):
		return pushAction(m, opts, "local edit overrides remote delete")

	default:
		// Changed or new on both sides.
		if sameContent(m.Local, m.Remote) {
			return action(m.Key, DecisionNoop, 0, "converged independently, same fingerprint")
		}

		return planConflict(m, opts, "divergent changes on both sides")
	}
}

func reasonFor(side string, c changeKind) string {
	if c == changeNew {
		return side + " new"
	}

	return side + " modified"
}

// planConflict resolves a divergent-change conflict per policy.
func planConflict(m *MixedEntity, opts PlanOptions, why string) SyncPlanAction {
	switch opts.ConflictAction {
	case ConflictKeepLocal:
		return pushAction(m, opts, why+", policy keep-local")

	case ConflictKeepRemote:
		return pullAction(m, opts, why+", policy keep-remote")

	case ConflictKeepBoth:
		return keepBothAction(m, opts, why)

	default: // keep-newer
		if localWinsNewer(m.Local, m.Remote) {
			return pushAction(m, opts, why+", local is newer")
		}

		return pullAction(m, opts, why+", remote is newer")
	}
}

// localWinsNewer implements the documented keep-newer tie-break: larger
// mtime wins; equal mtimes fall to larger size; a full tie keeps local.
func localWinsNewer(local, remote *Entity) bool {
	if local == nil {
		return false
	}

	if remote == nil {
		return true
	}

	if local.MTime != remote.MTime {
		return local.MTime > remote.MTime
	}

	if remote.Size != SizeUnknown && local.Size != remote.Size {
		return local.Size > remote.Size
	}

	return true
}

// planTypeClash handles a file on one live side and a folder on the
// other. The file side is always the one renamed to a conflict copy:
// renaming a folder would rewrite every child key the rest of the plan
// refers to, and dropping a subtree on a timestamp tie loses data.
func planTypeClash(m *MixedEntity, opts PlanOptions) SyncPlanAction {
	if opts.Direction != DirectionBidirectional {
		return action(m.Key, DecisionSkip, 0, "disallowed by direction: file/folder clash needs both directions")
	}

	a := action(m.Key, DecisionKeepBoth, 0, "file/folder clash, keeping file as conflict copy")
	a.ConflictCopyKey = conflictCopyKey(m.Key, opts.Now)
	a.LoserLocal = !m.Local.Folder

	if a.LoserLocal {
		a.SizeBeforeAction = m.Local.Size
	} else {
		a.SizeBeforeAction = m.Remote.Size
	}

	return a
}

func keepBothAction(m *MixedEntity, opts PlanOptions, why string) SyncPlanAction {
	if opts.Direction != DirectionBidirectional {
		return action(m.Key, DecisionSkip, 0, "disallowed by direction: keep-both needs both directions")
	}

	if tooLarge(opts, m.Local.Size) || tooLarge(opts, m.Remote.Size) {
		return action(m.Key, DecisionSkip, maxSize(m.Local.Size, m.Remote.Size), "too large")
	}

	a := action(m.Key, DecisionKeepBoth, m.Remote.Size, why+", policy keep-both")
	a.ConflictCopyKey = conflictCopyKey(m.Key, opts.Now)
	a.LoserLocal = !localWinsNewer(m.Local, m.Remote)

	return a
}

func pushAction(m *MixedEntity, opts PlanOptions, why string) SyncPlanAction {
	if opts.Direction == DirectionPullOnly {
		return action(m.Key, DecisionSkip, 0, "disallowed by direction: "+why)
	}

	size := int64(0)
	if m.Local != nil {
		size = m.Local.Size
	}

	if tooLarge(opts, size) {
		return action(m.Key, DecisionSkip, size, "too large")
	}

	return action(m.Key, DecisionUpload, size, why)
}

func pullAction(m *MixedEntity, opts PlanOptions, why string) SyncPlanAction {
	if opts.Direction == DirectionPushOnly {
		return action(m.Key, DecisionSkip, 0, "disallowed by direction: "+why)
	}

	size := int64(0)
	if m.Remote != nil {
		size = m.Remote.Size
	}

	if tooLarge(opts, size) {
		return action(m.Key, DecisionSkip, size, "too large")
	}

	return action(m.Key, DecisionDownload, size, why)
}

func deleteRemoteAction(m *MixedEntity, opts PlanOptions) SyncPlanAction {
	if opts.Direction == DirectionPullOnly {
		return action(m.Key, DecisionSkip, 0, "disallowed by direction: local delete")
	}

	return action(m.Key, DecisionDeleteRemote, m.Remote.Size, "deleted locally")
}

func deleteLocalAction(m *MixedEntity, opts PlanOptions) SyncPlanAction {
	if opts.Direction == DirectionPushOnly {
		return action(m.Key, DecisionSkip, 0, "disallowed by direction: remote delete")
	}

	return action(m.Key, DecisionDeleteLocal, m.Local.Size, "deleted remotely")
}

// planFolder derives the decision for a pure folder entry. localAfter
// and remoteAfter reflect the keys surviving the plan so far; because
// folders are processed deepest-first, removals cascade upward.
func planFolder(m *MixedEntity, opts PlanOptions, localAfter, remoteAfter map[string]bool) SyncPlanAction {
	hasLocal := m.Local != nil
	hasRemote := m.Remote != nil
	hasPrev := m.Prev != nil && !m.Prev.Deleted

	switch {
	case !hasLocal && !hasRemote:
		if m.Prev != nil {
			return action(m.Key, DecisionDropHistory, 0, "folder gone from both sides")
		}

		return action(m.Key, DecisionNoop, 0, "folder already absent")

	case hasLocal && hasRemote:
		return planFolderCleanup(m, opts, localAfter, remoteAfter)

	case hasLocal && !hasRemote:
		if !hasPrev {
			// New local folder.
			if opts.Direction == DirectionPullOnly {
				return action(m.Key, DecisionSkip, 0, "disallowed by direction: local folder new")
			}

			return action(m.Key, DecisionCreateRemoteFolder, 0, "local folder new")
		}
		// Deleted remotely.
		if opts.Direction == DirectionPushOnly {
			return action(m.Key, DecisionSkip, 0, "disallowed by direction: folder deleted remotely")
		}

		if hasChildren(m.Key, localAfter) {
			return action(m.Key, DecisionNoop, 0, "folder deleted remotely but local children survive")
		}

		if opts.EmptyFolderPolicy != EmptyFolderClean {
			return action(m.Key, DecisionSkip, 0, "empty-folder cleanup disabled")
		}

		return action(m.Key, DecisionRemoveLocalFolder, 0, "folder deleted remotely")

	default: // remote only
		if !hasPrev {
			if opts.Direction == DirectionPushOnly {
				return action(m.Key, DecisionSkip, 0, "disallowed by direction: remote folder new")
			}

			return action(m.Key, DecisionCreateLocalFolder, 0, "remote folder new")
		}

		if opts.Direction == DirectionPullOnly {
			return action(m.Key, DecisionSkip, 0, "disallowed by direction: folder deleted locally")
		}

		if hasChildren(m.Key, remoteAfter) {
			return action(m.Key, DecisionNoop, 0, "folder deleted locally but remote children survive")
		}

		if opts.EmptyFolderPolicy != EmptyFolderClean {
			return action(m.Key, DecisionSkip, 0, "empty-folder cleanup disabled")
		}

		return action(m.Key, DecisionRemoveRemoteFolder, 0, "folder deleted locally")
	}
}

// planFolderCleanup handles a folder present on both sides: clean it up
// on both when the policy says so and nothing survives beneath it.
func planFolderCleanup(m *MixedEntity, opts PlanOptions, localAfter, remoteAfter map[string]bool) SyncPlanAction {
	if opts.EmptyFolderPolicy != EmptyFolderClean {
		return action(m.Key, DecisionNoop, 0, "folder present on both sides")
	}

	// Only prune folders that were already known at last sync: a folder
	// created fresh on either side is presumed intentional even if empty.
	if m.Prev == nil || m.Prev.Deleted {
		return action(m.Key, DecisionNoop, 0, "folder present on both sides")
	}

	if hasChildren(m.Key, localAfter) || hasChildren(m.Key, remoteAfter) {
		return action(m.Key, DecisionNoop, 0, "folder present on both sides")
	}

	if opts.Direction != DirectionBidirectional {
		return action(m.Key, DecisionSkip, 0, "disallowed by direction: empty-folder cleanup needs both directions")
	}

	// One action per key: the executor removes the folder on both sides
	// for this decision.
	return action(m.Key, DecisionRemoveLocalFolder, 0, "empty folder cleanup")
}

func hasChildren(folderKey string, after map[string]bool) bool {
	for key := range after {
		if UnderKey(folderKey, key) {
			return true
		}
	}

	return false
}

func tooLarge(opts PlanOptions, size int64) bool {
	return opts.SkipSizeLargerThan > 0 && size != SizeUnknown && size > opts.SkipSizeLargerThan
}

func maxSize(a, b int64) int64 {
	if a > b {
		return a
	}

	return b
}

func action(key string, d Decision, size int64, reason string) SyncPlanAction {
	return SyncPlanAction{Key: key, Decision: d, SizeBeforeAction: size, Reason: reason}
}

// conflictCopyKey returns the disambiguated key for the losing side of a
// keep-both resolution. Deterministic given the run's now snapshot.
func conflictCopyKey(key string, nowMillis int64) string {
	ext := ""
	base := key

	if idx := strings.LastIndex(key, "."); idx > strings.LastIndex(key, "/") && idx > 0 {
		base, ext = key[:idx], key[idx:]
	}

	stamp := time.UnixMilli(nowMillis).UTC().Format("2006-01-02 150405")

	return fmt.Sprintf("%s (conflicted copy %s)%s", base, stamp, ext)
}

func sortByKey(actions []SyncPlanAction) {
	sort.Slice(actions, func(i, j int) bool {
		return actions[i].Key < actions[j].Key
	})
}

func sortShallowFirst(actions []SyncPlanAction) {
	sort.Slice(actions, func(i, j int) bool {
		di, dj := KeyDepth(actions[i].Key), KeyDepth(actions[j].Key)
		if di != dj {
			return di < dj
		}

		return actions[i].Key < actions[j].Key
	})
}

func sortDeepFirst(actions []SyncPlanAction) {
	sort.Slice(actions, func(i, j int) bool {
		di, dj := KeyDepth(actions[i].Key), KeyDepth(actions[j].Key)
		if di != dj {
			return di > dj
		}

		return actions[i].Key < actions[j].Key
	})
}
