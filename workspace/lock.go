package workspace

import (
	"sync"

	"github.com/orneryd/contentengine/contenterr"
	"github.com/orneryd/contentengine/name"
)

// lockEntry is one held lock: either deep (covers the subtree) or
// shallow, and either session-scoped (token can't be released via
// removeLockToken, only via explicit unlock) or open.
type lockEntry struct {
	owner           string
	token           string
	isDeep          bool
	isSessionScoped bool
}

// LockManager tracks held locks by node id under a single mutex,
// grounded on apoc/lock/lock.go's nodeLocks map[int64]*sync.RWMutex
// pattern generalized from bare mutex handles to full lock records
// (owner/token/deep/session-scope) since this engine's locks are
// data, not just mutual-exclusion primitives.
type LockManager struct {
	mu    sync.Mutex
	locks map[name.NodeID]*lockEntry

	// sessionTokens maps a session's held tokens, for addLockToken/
	// removeLockToken (spec.md §4.5).
	sessionTokens map[string]map[string]struct{} // sessionID -> token set
}

// NewLockManager creates an empty LockManager.
func NewLockManager() *LockManager {
	return &LockManager{
		locks:         make(map[name.NodeID]*lockEntry),
		sessionTokens: make(map[string]map[string]struct{}),
	}
}

// Lock acquires a lock on node for owner. Fails with contenterr.ErrLocked
// if node already holds a lock, whoever its owner is. Callers acquiring a deep lock
// must separately call IsDescendantLocked first and fail the whole
// operation if it reports a conflict, since LockManager has no
// hierarchy view of its own and so cannot enumerate node's descendants.
func (lm *LockManager) Lock(node name.NodeID, owner string, isDeep, isSessionScoped bool) (LockInfo, error) {
	lm.mu.Lock()
	defer lm.mu.Unlock()

	if existing, ok := lm.locks[node]; ok {
		return LockInfo{}, contenterr.Wrap(contenterr.ErrLocked, "node "+node.String()+" held by "+existing.owner)
	}

	token := newLockToken(node, owner)
	lm.locks[node] = &lockEntry{owner: owner, token: token, isDeep: isDeep, isSessionScoped: isSessionScoped}
	return LockInfo{Owner: owner, IsDeep: isDeep, Token: token, NodeID: node}, nil
}

// Unlock releases node's lock unconditionally (the explicit unlock
// path required even for session-scoped locks, per spec.md §4.5).
func (lm *LockManager) Unlock(node name.NodeID) error {
	lm.mu.Lock()
	defer lm.mu.Unlock()

	if _, ok := lm.locks[node]; !ok {
		return contenterr.Wrap(contenterr.ErrInvalidItemState, "node "+node.String()+" not locked")
	}
	delete(lm.locks, node)
	return nil
}

// RefreshLock checks that token matches the lock currently held on
// node. Locks carry no lease or expiry, so nothing is extended.
func (lm *LockManager) RefreshLock(node name.NodeID, token string) error {
	lm.mu.Lock()
	defer lm.mu.Unlock()

	entry, ok := lm.locks[node]
	if !ok || entry.token != token {
		return contenterr.Wrap(contenterr.ErrInvalidItemState, "no matching lock for token")
	}
	return nil
}

// GetLockInfo returns the current lock on node, if any.
func (lm *LockManager) GetLockInfo(node name.NodeID) (LockInfo, bool) {
	lm.mu.Lock()
	defer lm.mu.Unlock()

	entry, ok := lm.locks[node]
	if !ok {
		return LockInfo{}, false
	}
	return LockInfo{Owner: entry.owner, IsDeep: entry.isDeep, Token: entry.token, NodeID: node}, true
}

// IsLocked reports whether node currently has a lock entry.
func (lm *LockManager) IsLocked(node name.NodeID) bool {
	lm.mu.Lock()
	defer lm.mu.Unlock()
	_, ok := lm.locks[node]
	return ok
}

// AddLockToken records tok in sessionID's credential set without
// verifying cross-session uniqueness, per spec.md §4.5 ("the protocol
// cannot enforce it").
func (lm *LockManager) AddLockToken(sessionID, tok string) {
	lm.mu.Lock()
	defer lm.mu.Unlock()
	set, ok := lm.sessionTokens[sessionID]
	if !ok {
		set = make(map[string]struct{})
		lm.sessionTokens[sessionID] = set
	}
	set[tok] = struct{}{}
}

// RemoveLockToken removes tok from sessionID's set. Removing an absent
// token raises NotHolder (modeled here as AccessDenied, the closest
// taxonomy sentinel — spec.md doesn't add a dedicated NotHolder kind).
// A session-scoped lock's token cannot be released this way; the lock
// must be explicitly unlocked (spec.md §4.5).
func (lm *LockManager) RemoveLockToken(sessionID, tok string) error {
	lm.mu.Lock()
	defer lm.mu.Unlock()

	for _, entry := range lm.locks {
		if entry.token == tok && entry.isSessionScoped {
			return contenterr.Wrap(contenterr.ErrAccessDenied, "session-scoped lock token must be released via unlock")
		}
	}

	set, ok := lm.sessionTokens[sessionID]
	if !ok {
		return contenterr.Wrap(contenterr.ErrAccessDenied, "not a holder of token "+tok)
	}
	if _, ok := set[tok]; !ok {
		return contenterr.Wrap(contenterr.ErrAccessDenied, "not a holder of token "+tok)
	}
	delete(set, tok)
	return nil
}

// CheckLock implements spec.md §4.5's lock resolution for a mutating
// operation against node: the node itself held by a different owner
// blocks outright, and so does any ancestor (in any order) holding a
// deep lock owned by someone else. A shallow lock on an ancestor does
// not restrict its descendants. Callers supply ancestors since
// LockManager has no hierarchy view of its own.
func (lm *LockManager) CheckLock(node name.NodeID, ancestors []name.NodeID, owner string) error {
	lm.mu.Lock()
	defer lm.mu.Unlock()

	if entry, ok := lm.locks[node]; ok && entry.owner != owner {
		return contenterr.Wrap(contenterr.ErrLocked, "node "+node.String()+" is locked by "+entry.owner)
	}
	for _, anc := range ancestors {
		entry, ok := lm.locks[anc]
		if ok && entry.isDeep && entry.owner != owner {
			return contenterr.Wrap(contenterr.ErrLocked, "node "+node.String()+" is under a deep lock held by "+entry.owner+" at "+anc.String())
		}
	}
	return nil
}

// IsDescendantLocked reports whether any of descendants already holds
// its own lock entry, which conflicts with acquiring a new deep lock on
// an ancestor. Called as a separate step from Lock, never while lm.mu
// is already held, since mu is not reentrant.
func (lm *LockManager) IsDescendantLocked(descendants []name.NodeID) (name.NodeID, bool) {
	lm.mu.Lock()
	defer lm.mu.Unlock()

	for _, d := range descendants {
		if _, ok := lm.locks[d]; ok {
			return d, true
		}
	}
	return name.NodeID{}, false
}

func newLockToken(node name.NodeID, owner string) string {
	return node.String() + ":" + owner
}
