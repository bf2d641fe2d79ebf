package workspace

import (
	"testing"

	"github.com/orneryd/contentengine/contenterr"
	"github.com/orneryd/contentengine/name"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLockManager_LockAndUnlock(t *testing.T) {
	lm := NewLockManager()
	node := name.NewNodeID()

	info, err := lm.Lock(node, "alice", false, false)
	require.NoError(t, err)
	assert.Equal(t, "alice", info.Owner)
	assert.True(t, lm.IsLocked(node))

	_, err = lm.Lock(node, "bob", false, false)
	assert.ErrorIs(t, err, contenterr.ErrLocked)

	require.NoError(t, lm.Unlock(node))
	assert.False(t, lm.IsLocked(node))
}

func TestLockManager_SessionScopedTokenNotRemovableViaRemoveLockToken(t *testing.T) {
	lm := NewLockManager()
	node := name.NewNodeID()

	info, err := lm.Lock(node, "alice", false, true)
	require.NoError(t, err)
	lm.AddLockToken("sess-1", info.Token)

	err = lm.RemoveLockToken("sess-1", info.Token)
	assert.Error(t, err, "session-scoped lock tokens must be released via Unlock")
}

func TestLockManager_RemoveAbsentTokenFails(t *testing.T) {
	lm := NewLockManager()
	err := lm.RemoveLockToken("sess-1", "nope")
	assert.Error(t, err)
}

func TestLockManager_AddThenRemoveOrdinaryToken(t *testing.T) {
	lm := NewLockManager()
	node := name.NewNodeID()
	info, err := lm.Lock(node, "alice", false, false)
	require.NoError(t, err)

	lm.AddLockToken("sess-1", info.Token)
	require.NoError(t, lm.RemoveLockToken("sess-1", info.Token))
}

// TestLockManager_CheckLock_DeepLockBlocksDescendant covers spec.md
// §4.5's Testable Property S5: alice deep-locks N, bob's mutation of a
// descendant of N is rejected even though the descendant itself is
// never locked.
func TestLockManager_CheckLock_DeepLockBlocksDescendant(t *testing.T) {
	lm := NewLockManager()
	n := name.NewNodeID()
	descendant := name.NewNodeID()

	_, err := lm.Lock(n, "alice", true, true)
	require.NoError(t, err)

	err = lm.CheckLock(descendant, []name.NodeID{n}, "bob")
	assert.ErrorIs(t, err, contenterr.ErrLocked)

	assert.NoError(t, lm.CheckLock(descendant, []name.NodeID{n}, "alice"))
}

func TestLockManager_CheckLock_ShallowLockDoesNotBlockDescendant(t *testing.T) {
	lm := NewLockManager()
	n := name.NewNodeID()
	descendant := name.NewNodeID()

	_, err := lm.Lock(n, "alice", false, true)
	require.NoError(t, err)

	assert.NoError(t, lm.CheckLock(descendant, []name.NodeID{n}, "bob"))
}

func TestLockManager_CheckLock_DirectLockBlocksOtherOwner(t *testing.T) {
	lm := NewLockManager()
	node := name.NewNodeID()

	_, err := lm.Lock(node, "alice", false, false)
	require.NoError(t, err)

	assert.ErrorIs(t, lm.CheckLock(node, nil, "bob"), contenterr.ErrLocked)
	assert.NoError(t, lm.CheckLock(node, nil, "alice"))
}

func TestLockManager_IsDescendantLocked(t *testing.T) {
	lm := NewLockManager()
	descendant := name.NewNodeID()
	other := name.NewNodeID()

	_, locked := lm.IsDescendantLocked([]name.NodeID{descendant, other})
	assert.False(t, locked)

	_, err := lm.Lock(descendant, "alice", false, false)
	require.NoError(t, err)

	found, locked := lm.IsDescendantLocked([]name.NodeID{descendant, other})
	assert.True(t, locked)
	assert.Equal(t, descendant, found)
}
