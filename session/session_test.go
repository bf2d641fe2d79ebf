package session

import (
	"context"
	"testing"

	"github.com/orneryd/contentengine/contenterr"
	"github.com/orneryd/contentengine/itemmgr"
	"github.com/orneryd/contentengine/itemstate"
	"github.com/orneryd/contentengine/name"
	"github.com/orneryd/contentengine/nodetype"
	"github.com/orneryd/contentengine/reposvc/memservice"
	"github.com/orneryd/contentengine/workspace"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

func qn(local string) name.QName { return name.NewQName("", local) }

func newTestSession(t *testing.T) (*Session, *workspace.Coordinator) {
	t.Helper()
	reg := nodetype.NewRegistry()
	require.NoError(t, nodetype.LoadBuiltins(reg))

	hash, err := bcrypt.GenerateFromPassword([]byte("s3cret"), bcrypt.MinCost)
	require.NoError(t, err)
	creds := memservice.StaticCredentials{"alice": string(hash)}

	namespaces := name.NewNamespaceRegistry()
	svc := memservice.New(reg, namespaces, creds)
	coord := workspace.NewCoordinator(svc, workspace.NewLockManager(), workspace.DefaultConfig())
	t.Cleanup(coord.Close)

	sess, err := Login(context.Background(), coord, reg, namespaces, workspace.Credentials{Username: "alice", Password: "s3cret"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = sess.Logout() })
	return sess, coord
}

func TestLogin_RejectsBadPassword(t *testing.T) {
	reg := nodetype.NewRegistry()
	require.NoError(t, nodetype.LoadBuiltins(reg))
	hash, _ := bcrypt.GenerateFromPassword([]byte("s3cret"), bcrypt.MinCost)
	namespaces := name.NewNamespaceRegistry()
	svc := memservice.New(reg, namespaces, memservice.StaticCredentials{"alice": string(hash)})
	coord := workspace.NewCoordinator(svc, workspace.NewLockManager(), workspace.DefaultConfig())
	defer coord.Close()

	_, err := Login(context.Background(), coord, reg, namespaces, workspace.Credentials{Username: "alice", Password: "wrong"})
	assert.ErrorIs(t, err, contenterr.ErrAccessDenied)
}

func TestSession_AddNodeAddPropertySaveAndReload(t *testing.T) {
	sess, coord := newTestSession(t)

	childID, err := sess.AddNode(name.RootNodeID, qn("a"), qn("nt:unstructured"))
	require.NoError(t, err)

	_, err = sess.AddProperty(childID, qn("p"), itemstate.TypeLong, false, []itemstate.Value{{Type: itemstate.TypeLong, Raw: int64(42)}})
	require.NoError(t, err)

	require.NoError(t, sess.Save())
	assert.False(t, sess.HasPendingChanges())

	// A fresh session must see the saved data through the repository.
	reg := nodetype.NewRegistry()
	require.NoError(t, nodetype.LoadBuiltins(reg))
	fresh, err := Login(context.Background(), coord, reg, name.NewNamespaceRegistry(), workspace.Credentials{Username: "alice", Password: "s3cret"})
	require.NoError(t, err)
	defer fresh.Logout()

	item, err := fresh.GetItem(name.Root.Child(name.Element{Name: qn("a"), Index: 1}))
	require.NoError(t, err)
	require.True(t, item.IsNode())
	node, ok := item.(*itemmgr.Node)
	require.True(t, ok)
	assert.Equal(t, qn("nt:unstructured"), node.PrimaryType())

	propItem, err := fresh.GetItem(name.Root.Child(name.Element{Name: qn("a"), Index: 1}).Child(name.Element{Name: qn("p"), Index: 1}))
	require.NoError(t, err)
	prop, ok := propItem.(*itemmgr.Property)
	require.True(t, ok)
	require.Len(t, prop.Values(), 1)
	assert.Equal(t, int64(42), prop.Values()[0].Raw)
}

func TestSession_Refresh_DiscardsPendingChanges(t *testing.T) {
	sess, _ := newTestSession(t)

	_, err := sess.AddNode(name.RootNodeID, qn("b"), qn("nt:unstructured"))
	require.NoError(t, err)
	assert.True(t, sess.HasPendingChanges())

	require.NoError(t, sess.Refresh(false))
	assert.False(t, sess.HasPendingChanges())
	assert.False(t, sess.ItemExists(name.Root.Child(name.Element{Name: qn("b"), Index: 1})))
}

func TestSession_RemoveItem_NewNodeDisappearsOutright(t *testing.T) {
	sess, _ := newTestSession(t)

	childID, err := sess.AddNode(name.RootNodeID, qn("c"), qn("nt:unstructured"))
	require.NoError(t, err)

	require.NoError(t, sess.RemoveItem(name.NodeItemID(childID)))
	assert.False(t, sess.ItemExists(name.Root.Child(name.Element{Name: qn("c"), Index: 1})))
}

func TestSession_Logout_IsIdempotent(t *testing.T) {
	sess, _ := newTestSession(t)
	require.NoError(t, sess.Logout())
	require.NoError(t, sess.Logout())
	assert.False(t, sess.IsLive())
}

// TestSession_DeepLock_BlocksDescendantMutationFromOtherSession covers
// spec.md §4.5's Testable Property S5: alice deep-locks a node, bob
// then fails to add a child under a descendant of it.
func TestSession_DeepLock_BlocksDescendantMutationFromOtherSession(t *testing.T) {
	reg := nodetype.NewRegistry()
	require.NoError(t, nodetype.LoadBuiltins(reg))
	aliceHash, err := bcrypt.GenerateFromPassword([]byte("s3cret"), bcrypt.MinCost)
	require.NoError(t, err)
	bobHash, err := bcrypt.GenerateFromPassword([]byte("s3cret"), bcrypt.MinCost)
	require.NoError(t, err)
	creds := memservice.StaticCredentials{"alice": string(aliceHash), "bob": string(bobHash)}
	namespaces := name.NewNamespaceRegistry()
	svc := memservice.New(reg, namespaces, creds)
	coord := workspace.NewCoordinator(svc, workspace.NewLockManager(), workspace.DefaultConfig())
	defer coord.Close()

	alice, err := Login(context.Background(), coord, reg, namespaces, workspace.Credentials{Username: "alice", Password: "s3cret"})
	require.NoError(t, err)
	defer alice.Logout()

	bob, err := Login(context.Background(), coord, reg, namespaces, workspace.Credentials{Username: "bob", Password: "s3cret"})
	require.NoError(t, err)
	defer bob.Logout()

	n, err := alice.AddNode(name.RootNodeID, qn("n"), qn("nt:unstructured"))
	require.NoError(t, err)
	descendant, err := alice.AddNode(n, qn("child"), qn("nt:unstructured"))
	require.NoError(t, err)
	require.NoError(t, alice.Save())

	_, err = alice.Lock(n, true, true, nil)
	require.NoError(t, err)

	_, err = bob.AddNode(descendant, qn("grandchild"), qn("nt:unstructured"))
	assert.ErrorIs(t, err, contenterr.ErrLocked)

	_, err = alice.AddNode(descendant, qn("grandchild"), qn("nt:unstructured"))
	assert.NoError(t, err)
}

func TestSession_OperationOnClosedSession_IsInvalidItemState(t *testing.T) {
	sess, _ := newTestSession(t)
	require.NoError(t, sess.Logout())

	_, err := sess.GetItem(name.Root)
	assert.ErrorIs(t, err, contenterr.ErrInvalidItemState)

	err = sess.Save()
	assert.ErrorIs(t, err, contenterr.ErrInvalidItemState)
}
