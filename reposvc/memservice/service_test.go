package memservice

import (
	"context"
	"testing"
	"time"

	"github.com/orneryd/contentengine/contenterr"
	"github.com/orneryd/contentengine/itemstate"
	"github.com/orneryd/contentengine/name"
	"github.com/orneryd/contentengine/nodetype"
	"github.com/orneryd/contentengine/workspace"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

func newTestService(t *testing.T) *Service {
	t.Helper()
	reg := nodetype.NewRegistry()
	require.NoError(t, nodetype.LoadBuiltins(reg))
	hash, err := bcrypt.GenerateFromPassword([]byte("s3cret"), bcrypt.MinCost)
	require.NoError(t, err)
	creds := StaticCredentials{"alice": string(hash)}
	return New(reg, name.NewNamespaceRegistry(), creds)
}

func qn(local string) name.QName { return name.NewQName("", local) }

func TestService_Login(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	_, err := svc.Login(ctx, workspace.Credentials{Username: "alice", Password: "wrong"})
	assert.ErrorIs(t, err, contenterr.ErrAccessDenied)

	info, err := svc.Login(ctx, workspace.Credentials{Username: "alice", Password: "s3cret"})
	require.NoError(t, err)
	assert.Equal(t, "default", info.WorkspaceID)
}

func TestService_AddNode_AddProperty_GetChildInfos(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	batch, err := svc.CreateBatch(ctx)
	require.NoError(t, err)

	childID := name.NewNodeID()
	op := itemstate.Op{
		Type:        itemstate.OpAddNode,
		Target:      name.NodeItemID(childID),
		Parent:      name.RootNodeID,
		NewName:     qn("doc"),
		PrimaryType: qn("nt:unstructured"),
	}
	require.NoError(t, svc.AddNode(ctx, batch, op))

	propOp := itemstate.Op{
		Type:    itemstate.OpAddProperty,
		Parent:  childID,
		NewName: qn("title"),
		Values:  []itemstate.Value{{Type: itemstate.TypeString, Raw: "hello"}},
	}
	require.NoError(t, svc.AddProperty(ctx, batch, propOp))

	children, err := svc.GetChildInfos(ctx, name.RootNodeID)
	require.NoError(t, err)
	require.Len(t, children, 1)
	assert.Equal(t, childID, children[0].ID)

	info, err := svc.GetNodeInfo(ctx, childID)
	require.NoError(t, err)
	assert.Equal(t, qn("nt:unstructured"), info.PrimaryType)
}

func TestService_RemoveNode_CascadesChildren(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	batch, _ := svc.CreateBatch(ctx)

	parentID := name.NewNodeID()
	require.NoError(t, svc.AddNode(ctx, batch, itemstate.Op{
		Target: name.NodeItemID(parentID), Parent: name.RootNodeID,
		NewName: qn("folder"), PrimaryType: qn("nt:folder"),
	}))
	childID := name.NewNodeID()
	require.NoError(t, svc.AddNode(ctx, batch, itemstate.Op{
		Target: name.NodeItemID(childID), Parent: parentID,
		NewName: qn("file"), PrimaryType: qn("nt:unstructured"),
	}))

	require.NoError(t, svc.Remove(ctx, batch, itemstate.Op{Type: itemstate.OpRemove, Target: name.NodeItemID(parentID)}))

	_, err := svc.GetNodeInfo(ctx, parentID)
	assert.ErrorIs(t, err, contenterr.ErrItemNotFound)
	_, err = svc.GetNodeInfo(ctx, childID)
	assert.ErrorIs(t, err, contenterr.ErrItemNotFound)
}

func TestService_Lock_PreventsDoubleLock(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	node := name.NewNodeID()

	_, err := svc.Lock(ctx, node, false, false)
	require.NoError(t, err)
	_, err = svc.Lock(ctx, node, false, false)
	assert.ErrorIs(t, err, contenterr.ErrLocked)
}

func TestService_GetEvents_DeliversAfterSubmit(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	filterID, err := svc.CreateEventFilter(ctx, workspace.EventFilter{})
	require.NoError(t, err)

	batch, _ := svc.CreateBatch(ctx)
	require.NoError(t, svc.Submit(ctx, batch, &itemstate.ChangeLog{}))

	bundles, err := svc.GetEvents(ctx, 200*time.Millisecond, []string{filterID})
	require.NoError(t, err)
	require.Len(t, bundles, 1)
	assert.Equal(t, itemstate.EventModified, bundles[0].Events[0].Kind)
}

func TestService_GetEvents_TimesOutWithNoEvents(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	filterID, _ := svc.CreateEventFilter(ctx, workspace.EventFilter{})

	start := time.Now()
	bundles, err := svc.GetEvents(ctx, 50*time.Millisecond, []string{filterID})
	require.NoError(t, err)
	assert.Empty(t, bundles)
	assert.GreaterOrEqual(t, time.Since(start), 50*time.Millisecond)
}

func TestService_ExecuteQuery_Unsupported(t *testing.T) {
	svc := newTestService(t)
	_, err := svc.ExecuteQuery(context.Background(), "sql", "select *")
	assert.ErrorIs(t, err, contenterr.ErrNotSupportedOption)
}
