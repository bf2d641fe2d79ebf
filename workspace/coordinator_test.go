package workspace

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/orneryd/contentengine/itemstate"
	"github.com/orneryd/contentengine/name"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeService implements RepositoryService with just enough behavior
// to exercise Coordinator.Submit and the poll loop; every other method
// returns a zero value, matching the interface's stub surface for
// operations this test doesn't drive.
type fakeService struct {
	mu           sync.Mutex
	observation  bool
	appliedOps   []itemstate.OpType
	submittedLog *itemstate.ChangeLog
	eventsToSend []EventBundle
	eventsSent   bool
}

func (f *fakeService) Login(context.Context, Credentials) (SessionInfo, error) { return SessionInfo{}, nil }
func (f *fakeService) Obtain(context.Context, SessionInfo, string) (SessionInfo, error) {
	return SessionInfo{}, nil
}
func (f *fakeService) Dispose(context.Context, SessionInfo) error             { return nil }
func (f *fakeService) GetRepositoryDescriptors(context.Context) (Descriptors, error) {
	return Descriptors{}, nil
}
func (f *fakeService) GetWorkspaceNames(context.Context) ([]string, error) { return nil, nil }
func (f *fakeService) GetRootID(context.Context) (name.NodeID, error)      { return name.RootNodeID, nil }
func (f *fakeService) GetItemInfo(context.Context, name.ItemID) (ItemInfo, error) {
	return ItemInfo{}, nil
}
func (f *fakeService) GetNodeInfo(context.Context, name.NodeID) (NodeInfo, error) {
	return NodeInfo{}, nil
}
func (f *fakeService) GetChildInfos(context.Context, name.NodeID) ([]ChildInfo, error) {
	return nil, nil
}
func (f *fakeService) GetPropertyInfo(context.Context, name.PropertyID) (PropertyInfo, error) {
	return PropertyInfo{}, nil
}
func (f *fakeService) GetNodeTypeDefinitions(context.Context) ([]NodeTypeDescriptor, error) {
	return nil, nil
}
func (f *fakeService) GetNodeDefinition(context.Context, name.QName) (NodeTypeDescriptor, error) {
	return NodeTypeDescriptor{}, nil
}
func (f *fakeService) GetRegisteredNamespaces(context.Context) (map[string]string, error) {
	return nil, nil
}
func (f *fakeService) RegisterNamespace(context.Context, string, string) error   { return nil }
func (f *fakeService) UnregisterNamespace(context.Context, string) error        { return nil }
func (f *fakeService) IsGranted(context.Context, name.ItemID, []string) (bool, error) {
	return true, nil
}
func (f *fakeService) CreateBatch(context.Context) (BatchHandle, error) { return BatchHandle{ID: "b1"}, nil }
func (f *fakeService) Submit(_ context.Context, _ BatchHandle, log *itemstate.ChangeLog) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.submittedLog = log
	return nil
}
func (f *fakeService) recordOp(op itemstate.Op) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.appliedOps = append(f.appliedOps, op.Type)
}
func (f *fakeService) AddNode(_ context.Context, _ BatchHandle, op itemstate.Op) error {
	f.recordOp(op)
	return nil
}
func (f *fakeService) AddProperty(_ context.Context, _ BatchHandle, op itemstate.Op) error {
	f.recordOp(op)
	return nil
}
func (f *fakeService) SetValue(_ context.Context, _ BatchHandle, op itemstate.Op) error {
	f.recordOp(op)
	return nil
}
func (f *fakeService) SetMixins(_ context.Context, _ BatchHandle, op itemstate.Op) error {
	f.recordOp(op)
	return nil
}
func (f *fakeService) Remove(_ context.Context, _ BatchHandle, op itemstate.Op) error {
	f.recordOp(op)
	return nil
}
func (f *fakeService) Move(_ context.Context, _ BatchHandle, op itemstate.Op) error {
	f.recordOp(op)
	return nil
}
func (f *fakeService) ReorderNodes(_ context.Context, _ BatchHandle, op itemstate.Op) error {
	f.recordOp(op)
	return nil
}
func (f *fakeService) Copy(context.Context, name.Path, name.Path) error   { return nil }
func (f *fakeService) Clone(context.Context, string, name.Path, name.Path) error { return nil }
func (f *fakeService) Update(context.Context, name.Path, string) error    { return nil }
func (f *fakeService) ImportXML(context.Context, name.NodeID, []byte) error { return nil }
func (f *fakeService) Checkout(context.Context, name.NodeID) error        { return nil }
func (f *fakeService) Checkin(context.Context, name.NodeID) (name.NodeID, error) {
	return name.NodeID{}, nil
}
func (f *fakeService) Restore(context.Context, name.NodeID, name.NodeID, bool) error { return nil }
func (f *fakeService) Merge(context.Context, string, name.NodeID) ([]name.NodeID, error) {
	return nil, nil
}
func (f *fakeService) ResolveMergeConflict(context.Context, name.NodeID, bool) error { return nil }
func (f *fakeService) AddVersionLabel(context.Context, name.NodeID, string, bool) error {
	return nil
}
func (f *fakeService) RemoveVersionLabel(context.Context, name.NodeID, string) error { return nil }
func (f *fakeService) RemoveVersion(context.Context, name.NodeID) error              { return nil }
func (f *fakeService) Lock(context.Context, name.NodeID, bool, bool) (LockInfo, error) {
	return LockInfo{}, nil
}
func (f *fakeService) RefreshLock(context.Context, name.NodeID, string) error { return nil }
func (f *fakeService) Unlock(context.Context, name.NodeID) error             { return nil }
func (f *fakeService) GetLockInfo(context.Context, name.NodeID) (LockInfo, bool, error) {
	return LockInfo{}, false, nil
}
func (f *fakeService) SupportsObservation() bool { return f.observation }
func (f *fakeService) CreateEventFilter(context.Context, EventFilter) (string, error) {
	return "f1", nil
}
func (f *fakeService) GetEvents(context.Context, time.Duration, []string) ([]EventBundle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.eventsSent {
		return nil, nil
	}
	f.eventsSent = true
	return f.eventsToSend, nil
}
func (f *fakeService) ExecuteQuery(context.Context, string, string) (QueryResult, error) {
	return QueryResult{}, nil
}
func (f *fakeService) CheckQueryStatement(context.Context, string, string) error { return nil }
func (f *fakeService) GetSupportedQueryLanguages(context.Context) ([]string, error) {
	return nil, nil
}

func TestCoordinator_Submit_AppliesOpsInOrder(t *testing.T) {
	svc := &fakeService{}
	c := NewCoordinator(svc, NewLockManager(), DefaultConfig())
	defer c.Close()

	log := &itemstate.ChangeLog{TargetID: name.RootNodeID}
	log.Add(itemstate.Op{Type: itemstate.OpAddNode})
	log.Add(itemstate.Op{Type: itemstate.OpAddProperty})

	require.NoError(t, c.Submit(log))
	assert.Equal(t, []itemstate.OpType{itemstate.OpAddNode, itemstate.OpAddProperty}, svc.appliedOps)
	assert.Same(t, log, svc.submittedLog)
}

func TestCoordinator_PollLoop_DispatchesToListener(t *testing.T) {
	svc := &fakeService{observation: true}
	c := NewCoordinator(svc, NewLockManager(), DefaultConfig())
	defer c.Close()

	received := make(chan itemstate.Event, 1)
	c.AddListener(EventFilter{ID: "f1"}, func(e itemstate.Event) {
		received <- e
	})

	svc.mu.Lock()
	svc.eventsToSend = []EventBundle{{FilterID: "f1", Events: []itemstate.Event{{Kind: itemstate.EventModified}}}}
	svc.eventsSent = false
	svc.mu.Unlock()

	select {
	case e := <-received:
		assert.Equal(t, itemstate.EventModified, e.Kind)
	case <-time.After(2 * time.Second):
		t.Fatal("expected dispatched event")
	}
}

func TestCoordinator_NoObservation_NeverPolls(t *testing.T) {
	svc := &fakeService{observation: false}
	c := NewCoordinator(svc, NewLockManager(), DefaultConfig())
	c.Close() // must return promptly since doneCh is already closed
}
