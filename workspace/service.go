// Package workspace implements the Workspace Coordinator from
// spec.md §4.5: the boundary between client-issued operations and the
// asynchronous Repository Service change feed, plus lock-token
// handling. It is grounded on the teacher's pkg/storage/async_engine.go
// background-worker shape and apoc/lock/lock.go's id-keyed mutex table.
package workspace

import (
	"context"
	"time"

	"github.com/orneryd/contentengine/itemstate"
	"github.com/orneryd/contentengine/name"
)

// ItemInfo/NodeInfo/ChildInfo are the wire-level shapes the Repository
// Service returns, standing in for spec.md §6's getItemInfo/getNodeInfo
// /getChildInfos results.
type ItemInfo struct {
	ID       name.ItemID
	ParentID name.NodeID
	HasParent bool
	IsNode   bool
}

type NodeInfo struct {
	ItemInfo
	PrimaryType   name.QName
	MixinTypes    []name.QName
	PropertyNames []name.QName
}

type ChildInfo struct {
	Name  name.QName
	Index int
	ID    name.NodeID
}

// PropertyInfo is the wire-level shape of a property's persisted
// value(s), standing in for spec.md §6's getPropertyInfo.
type PropertyInfo struct {
	Type        itemstate.ValueType
	Multivalued bool
	Values      []itemstate.Value
}

// Descriptors is the static repository metadata returned by
// getRepositoryDescriptors.
type Descriptors struct {
	Name    string
	Vendor  string
	Version string
}

// EventBundle is one delivery from getEvents: a batch of typed
// itemstate events plus the filter id they matched, per spec.md §4.5's
// change feed.
type EventBundle struct {
	FilterID string
	Events   []itemstate.Event
}

// EventFilter describes what an internal listener (hierarchy
// invalidation, node-type coherence, lock listeners) wants delivered.
type EventFilter struct {
	ID          string
	WorkspaceID string
	NodeIDs     []name.NodeID // empty means "all"
}

// LockInfo mirrors getLockInfo's result.
type LockInfo struct {
	Owner   string
	IsDeep  bool
	Token   string
	NodeID  name.NodeID
}

// RepositoryService is the outbound RPC boundary from spec.md §6: the
// full set of operations a session/Coordinator drives. Concrete
// implementations live under reposvc/ (in-memory and Badger-backed).
type RepositoryService interface {
	// Session lifecycle.
	Login(ctx context.Context, credentials Credentials) (SessionInfo, error)
	Obtain(ctx context.Context, sessionInfo SessionInfo, switchWorkspace string) (SessionInfo, error)
	Dispose(ctx context.Context, sessionInfo SessionInfo) error
	GetRepositoryDescriptors(ctx context.Context) (Descriptors, error)
	GetWorkspaceNames(ctx context.Context) ([]string, error)

	// Read surface.
	GetRootID(ctx context.Context) (name.NodeID, error)
	GetItemInfo(ctx context.Context, id name.ItemID) (ItemInfo, error)
	GetNodeInfo(ctx context.Context, id name.NodeID) (NodeInfo, error)
	GetChildInfos(ctx context.Context, parent name.NodeID) ([]ChildInfo, error)
	GetPropertyInfo(ctx context.Context, id name.PropertyID) (PropertyInfo, error)

	// Node-type metadata.
	GetNodeTypeDefinitions(ctx context.Context) ([]NodeTypeDescriptor, error)
	GetNodeDefinition(ctx context.Context, primaryType name.QName) (NodeTypeDescriptor, error)

	// Namespaces.
	GetRegisteredNamespaces(ctx context.Context) (map[string]string, error)
	RegisterNamespace(ctx context.Context, prefix, uri string) error
	UnregisterNamespace(ctx context.Context, prefix string) error

	// Access control.
	IsGranted(ctx context.Context, id name.ItemID, actions []string) (bool, error)

	// Batch/mutation surface.
	CreateBatch(ctx context.Context) (BatchHandle, error)
	Submit(ctx context.Context, batch BatchHandle, log *itemstate.ChangeLog) error
	AddNode(ctx context.Context, batch BatchHandle, op itemstate.Op) error
	AddProperty(ctx context.Context, batch BatchHandle, op itemstate.Op) error
	SetValue(ctx context.Context, batch BatchHandle, op itemstate.Op) error
	SetMixins(ctx context.Context, batch BatchHandle, op itemstate.Op) error
	Remove(ctx context.Context, batch BatchHandle, op itemstate.Op) error
	Move(ctx context.Context, batch BatchHandle, op itemstate.Op) error
	ReorderNodes(ctx context.Context, batch BatchHandle, op itemstate.Op) error
	Copy(ctx context.Context, srcPath, destPath name.Path) error
	Clone(ctx context.Context, srcWorkspace string, srcPath, destPath name.Path) error
	Update(ctx context.Context, path name.Path, srcWorkspace string) error
	ImportXML(ctx context.Context, parent name.NodeID, data []byte) error

	// Versioning, delegated to by versioning.Manager.
	Checkout(ctx context.Context, node name.NodeID) error
	Checkin(ctx context.Context, node name.NodeID) (versionID name.NodeID, err error)
	Restore(ctx context.Context, node name.NodeID, versionID name.NodeID, removeExisting bool) error
	Merge(ctx context.Context, srcWorkspace string, node name.NodeID) ([]name.NodeID, error)
	ResolveMergeConflict(ctx context.Context, node name.NodeID, done bool) error
	AddVersionLabel(ctx context.Context, versionID name.NodeID, label string, moveLabel bool) error
	RemoveVersionLabel(ctx context.Context, versionHistoryID name.NodeID, label string) error
	RemoveVersion(ctx context.Context, versionID name.NodeID) error

	// Locking.
	Lock(ctx context.Context, node name.NodeID, isDeep, isSessionScoped bool) (LockInfo, error)
	RefreshLock(ctx context.Context, node name.NodeID, token string) error
	Unlock(ctx context.Context, node name.NodeID) error
	GetLockInfo(ctx context.Context, node name.NodeID) (LockInfo, bool, error)

	// Change feed.
	SupportsObservation() bool
	CreateEventFilter(ctx context.Context, filter EventFilter) (string, error)
	GetEvents(ctx context.Context, pollTimeout time.Duration, filterIDs []string) ([]EventBundle, error)

	// Query, stubbed per spec.md's Non-goals: these exist on the
	// interface because spec.md §6 lists them. Both implementations in
	// reposvc/ return contenterr.ErrNotSupportedOption from ExecuteQuery
	// and CheckQueryStatement, and an empty language list from
	// GetSupportedQueryLanguages.
	ExecuteQuery(ctx context.Context, language, statement string) (QueryResult, error)
	CheckQueryStatement(ctx context.Context, language, statement string) error
	GetSupportedQueryLanguages(ctx context.Context) ([]string, error)
}

// Credentials is the inbound login payload; password is checked with
// bcrypt by the concrete service's Login.
type Credentials struct {
	Username string
	Password string
}

// SessionInfo is the opaque service-side session handle returned by
// Login/Obtain and required by every subsequent call in a full RPC
// transport; the in-process implementations in reposvc/ thread it
// through but don't serialize it.
type SessionInfo struct {
	Token       string
	WorkspaceID string
}

// BatchHandle identifies an open batch created by CreateBatch.
type BatchHandle struct {
	ID string
}

// NodeTypeDescriptor is the wire shape for a registered node type,
// mirroring nodetype.Definition without importing that package (kept
// decoupled from the transient state plumbing).
type NodeTypeDescriptor struct {
	Name       name.QName
	IsMixin    bool
	Supertypes []name.QName
}

// QueryResult is the stubbed query surface's return shape; always
// empty in this engine (see SPEC_FULL.md's Non-goals).
type QueryResult struct {
	Columns []string
	Rows    [][]any
}
