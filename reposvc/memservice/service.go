// Package memservice implements an in-memory workspace.RepositoryService,
// grounded on pkg/storage/memory.go's MemoryEngine: id-keyed maps under a
// single RWMutex, deep-copied reads, label/child indexes maintained
// alongside the primary map. Where MemoryEngine indexes nodes by label,
// Service indexes them by parent node id (the JCR child-list analogue).
package memservice

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/orneryd/contentengine/contenterr"
	"github.com/orneryd/contentengine/itemstate"
	"github.com/orneryd/contentengine/name"
	"github.com/orneryd/contentengine/nodetype"
	"github.com/orneryd/contentengine/workspace"
	"golang.org/x/crypto/bcrypt"
)

// storedNode is the persistent record for one node, independent of any
// session's transient itemstate.State overlay.
type storedNode struct {
	id          name.NodeID
	parent      name.NodeID
	hasParent   bool
	primaryType name.QName
	mixins      map[name.QName]struct{}
	children    []itemstate.ChildNodeEntry
	properties  map[name.QName]*storedProperty
}

type storedProperty struct {
	valueType   itemstate.ValueType
	multivalued bool
	values      []itemstate.Value
}

func (n *storedNode) copy() *storedNode {
	out := &storedNode{
		id:          n.id,
		parent:      n.parent,
		hasParent:   n.hasParent,
		primaryType: n.primaryType,
		mixins:      make(map[name.QName]struct{}, len(n.mixins)),
		properties:  make(map[name.QName]*storedProperty, len(n.properties)),
	}
	for k := range n.mixins {
		out.mixins[k] = struct{}{}
	}
	out.children = append(out.children, n.children...)
	for k, v := range n.properties {
		cp := *v
		cp.values = append([]itemstate.Value(nil), v.values...)
		out.properties[k] = &cp
	}
	return out
}

// credentialStore abstracts username -> bcrypt hash lookup, grounded on
// pkg/auth/auth.go's bcrypt.CompareHashAndPassword check, trimmed down
// to the single comparison the RepositoryService boundary needs; no
// account lifecycle management exists in this module.
type credentialStore interface {
	PasswordHash(username string) (string, bool)
}

// StaticCredentials is a credentialStore backed by a fixed map, useful
// for embedding and tests.
type StaticCredentials map[string]string

func (s StaticCredentials) PasswordHash(username string) (string, bool) {
	h, ok := s[username]
	return h, ok
}

// Service is an in-memory, single-workspace RepositoryService.
type Service struct {
	mu    sync.RWMutex
	nodes map[name.NodeID]*storedNode

	registry    *nodetype.Registry
	namespaces  *name.NamespaceRegistry
	credentials credentialStore
	observation bool

	filtersMu sync.Mutex
	filters   map[string]workspace.EventFilter
	queueMu   sync.Mutex
	queue     map[string][]itemstate.Event

	locks *workspace.LockManager
}

// New builds a Service seeded with a root node, backed by registry for
// node-type lookups and namespaces for the namespace RPC surface.
func New(registry *nodetype.Registry, namespaces *name.NamespaceRegistry, credentials credentialStore) *Service {
	root := &storedNode{
		id:         name.RootNodeID,
		hasParent:  false,
		mixins:     make(map[name.QName]struct{}),
		properties: make(map[name.QName]*storedProperty),
	}
	if def, ok := registry.Definition(name.NewQName("", "nt:unstructured")); ok {
		root.primaryType = def.Name
	} else {
		root.primaryType = name.NewQName("", "nt:unstructured")
	}
	return &Service{
		nodes:       map[name.NodeID]*storedNode{name.RootNodeID: root},
		registry:    registry,
		namespaces:  namespaces,
		credentials: credentials,
		observation: true,
		filters:     make(map[string]workspace.EventFilter),
		queue:       make(map[string][]itemstate.Event),
		locks:       workspace.NewLockManager(),
	}
}

var _ workspace.RepositoryService = (*Service)(nil)

// --- session lifecycle ---

func (s *Service) Login(_ context.Context, creds workspace.Credentials) (workspace.SessionInfo, error) {
	hash, ok := s.credentials.PasswordHash(creds.Username)
	if !ok {
		return workspace.SessionInfo{}, contenterr.Wrap(contenterr.ErrAccessDenied, "unknown user")
	}
	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(creds.Password)); err != nil {
		return workspace.SessionInfo{}, contenterr.Wrap(contenterr.ErrAccessDenied, "invalid credentials")
	}
	return workspace.SessionInfo{Token: creds.Username, WorkspaceID: "default"}, nil
}

func (s *Service) Obtain(_ context.Context, sess workspace.SessionInfo, switchWorkspace string) (workspace.SessionInfo, error) {
	if switchWorkspace != "" && switchWorkspace != "default" {
		return workspace.SessionInfo{}, contenterr.Wrap(contenterr.ErrNoSuchWorkspace, switchWorkspace)
	}
	return sess, nil
}

func (s *Service) Dispose(context.Context, workspace.SessionInfo) error { return nil }

func (s *Service) GetRepositoryDescriptors(context.Context) (workspace.Descriptors, error) {
	return workspace.Descriptors{Name: "contentengine", Vendor: "orneryd", Version: "0.1"}, nil
}

func (s *Service) GetWorkspaceNames(context.Context) ([]string, error) {
	return []string{"default"}, nil
}

// --- read surface ---

func (s *Service) GetRootID(context.Context) (name.NodeID, error) {
	return name.RootNodeID, nil
}

func (s *Service) GetItemInfo(_ context.Context, id name.ItemID) (workspace.ItemInfo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if id.IsNode() {
		n, ok := s.nodes[id.AsNode()]
		if !ok {
			return workspace.ItemInfo{}, contenterr.Wrap(contenterr.ErrItemNotFound, id.String())
		}
		return workspace.ItemInfo{ID: id, ParentID: n.parent, HasParent: n.hasParent, IsNode: true}, nil
	}

	propID := id.AsProperty()
	n, ok := s.nodes[propID.Parent]
	if !ok {
		return workspace.ItemInfo{}, contenterr.Wrap(contenterr.ErrItemNotFound, id.String())
	}
	if _, ok := n.properties[propID.Name]; !ok {
		return workspace.ItemInfo{}, contenterr.Wrap(contenterr.ErrItemNotFound, id.String())
	}
	return workspace.ItemInfo{ID: id, ParentID: propID.Parent, HasParent: true, IsNode: false}, nil
}

func (s *Service) GetNodeInfo(_ context.Context, id name.NodeID) (workspace.NodeInfo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n, ok := s.nodes[id]
	if !ok {
		return workspace.NodeInfo{}, contenterr.Wrap(contenterr.ErrItemNotFound, id.String())
	}
	mixins := make([]name.QName, 0, len(n.mixins))
	for m := range n.mixins {
		mixins = append(mixins, m)
	}
	propNames := make([]name.QName, 0, len(n.properties))
	for p := range n.properties {
		propNames = append(propNames, p)
	}
	return workspace.NodeInfo{
		ItemInfo:      workspace.ItemInfo{ID: name.NodeItemID(id), ParentID: n.parent, HasParent: n.hasParent, IsNode: true},
		PrimaryType:   n.primaryType,
		MixinTypes:    mixins,
		PropertyNames: propNames,
	}, nil
}

func (s *Service) GetChildInfos(_ context.Context, parent name.NodeID) ([]workspace.ChildInfo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n, ok := s.nodes[parent]
	if !ok {
		return nil, contenterr.Wrap(contenterr.ErrItemNotFound, parent.String())
	}
	out := make([]workspace.ChildInfo, len(n.children))
	for i, c := range n.children {
		out[i] = workspace.ChildInfo{Name: c.Name, Index: c.Index, ID: c.Child}
	}
	return out, nil
}

func (s *Service) GetPropertyInfo(_ context.Context, id name.PropertyID) (workspace.PropertyInfo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n, ok := s.nodes[id.Parent]
	if !ok {
		return workspace.PropertyInfo{}, contenterr.Wrap(contenterr.ErrItemNotFound, id.String())
	}
	p, ok := n.properties[id.Name]
	if !ok {
		return workspace.PropertyInfo{}, contenterr.Wrap(contenterr.ErrItemNotFound, id.String())
	}
	return workspace.PropertyInfo{
		Type:        p.valueType,
		Multivalued: p.multivalued,
		Values:      append([]itemstate.Value(nil), p.values...),
	}, nil
}

// --- node-type metadata ---

func (s *Service) GetNodeTypeDefinitions(context.Context) ([]workspace.NodeTypeDescriptor, error) {
	defs := s.registry.AllDefinitions()
	out := make([]workspace.NodeTypeDescriptor, len(defs))
	for i, d := range defs {
		out[i] = workspace.NodeTypeDescriptor{Name: d.Name, IsMixin: d.IsMixin, Supertypes: d.Supertypes}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name.String() < out[j].Name.String() })
	return out, nil
}

func (s *Service) GetNodeDefinition(_ context.Context, primaryType name.QName) (workspace.NodeTypeDescriptor, error) {
	d, ok := s.registry.Definition(primaryType)
	if !ok {
		return workspace.NodeTypeDescriptor{}, contenterr.Wrap(contenterr.ErrNoSuchNodeType, primaryType.String())
	}
	return workspace.NodeTypeDescriptor{Name: d.Name, IsMixin: d.IsMixin, Supertypes: d.Supertypes}, nil
}

// --- namespaces ---

func (s *Service) GetRegisteredNamespaces(context.Context) (map[string]string, error) {
	out := make(map[string]string)
	for _, p := range s.namespaces.Prefixes() {
		uri, _ := s.namespaces.URI(p)
		out[p] = uri
	}
	return out, nil
}

func (s *Service) RegisterNamespace(_ context.Context, prefix, uri string) error {
	return s.namespaces.Register(prefix, uri)
}

func (s *Service) UnregisterNamespace(_ context.Context, prefix string) error {
	return s.namespaces.Unregister(prefix)
}

// --- access control ---

// IsGranted always allows in this embedded implementation; no package
// in this module keeps a per-user ACL (SPEC_FULL.md's Non-goals exclude
// a full permission model).
func (s *Service) IsGranted(context.Context, name.ItemID, []string) (bool, error) {
	return true, nil
}

// --- batch/mutation surface ---

func (s *Service) CreateBatch(context.Context) (workspace.BatchHandle, error) {
	return workspace.BatchHandle{ID: name.NewNodeID().String()}, nil
}

func (s *Service) Submit(_ context.Context, _ workspace.BatchHandle, log *itemstate.ChangeLog) error {
	s.publish(itemstate.Event{Kind: itemstate.EventModified})
	return nil
}

func (s *Service) AddNode(_ context.Context, _ workspace.BatchHandle, op itemstate.Op) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	parentID := op.Parent
	parent, ok := s.nodes[parentID]
	if !ok {
		return contenterr.Wrap(contenterr.ErrItemNotFound, parentID.String())
	}
	childID := op.Target.AsNode()
	if _, exists := s.nodes[childID]; exists {
		return contenterr.Wrap(contenterr.ErrItemExists, childID.String())
	}

	index := 1
	for _, c := range parent.children {
		if c.Name == op.NewName {
			index++
		}
	}
	parent.children = append(parent.children, itemstate.ChildNodeEntry{Name: op.NewName, Index: index, Child: childID})

	s.nodes[childID] = &storedNode{
		id:          childID,
		parent:      parentID,
		hasParent:   true,
		primaryType: op.PrimaryType,
		mixins:      make(map[name.QName]struct{}),
		properties:  make(map[name.QName]*storedProperty),
	}
	return nil
}

func (s *Service) AddProperty(_ context.Context, _ workspace.BatchHandle, op itemstate.Op) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	n, ok := s.nodes[op.Parent]
	if !ok {
		return contenterr.Wrap(contenterr.ErrItemNotFound, op.Parent.String())
	}
	if _, exists := n.properties[op.NewName]; exists {
		return contenterr.Wrap(contenterr.ErrItemExists, op.NewName.String())
	}
	n.properties[op.NewName] = &storedProperty{multivalued: op.Multivalued, values: op.Values}
	if len(op.Values) > 0 {
		n.properties[op.NewName].valueType = op.Values[0].Type
	}
	return nil
}

func (s *Service) SetValue(_ context.Context, _ workspace.BatchHandle, op itemstate.Op) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	propID := op.Target.AsProperty()
	n, ok := s.nodes[propID.Parent]
	if !ok {
		return contenterr.Wrap(contenterr.ErrItemNotFound, propID.Parent.String())
	}
	p, ok := n.properties[propID.Name]
	if !ok {
		return contenterr.Wrap(contenterr.ErrItemNotFound, propID.String())
	}
	p.values = op.Values
	if len(op.Values) > 0 {
		p.valueType = op.Values[0].Type
	}
	return nil
}

func (s *Service) SetMixins(_ context.Context, _ workspace.BatchHandle, op itemstate.Op) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	n, ok := s.nodes[op.Target.AsNode()]
	if !ok {
		return contenterr.Wrap(contenterr.ErrItemNotFound, op.Target.String())
	}
	n.mixins = make(map[name.QName]struct{}, len(op.MixinTypes))
	for _, m := range op.MixinTypes {
		n.mixins[m] = struct{}{}
	}
	return nil
}

func (s *Service) Remove(_ context.Context, _ workspace.BatchHandle, op itemstate.Op) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if op.Target.IsNode() {
		return s.removeNodeLocked(op.Target.AsNode())
	}
	propID := op.Target.AsProperty()
	n, ok := s.nodes[propID.Parent]
	if !ok {
		return contenterr.Wrap(contenterr.ErrItemNotFound, propID.Parent.String())
	}
	delete(n.properties, propID.Name)
	return nil
}

func (s *Service) removeNodeLocked(id name.NodeID) error {
	n, ok := s.nodes[id]
	if !ok {
		return contenterr.Wrap(contenterr.ErrItemNotFound, id.String())
	}
	for _, c := range n.children {
		_ = s.removeNodeLocked(c.Child)
	}
	if parent, ok := s.nodes[n.parent]; ok {
		out := parent.children[:0]
		for _, c := range parent.children {
			if c.Child != id {
				out = append(out, c)
			}
		}
		parent.children = out
	}
	delete(s.nodes, id)
	return nil
}

func (s *Service) Move(_ context.Context, _ workspace.BatchHandle, op itemstate.Op) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	nodeID := op.Target.AsNode()
	n, ok := s.nodes[nodeID]
	if !ok {
		return contenterr.Wrap(contenterr.ErrItemNotFound, nodeID.String())
	}
	newParentID := op.Parent
	newParent, ok := s.nodes[newParentID]
	if !ok {
		return contenterr.Wrap(contenterr.ErrItemNotFound, newParentID.String())
	}

	if old, ok := s.nodes[n.parent]; ok {
		out := old.children[:0]
		for _, c := range old.children {
			if c.Child != nodeID {
				out = append(out, c)
			}
		}
		old.children = out
	}

	destLeaf, _ := op.DestPath.Leaf()
	newParent.children = append(newParent.children, itemstate.ChildNodeEntry{Name: destLeaf.Name, Index: destLeaf.Index, Child: nodeID})
	n.parent = newParentID
	n.hasParent = true
	return nil
}

func (s *Service) ReorderNodes(_ context.Context, _ workspace.BatchHandle, op itemstate.Op) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	n, ok := s.nodes[op.Target.AsNode()]
	if !ok {
		return contenterr.Wrap(contenterr.ErrItemNotFound, op.Target.String())
	}
	n.children = append([]itemstate.ChildNodeEntry(nil), op.Order...)
	return nil
}

func (s *Service) Copy(_ context.Context, srcPath, destPath name.Path) error {
	return fmt.Errorf("%w: Copy", contenterr.ErrNotSupportedOption)
}

func (s *Service) Clone(_ context.Context, srcWorkspace string, srcPath, destPath name.Path) error {
	return fmt.Errorf("%w: Clone", contenterr.ErrNotSupportedOption)
}

func (s *Service) Update(_ context.Context, path name.Path, srcWorkspace string) error {
	return fmt.Errorf("%w: Update", contenterr.ErrNotSupportedOption)
}

func (s *Service) ImportXML(context.Context, name.NodeID, []byte) error {
	return fmt.Errorf("%w: ImportXML", contenterr.ErrNotSupportedOption)
}

// --- versioning, stubbed: minimal single-version behavior ---

func (s *Service) Checkout(context.Context, name.NodeID) error { return nil }

func (s *Service) Checkin(_ context.Context, node name.NodeID) (name.NodeID, error) {
	return node, nil
}

func (s *Service) Restore(context.Context, name.NodeID, name.NodeID, bool) error {
	return fmt.Errorf("%w: Restore", contenterr.ErrNotSupportedOption)
}

func (s *Service) Merge(context.Context, string, name.NodeID) ([]name.NodeID, error) {
	return nil, fmt.Errorf("%w: Merge", contenterr.ErrNotSupportedOption)
}

func (s *Service) ResolveMergeConflict(context.Context, name.NodeID, bool) error {
	return fmt.Errorf("%w: ResolveMergeConflict", contenterr.ErrNotSupportedOption)
}

func (s *Service) AddVersionLabel(context.Context, name.NodeID, string, bool) error {
	return fmt.Errorf("%w: AddVersionLabel", contenterr.ErrNotSupportedOption)
}

func (s *Service) RemoveVersionLabel(context.Context, name.NodeID, string) error {
	return fmt.Errorf("%w: RemoveVersionLabel", contenterr.ErrNotSupportedOption)
}

func (s *Service) RemoveVersion(context.Context, name.NodeID) error {
	return fmt.Errorf("%w: RemoveVersion", contenterr.ErrNotSupportedOption)
}

// --- locking, delegated to the embedded LockManager ---

func (s *Service) Lock(_ context.Context, node name.NodeID, isDeep, isSessionScoped bool) (workspace.LockInfo, error) {
	return s.locks.Lock(node, "", isDeep, isSessionScoped)
}

func (s *Service) RefreshLock(_ context.Context, node name.NodeID, token string) error {
	return s.locks.RefreshLock(node, token)
}

func (s *Service) Unlock(_ context.Context, node name.NodeID) error {
	return s.locks.Unlock(node)
}

func (s *Service) GetLockInfo(_ context.Context, node name.NodeID) (workspace.LockInfo, bool, error) {
	info, ok := s.locks.GetLockInfo(node)
	return info, ok, nil
}

// --- change feed ---

func (s *Service) SupportsObservation() bool { return s.observation }

func (s *Service) CreateEventFilter(_ context.Context, filter workspace.EventFilter) (string, error) {
	s.filtersMu.Lock()
	defer s.filtersMu.Unlock()
	if filter.ID == "" {
		filter.ID = name.NewNodeID().String()
	}
	s.filters[filter.ID] = filter
	return filter.ID, nil
}

// publish appends ev to every registered filter's queue. A real
// deployment would match ev against each filter's NodeIDs; this
// embedded implementation delivers every event to every filter, since
// it has no remote clients to overwhelm.
func (s *Service) publish(ev itemstate.Event) {
	s.filtersMu.Lock()
	ids := make([]string, 0, len(s.filters))
	for id := range s.filters {
		ids = append(ids, id)
	}
	s.filtersMu.Unlock()

	s.queueMu.Lock()
	defer s.queueMu.Unlock()
	for _, id := range ids {
		s.queue[id] = append(s.queue[id], ev)
	}
}

func (s *Service) GetEvents(ctx context.Context, pollTimeout time.Duration, filterIDs []string) ([]workspace.EventBundle, error) {
	deadline := time.Now().Add(pollTimeout)
	for {
		s.queueMu.Lock()
		var bundles []workspace.EventBundle
		for _, id := range filterIDs {
			if evs := s.queue[id]; len(evs) > 0 {
				bundles = append(bundles, workspace.EventBundle{FilterID: id, Events: evs})
				delete(s.queue, id)
			}
		}
		s.queueMu.Unlock()
		if len(bundles) > 0 || time.Now().After(deadline) {
			return bundles, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(10 * time.Millisecond):
		}
	}
}

// --- query, always unsupported per SPEC_FULL.md's Non-goals ---

func (s *Service) ExecuteQuery(context.Context, string, string) (workspace.QueryResult, error) {
	return workspace.QueryResult{}, fmt.Errorf("%w: query execution", contenterr.ErrNotSupportedOption)
}

func (s *Service) CheckQueryStatement(context.Context, string, string) error {
	return fmt.Errorf("%w: query statements", contenterr.ErrNotSupportedOption)
}

func (s *Service) GetSupportedQueryLanguages(context.Context) ([]string, error) {
	return nil, nil
}
