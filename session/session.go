// Package session implements spec.md §5: the Session as the binding
// point between a Workspace Coordinator, namespace remapping, the
// transient Item State layer, the Hierarchy Manager, and the Item
// Manager, plus the client-facing mutation operations (addNode,
// setProperty, remove, setMixins) that create and edit transient
// states. Credential checking happens one layer down, in the
// RepositoryService's Login (golang.org/x/crypto/bcrypt, grounded on
// the teacher's pkg/auth/auth.go CompareHashAndPassword check);
// Session itself only holds the resulting SessionInfo token.
package session

import (
	"context"
	"fmt"
	"sync"

	"github.com/orneryd/contentengine/contenterr"
	"github.com/orneryd/contentengine/hierarchy"
	"github.com/orneryd/contentengine/itemmgr"
	"github.com/orneryd/contentengine/itemstate"
	"github.com/orneryd/contentengine/name"
	"github.com/orneryd/contentengine/nodetype"
	"github.com/orneryd/contentengine/versioning"
	"github.com/orneryd/contentengine/workspace"
)

// sessionAccess adapts workspace.RepositoryService.IsGranted to
// itemmgr.AccessManager's pure-predicate shape, per spec.md §6's
// "NotFound surfaces as false for read checks from the façade layer".
type sessionAccess struct {
	ctx context.Context
	svc workspace.RepositoryService
}

func (a *sessionAccess) CanRead(id name.ItemID) bool {
	granted, err := a.svc.IsGranted(a.ctx, id, []string{"read"})
	return err == nil && granted
}

// Session is an authenticated, per-user view over a workspace, with
// its own transient overlay and façade cache (spec.md Glossary).
// Per spec.md §5's scheduling model, a Session is confined to one
// logical client thread at a time; callers serialize their own calls.
type Session struct {
	mu     sync.Mutex
	closed bool

	ctx   context.Context
	coord *workspace.Coordinator
	info  workspace.SessionInfo

	registry   *nodetype.Registry
	namespaces *name.NamespaceRegistry

	loader    *repoLoader
	source    *transientSource
	states    *itemstate.Manager
	hierarchy *hierarchy.Manager
	items     *itemmgr.Manager
	access    *sessionAccess
	versions  *versioning.Manager
}

// Login authenticates against coord's RepositoryService and builds a
// Session wired to the given node-type registry and namespace
// registry, per spec.md §6's login/obtain pair (Obtain is not called
// separately here: this engine is single-workspace, per
// SPEC_FULL.md's Non-goals).
func Login(ctx context.Context, coord *workspace.Coordinator, registry *nodetype.Registry, namespaces *name.NamespaceRegistry, creds workspace.Credentials) (*Session, error) {
	svc := coord.Service()
	info, err := svc.Login(ctx, creds)
	if err != nil {
		return nil, err
	}

	loader := &repoLoader{ctx: ctx, svc: svc}
	states := itemstate.NewManager(coord, registry)
	source := newTransientSource(states, loader)
	hier := hierarchy.NewManager(source, 0)
	access := &sessionAccess{ctx: ctx, svc: svc}
	items := itemmgr.NewManager(source, hier, access)
	versions := versioning.NewManager(coord)

	return &Session{
		ctx:        ctx,
		coord:      coord,
		info:       info,
		registry:   registry,
		namespaces: namespaces,
		loader:     loader,
		source:     source,
		states:     states,
		hierarchy:  hier,
		items:      items,
		access:     access,
		versions:   versions,
	}, nil
}

// lockOwner identifies this session to the LockManager by its login
// token, which is stable for the session's lifetime. Both in-process
// services use the username as the token, so two sessions of the same
// user share lock ownership.
func (s *Session) lockOwner() string {
	return s.info.Token
}

// collectAncestors walks node's parent chain up to the root, nearest
// first, the same ParentID/HasParent traversal detachFromParent uses.
func (s *Session) collectAncestors(node name.NodeID) ([]name.NodeID, error) {
	var ancestors []name.NodeID
	current := node
	for {
		st, err := s.source.NodeState(current)
		if err != nil {
			return nil, err
		}
		if !st.HasParent {
			return ancestors, nil
		}
		ancestors = append(ancestors, st.ParentID)
		current = st.ParentID
	}
}

// checkLock enforces spec.md §4.5 before a mutation touching node is
// applied: node itself or a deep-locked ancestor held by another
// session raises Locked.
func (s *Session) checkLock(node name.NodeID) error {
	ancestors, err := s.collectAncestors(node)
	if err != nil {
		return err
	}
	return s.coord.Locks().CheckLock(node, ancestors, s.lockOwner())
}

// Lock acquires a lock on node for this session, per spec.md §4.5.
// Acquiring a deep lock also fails if any of descendants already holds
// its own independent lock.
func (s *Session) Lock(node name.NodeID, isDeep, isSessionScoped bool, descendants []name.NodeID) (workspace.LockInfo, error) {
	if err := s.checkOpen(); err != nil {
		return workspace.LockInfo{}, err
	}
	if isDeep {
		if conflict, ok := s.coord.Locks().IsDescendantLocked(descendants); ok {
			return workspace.LockInfo{}, fmt.Errorf("%w: descendant %s already locked", contenterr.ErrLocked, conflict)
		}
	}
	info, err := s.coord.Locks().Lock(node, s.lockOwner(), isDeep, isSessionScoped)
	if err != nil {
		return workspace.LockInfo{}, err
	}
	s.coord.AddLockToken(s.lockOwner(), info.Token)
	return info, nil
}

// Unlock releases node's lock, per spec.md §4.5.
func (s *Session) Unlock(node name.NodeID) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	return s.coord.Locks().Unlock(node)
}

func (s *Session) checkOpen() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return contenterr.Wrap(contenterr.ErrInvalidItemState, "session is closed")
	}
	return nil
}

// IsLive reports whether the session has not yet been logged out.
func (s *Session) IsLive() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.closed
}

// Logout disposes the session against the RepositoryService. Per
// spec.md §5's user-visible behavior, logout is idempotent: a second
// call is a no-op.
func (s *Session) Logout() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.coord.Service().Dispose(s.ctx, s.info)
}

// RootNode returns the façade for the workspace root node.
func (s *Session) RootNode() (*itemmgr.Node, error) {
	item, err := s.GetItemByID(name.NodeItemID(name.RootNodeID))
	if err != nil {
		return nil, err
	}
	return asNode(item)
}

// GetItem resolves p and returns its façade.
func (s *Session) GetItem(p name.Path) (itemmgr.Item, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	return s.items.GetItemByPath(p)
}

// GetItemByID returns the façade for id.
func (s *Session) GetItemByID(id name.ItemID) (itemmgr.Item, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	return s.items.GetItemByID(id)
}

// ItemExists is side-effect free, per spec.md §4.3.
func (s *Session) ItemExists(p name.Path) bool {
	if s.checkOpen() != nil {
		return false
	}
	return s.items.ItemExistsByPath(p)
}

// ResolvePath exposes the Hierarchy Manager's path resolution.
func (s *Session) ResolvePath(p name.Path) (name.ItemID, error) {
	if err := s.checkOpen(); err != nil {
		return name.ItemID{}, err
	}
	return s.hierarchy.ResolvePath(p)
}

// GetPath exposes the Hierarchy Manager's id-to-path resolution.
func (s *Session) GetPath(id name.ItemID) (name.Path, error) {
	if err := s.checkOpen(); err != nil {
		return name.Path{}, err
	}
	return s.hierarchy.GetPath(id)
}

// HasPendingChanges reports whether any transient state in this
// session carries unsaved client mutations.
func (s *Session) HasPendingChanges() bool {
	return s.states.HasPendingChanges()
}

// Save serializes and submits every pending change reachable from the
// workspace root, per spec.md §4.1's save traversal invoked from the
// nearest common ancestor of all changes — the root always qualifies.
func (s *Session) Save() error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	root, err := s.source.NodeState(name.RootNodeID)
	if err != nil {
		return err
	}
	return s.states.Save(root)
}

// SaveItem saves only the subtree rooted at id, for callers that know
// a narrower common ancestor than the workspace root.
func (s *Session) SaveItem(id name.ItemID) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	st, err := s.source.GetItemState(id)
	if err != nil {
		return err
	}
	return s.states.Save(st)
}

// Refresh implements spec.md §5's refresh(keepChanges). keepChanges
// true is a no-op: the transient overlay already shadows whatever is
// currently persisted, and this engine does not implement a merge of
// externally-changed persistent state into pending transient edits
// (see SPEC_FULL.md's Non-goals on cross-session merge). keepChanges
// false discards every pending change session-wide, per spec.md's
// invariant that afterward no New state survives and no state remains
// ExistingModified.
func (s *Session) Refresh(keepChanges bool) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	if keepChanges {
		return nil
	}
	root, err := s.source.NodeState(name.RootNodeID)
	if err != nil {
		return err
	}
	s.states.Undo(root)
	return nil
}

// AddNode creates a transient child node named childName under parent
// with the given primary type, assigning the next same-name-sibling
// index, per spec.md §3's New-status construction.
func (s *Session) AddNode(parent name.NodeID, childName name.QName, primaryType name.QName) (name.NodeID, error) {
	if err := s.checkOpen(); err != nil {
		return name.NodeID{}, err
	}
	if err := s.checkLock(parent); err != nil {
		return name.NodeID{}, err
	}
	parentState, err := s.source.NodeState(parent)
	if err != nil {
		return name.NodeID{}, err
	}

	parentState.Lock()
	index := 1
	for _, ce := range parentState.Node.ChildEntries {
		if ce.Name == childName {
			index++
		}
	}
	parentState.Unlock()

	childID := name.NewNodeID()
	child := itemstate.NewNodeState(childID, parent, true, primaryType)
	if err := s.states.CreateTransient(child); err != nil {
		return name.NodeID{}, err
	}

	parentState.Lock()
	defer parentState.Unlock()
	parentState.Node.ChildEntries = append(parentState.Node.ChildEntries, itemstate.ChildNodeEntry{
		Name: childName, Index: index, Child: childID,
	})
	if err := parentState.MarkMutated(); err != nil {
		return name.NodeID{}, err
	}
	return childID, nil
}

// AddProperty creates a transient property named propName under
// parent with the given value(s).
func (s *Session) AddProperty(parent name.NodeID, propName name.QName, valueType itemstate.ValueType, multivalued bool, values []itemstate.Value) (name.PropertyID, error) {
	if err := s.checkOpen(); err != nil {
		return name.PropertyID{}, err
	}
	if err := s.checkLock(parent); err != nil {
		return name.PropertyID{}, err
	}
	parentState, err := s.source.NodeState(parent)
	if err != nil {
		return name.PropertyID{}, err
	}

	propID := name.NewPropertyID(parent, propName)
	propState := itemstate.NewPropertyState(propID, valueType, multivalued)
	propState.Property.Values = append([]itemstate.Value(nil), values...)
	if err := s.states.CreateTransient(propState); err != nil {
		return name.PropertyID{}, err
	}

	parentState.Lock()
	defer parentState.Unlock()
	parentState.Node.PropertyNames[propName] = struct{}{}
	if err := parentState.MarkMutated(); err != nil {
		return name.PropertyID{}, err
	}
	return propID, nil
}

// SetProperty overwrites an existing property's values, marking it
// ExistingModified (or leaving a New/already-modified property as is).
func (s *Session) SetProperty(id name.PropertyID, values []itemstate.Value) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	if err := s.checkLock(id.Parent); err != nil {
		return err
	}
	st, err := s.source.GetItemState(name.PropertyItemID(id))
	if err != nil {
		return err
	}

	st.Lock()
	defer st.Unlock()
	st.Property.Values = append([]itemstate.Value(nil), values...)
	return st.MarkMutated()
}

// SetMixins replaces a node's mixin type set.
func (s *Session) SetMixins(node name.NodeID, mixins []name.QName) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	if err := s.checkLock(node); err != nil {
		return err
	}
	st, err := s.source.NodeState(node)
	if err != nil {
		return err
	}

	st.Lock()
	defer st.Unlock()
	st.Node.MixinTypes = make(map[name.QName]struct{}, len(mixins))
	for _, m := range mixins {
		st.Node.MixinTypes[m] = struct{}{}
	}
	st.Node.MixinsDirty = true
	return st.MarkMutated()
}

// RemoveItem marks id for removal: a never-saved New state disappears
// outright, an Existing/ExistingModified state becomes ExistingRemoved
// pending the next save (spec.md §3). Removing a node also drops its
// entry from the parent's child list so it is immediately invisible
// to navigation, matching a JCR session's removal semantics.
func (s *Session) RemoveItem(id name.ItemID) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	st, err := s.source.GetItemState(id)
	if err != nil {
		return err
	}

	if id.IsNode() {
		if err := s.checkLock(id.AsNode()); err != nil {
			return err
		}
	} else {
		if err := s.checkLock(id.AsProperty().Parent); err != nil {
			return err
		}
	}

	if id.IsNode() && st.HasParent {
		if err := s.detachFromParent(st.ParentID, id.AsNode()); err != nil {
			return err
		}
	}

	st.Lock()
	defer st.Unlock()
	return st.MarkRemoved()
}

func (s *Session) detachFromParent(parentID name.NodeID, childID name.NodeID) error {
	parentState, err := s.source.NodeState(parentID)
	if err != nil {
		return err
	}

	parentState.Lock()
	defer parentState.Unlock()
	entries := parentState.Node.ChildEntries[:0]
	for _, ce := range parentState.Node.ChildEntries {
		if ce.Child != childID {
			entries = append(entries, ce)
		}
	}
	parentState.Node.ChildEntries = entries
	return parentState.MarkMutated()
}

// Checkout marks node checked-out, per spec.md §6.
func (s *Session) Checkout(node name.NodeID) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	return s.versions.Checkout(s.ctx, node)
}

// Checkin freezes node's current state into a new version.
func (s *Session) Checkin(node name.NodeID) (name.NodeID, error) {
	if err := s.checkOpen(); err != nil {
		return name.NodeID{}, err
	}
	return s.versions.Checkin(s.ctx, node)
}

// Restore replaces node's content with that of versionID.
func (s *Session) Restore(node, versionID name.NodeID, removeExisting bool) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	return s.versions.Restore(s.ctx, node, versionID, removeExisting)
}

// Merge merges node's version history against srcWorkspace.
func (s *Session) Merge(srcWorkspace string, node name.NodeID) ([]name.NodeID, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	return s.versions.Merge(s.ctx, srcWorkspace, node)
}

// AddVersionLabel attaches label to versionID.
func (s *Session) AddVersionLabel(versionID name.NodeID, label string, moveLabel bool) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	return s.versions.AddVersionLabel(s.ctx, versionID, label, moveLabel)
}

// RemoveVersionLabel detaches label from versionHistoryID.
func (s *Session) RemoveVersionLabel(versionHistoryID name.NodeID, label string) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	return s.versions.RemoveVersionLabel(s.ctx, versionHistoryID, label)
}

// RemoveVersion deletes versionID from its version history.
func (s *Session) RemoveVersion(versionID name.NodeID) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	return s.versions.RemoveVersion(s.ctx, versionID)
}

func asNode(item itemmgr.Item) (*itemmgr.Node, error) {
	node, ok := item.(*itemmgr.Node)
	if !ok {
		return nil, fmt.Errorf("%w: item %s is not a node", contenterr.ErrInvalidValue, item.ID())
	}
	return node, nil
}
