// Package badgerservice implements a persistent workspace.RepositoryService
// over BadgerDB, grounded on pkg/storage/badger.go's key-prefix encoding
// and db.Update/db.View transaction shape, and badger_serialization.go's
// JSON encode/decode helpers. Node-tree storage is transactional; session,
// node-type, namespace, and lock concerns are the same in-process pieces
// memservice uses, since those aren't disk-persisted state in this engine.
package badgerservice

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/orneryd/contentengine/contenterr"
	"github.com/orneryd/contentengine/itemstate"
	"github.com/orneryd/contentengine/name"
	"github.com/orneryd/contentengine/nodetype"
	"github.com/orneryd/contentengine/workspace"
	"golang.org/x/crypto/bcrypt"
)

// Key prefixes, following pkg/storage/badger.go's single-byte prefix
// convention.
const (
	prefixNode = byte(0x01) // node:nodeID -> wireNode
)

func nodeKey(id name.NodeID) []byte {
	return append([]byte{prefixNode}, []byte(id.String())...)
}

// wireNode is the JSON-on-disk shape for a persisted node, the
// badgerservice analogue of memservice's storedNode kept as a plain
// struct instead of a mutex-guarded live object.
type wireNode struct {
	ID          string                     `json:"id"`
	Parent      string                     `json:"parent"`
	HasParent   bool                       `json:"hasParent"`
	PrimaryType name.QName                 `json:"primaryType"`
	Mixins      []name.QName               `json:"mixins"`
	Children    []itemstate.ChildNodeEntry `json:"children"`
	Properties  map[string]*wireProperty   `json:"properties"`
}

type wireProperty struct {
	ValueType   itemstate.ValueType `json:"valueType"`
	Multivalued bool                `json:"multivalued"`
	Values      []itemstate.Value   `json:"values"`
}

func encodeNode(n *wireNode) ([]byte, error) { return json.Marshal(n) }

func decodeNode(data []byte) (*wireNode, error) {
	var n wireNode
	if err := json.Unmarshal(data, &n); err != nil {
		return nil, fmt.Errorf("unmarshaling node: %w", err)
	}
	return &n, nil
}

func propKey(q name.QName) string { return q.Namespace + "|" + q.Local }

func parsePropKey(k string) name.QName {
	for i := 0; i < len(k); i++ {
		if k[i] == '|' {
			return name.NewQName(k[:i], k[i+1:])
		}
	}
	return name.NewQName("", k)
}

// credentialStore mirrors memservice's narrow login abstraction.
type credentialStore interface {
	PasswordHash(username string) (string, bool)
}

// Options configures the BadgerDB-backed service, mirroring
// storage.BadgerOptions's fields relevant to this engine's usage.
type Options struct {
	DataDir    string
	InMemory   bool
	SyncWrites bool
}

// Service is a persistent, single-workspace RepositoryService.
type Service struct {
	db *badger.DB

	registry    *nodetype.Registry
	namespaces  *name.NamespaceRegistry
	credentials credentialStore
	locks       *workspace.LockManager

	filtersMu sync.Mutex
	filters   map[string]workspace.EventFilter
	queueMu   sync.Mutex
	queue     map[string][]itemstate.Event
}

// Open creates or opens a BadgerDB-backed Service at opts.DataDir,
// seeding a root node on first use.
func Open(opts Options, registry *nodetype.Registry, namespaces *name.NamespaceRegistry, credentials credentialStore) (*Service, error) {
	badgerOpts := badger.DefaultOptions(opts.DataDir)
	if opts.InMemory {
		badgerOpts = badgerOpts.WithInMemory(true)
	}
	if opts.SyncWrites {
		badgerOpts = badgerOpts.WithSyncWrites(true)
	}
	badgerOpts = badgerOpts.WithLogger(nil)

	db, err := badger.Open(badgerOpts)
	if err != nil {
		return nil, fmt.Errorf("%w: opening badger: %v", contenterr.ErrRepository, err)
	}

	s := &Service{
		db:          db,
		registry:    registry,
		namespaces:  namespaces,
		credentials: credentials,
		locks:       workspace.NewLockManager(),
		filters:     make(map[string]workspace.EventFilter),
		queue:       make(map[string][]itemstate.Event),
	}
	if err := s.ensureRoot(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Service) ensureRoot() error {
	return s.db.Update(func(txn *badger.Txn) error {
		_, err := txn.Get(nodeKey(name.RootNodeID))
		if err == nil {
			return nil
		}
		if err != badger.ErrKeyNotFound {
			return err
		}
		primary := name.NewQName("", "nt:unstructured")
		if def, ok := s.registry.Definition(primary); ok {
			primary = def.Name
		}
		root := &wireNode{
			ID:          name.RootNodeID.String(),
			PrimaryType: primary,
			Properties:  make(map[string]*wireProperty),
		}
		data, err := encodeNode(root)
		if err != nil {
			return err
		}
		return txn.Set(nodeKey(name.RootNodeID), data)
	})
}

// Close releases the underlying BadgerDB handle.
func (s *Service) Close() error { return s.db.Close() }

var _ workspace.RepositoryService = (*Service)(nil)

func (s *Service) setNode(txn *badger.Txn, id name.NodeID, n *wireNode) error {
	data, err := encodeNode(n)
	if err != nil {
		return err
	}
	return txn.Set(nodeKey(id), data)
}

func (s *Service) getNode(txn *badger.Txn, id name.NodeID) (*wireNode, error) {
	item, err := txn.Get(nodeKey(id))
	if err == badger.ErrKeyNotFound {
		return nil, contenterr.Wrap(contenterr.ErrItemNotFound, id.String())
	}
	if err != nil {
		return nil, err
	}
	var n *wireNode
	err = item.Value(func(val []byte) error {
		var decodeErr error
		n, decodeErr = decodeNode(val)
		return decodeErr
	})
	return n, err
}

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

func (s *Service) GetRootID(context.Context) (name.NodeID, error) { return name.RootNodeID, nil }

func (s *Service) GetItemInfo(ctx context.Context, id name.ItemID) (workspace.ItemInfo, error) {
	if id.IsNode() {
		info, err := s.GetNodeInfo(ctx, id.AsNode())
		return info.ItemInfo, err
	}
	propID := id.AsProperty()
	var out workspace.ItemInfo
	err := s.db.View(func(txn *badger.Txn) error {
		n, err := s.getNode(txn, propID.Parent)
		if err != nil {
			return err
		}
		if _, ok := n.Properties[propKey(propID.Name)]; !ok {
			return contenterr.Wrap(contenterr.ErrItemNotFound, id.String())
		}
		out = workspace.ItemInfo{ID: id, ParentID: propID.Parent, HasParent: true, IsNode: false}
		return nil
	})
	return out, err
}

func (s *Service) GetNodeInfo(_ context.Context, id name.NodeID) (workspace.NodeInfo, error) {
	var out workspace.NodeInfo
	err := s.db.View(func(txn *badger.Txn) error {
		n, err := s.getNode(txn, id)
		if err != nil {
			return err
		}
		parent, _ := name.ParseNodeID(n.Parent)
		propNames := make([]name.QName, 0, len(n.Properties))
		for k := range n.Properties {
			propNames = append(propNames, parsePropKey(k))
		}
		out = workspace.NodeInfo{
			ItemInfo:      workspace.ItemInfo{ID: name.NodeItemID(id), ParentID: parent, HasParent: n.HasParent, IsNode: true},
			PrimaryType:   n.PrimaryType,
			MixinTypes:    n.Mixins,
			PropertyNames: propNames,
		}
		return nil
	})
	return out, err
}

func (s *Service) GetChildInfos(_ context.Context, parent name.NodeID) ([]workspace.ChildInfo, error) {
	var out []workspace.ChildInfo
	err := s.db.View(func(txn *badger.Txn) error {
		n, err := s.getNode(txn, parent)
		if err != nil {
			return err
		}
		out = make([]workspace.ChildInfo, len(n.Children))
		for i, c := range n.Children {
			out[i] = workspace.ChildInfo{Name: c.Name, Index: c.Index, ID: c.Child}
		}
		return nil
	})
	return out, err
}

func (s *Service) GetPropertyInfo(_ context.Context, id name.PropertyID) (workspace.PropertyInfo, error) {
	var out workspace.PropertyInfo
	err := s.db.View(func(txn *badger.Txn) error {
		n, err := s.getNode(txn, id.Parent)
		if err != nil {
			return err
		}
		prop, ok := n.Properties[propKey(id.Name)]
		if !ok {
			return contenterr.Wrap(contenterr.ErrItemNotFound, id.String())
		}
		out = workspace.PropertyInfo{Type: prop.ValueType, Multivalued: prop.Multivalued, Values: prop.Values}
		return nil
	})
	return out, err
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

func (s *Service) IsGranted(context.Context, name.ItemID, []string) (bool, error) { return true, nil }

// --- batch/mutation surface ---

func (s *Service) CreateBatch(context.Context) (workspace.BatchHandle, error) {
	return workspace.BatchHandle{ID: name.NewNodeID().String()}, nil
}

func (s *Service) Submit(_ context.Context, _ workspace.BatchHandle, log *itemstate.ChangeLog) error {
	s.publish(itemstate.Event{Kind: itemstate.EventModified})
	return nil
}

func (s *Service) AddNode(_ context.Context, _ workspace.BatchHandle, op itemstate.Op) error {
	return s.db.Update(func(txn *badger.Txn) error {
		parent, err := s.getNode(txn, op.Parent)
		if err != nil {
			return err
		}
		childID := op.Target.AsNode()
		if _, err := txn.Get(nodeKey(childID)); err == nil {
			return contenterr.Wrap(contenterr.ErrItemExists, childID.String())
		}

		index := 1
		for _, c := range parent.Children {
			if c.Name == op.NewName {
				index++
			}
		}
		parent.Children = append(parent.Children, itemstate.ChildNodeEntry{Name: op.NewName, Index: index, Child: childID})
		if err := s.setNode(txn, op.Parent, parent); err != nil {
			return err
		}

		child := &wireNode{
			ID:          childID.String(),
			Parent:      op.Parent.String(),
			HasParent:   true,
			PrimaryType: op.PrimaryType,
			Properties:  make(map[string]*wireProperty),
		}
		return s.setNode(txn, childID, child)
	})
}

func (s *Service) AddProperty(_ context.Context, _ workspace.BatchHandle, op itemstate.Op) error {
	return s.db.Update(func(txn *badger.Txn) error {
		n, err := s.getNode(txn, op.Parent)
		if err != nil {
			return err
		}
		key := propKey(op.NewName)
		if _, exists := n.Properties[key]; exists {
			return contenterr.Wrap(contenterr.ErrItemExists, op.NewName.String())
		}
		prop := &wireProperty{Multivalued: op.Multivalued, Values: op.Values}
		if len(op.Values) > 0 {
			prop.ValueType = op.Values[0].Type
		}
		n.Properties[key] = prop
		return s.setNode(txn, op.Parent, n)
	})
}

func (s *Service) SetValue(_ context.Context, _ workspace.BatchHandle, op itemstate.Op) error {
	return s.db.Update(func(txn *badger.Txn) error {
		propID := op.Target.AsProperty()
		n, err := s.getNode(txn, propID.Parent)
		if err != nil {
			return err
		}
		key := propKey(propID.Name)
		prop, ok := n.Properties[key]
		if !ok {
			return contenterr.Wrap(contenterr.ErrItemNotFound, propID.String())
		}
		prop.Values = op.Values
		if len(op.Values) > 0 {
			prop.ValueType = op.Values[0].Type
		}
		return s.setNode(txn, propID.Parent, n)
	})
}

func (s *Service) SetMixins(_ context.Context, _ workspace.BatchHandle, op itemstate.Op) error {
	return s.db.Update(func(txn *badger.Txn) error {
		id := op.Target.AsNode()
		n, err := s.getNode(txn, id)
		if err != nil {
			return err
		}
		n.Mixins = op.MixinTypes
		return s.setNode(txn, id, n)
	})
}

func (s *Service) Remove(_ context.Context, _ workspace.BatchHandle, op itemstate.Op) error {
	return s.db.Update(func(txn *badger.Txn) error {
		if op.Target.IsNode() {
			return s.removeNodeTxn(txn, op.Target.AsNode())
		}
		propID := op.Target.AsProperty()
		n, err := s.getNode(txn, propID.Parent)
		if err != nil {
			return err
		}
		delete(n.Properties, propKey(propID.Name))
		return s.setNode(txn, propID.Parent, n)
	})
}

func (s *Service) removeNodeTxn(txn *badger.Txn, id name.NodeID) error {
	n, err := s.getNode(txn, id)
	if err != nil {
		return err
	}
	for _, c := range n.Children {
		if err := s.removeNodeTxn(txn, c.Child); err != nil {
			return err
		}
	}
	parentID, perr := name.ParseNodeID(n.Parent)
	if perr == nil {
		if parent, err := s.getNode(txn, parentID); err == nil {
			out := parent.Children[:0]
			for _, c := range parent.Children {
				if c.Child != id {
					out = append(out, c)
				}
			}
			parent.Children = out
			if err := s.setNode(txn, parentID, parent); err != nil {
				return err
			}
		}
	}
	return txn.Delete(nodeKey(id))
}

func (s *Service) Move(_ context.Context, _ workspace.BatchHandle, op itemstate.Op) error {
	return s.db.Update(func(txn *badger.Txn) error {
		nodeID := op.Target.AsNode()
		n, err := s.getNode(txn, nodeID)
		if err != nil {
			return err
		}
		newParentID := op.Parent
		newParent, err := s.getNode(txn, newParentID)
		if err != nil {
			return err
		}
		if oldParentID, perr := name.ParseNodeID(n.Parent); perr == nil {
			if oldParent, err := s.getNode(txn, oldParentID); err == nil {
				out := oldParent.Children[:0]
				for _, c := range oldParent.Children {
					if c.Child != nodeID {
						out = append(out, c)
					}
				}
				oldParent.Children = out
				if err := s.setNode(txn, oldParentID, oldParent); err != nil {
					return err
				}
			}
		}
		destLeaf, _ := op.DestPath.Leaf()
		newParent.Children = append(newParent.Children, itemstate.ChildNodeEntry{Name: destLeaf.Name, Index: destLeaf.Index, Child: nodeID})
		if err := s.setNode(txn, newParentID, newParent); err != nil {
			return err
		}
		n.Parent = newParentID.String()
		n.HasParent = true
		return s.setNode(txn, nodeID, n)
	})
}

func (s *Service) ReorderNodes(_ context.Context, _ workspace.BatchHandle, op itemstate.Op) error {
	return s.db.Update(func(txn *badger.Txn) error {
		id := op.Target.AsNode()
		n, err := s.getNode(txn, id)
		if err != nil {
			return err
		}
		n.Children = append([]itemstate.ChildNodeEntry(nil), op.Order...)
		return s.setNode(txn, id, n)
	})
}

func (s *Service) Copy(context.Context, name.Path, name.Path) error {
	return fmt.Errorf("%w: Copy", contenterr.ErrNotSupportedOption)
}

func (s *Service) Clone(context.Context, string, name.Path, name.Path) error {
	return fmt.Errorf("%w: Clone", contenterr.ErrNotSupportedOption)
}

func (s *Service) Update(context.Context, name.Path, string) error {
	return fmt.Errorf("%w: Update", contenterr.ErrNotSupportedOption)
}

func (s *Service) ImportXML(context.Context, name.NodeID, []byte) error {
	return fmt.Errorf("%w: ImportXML", contenterr.ErrNotSupportedOption)
}

// --- versioning, stubbed ---

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

// --- locking ---

func (s *Service) Lock(_ context.Context, node name.NodeID, isDeep, isSessionScoped bool) (workspace.LockInfo, error) {
	return s.locks.Lock(node, "", isDeep, isSessionScoped)
}
func (s *Service) RefreshLock(_ context.Context, node name.NodeID, token string) error {
	return s.locks.RefreshLock(node, token)
}
func (s *Service) Unlock(_ context.Context, node name.NodeID) error { return s.locks.Unlock(node) }
func (s *Service) GetLockInfo(_ context.Context, node name.NodeID) (workspace.LockInfo, bool, error) {
	info, ok := s.locks.GetLockInfo(node)
	return info, ok, nil
}

// --- change feed ---

func (s *Service) SupportsObservation() bool { return true }

func (s *Service) CreateEventFilter(_ context.Context, filter workspace.EventFilter) (string, error) {
	s.filtersMu.Lock()
	defer s.filtersMu.Unlock()
	if filter.ID == "" {
		filter.ID = name.NewNodeID().String()
	}
	s.filters[filter.ID] = filter
	return filter.ID, nil
}

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

// --- query, unsupported ---

func (s *Service) ExecuteQuery(context.Context, string, string) (workspace.QueryResult, error) {
	return workspace.QueryResult{}, fmt.Errorf("%w: query execution", contenterr.ErrNotSupportedOption)
}
func (s *Service) CheckQueryStatement(context.Context, string, string) error {
	return fmt.Errorf("%w: query statements", contenterr.ErrNotSupportedOption)
}
func (s *Service) GetSupportedQueryLanguages(context.Context) ([]string, error) { return nil, nil }
