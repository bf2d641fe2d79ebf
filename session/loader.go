package session

import (
	"context"

	"github.com/orneryd/contentengine/itemstate"
	"github.com/orneryd/contentengine/name"
	"github.com/orneryd/contentengine/workspace"
)

// repoLoader implements hierarchy.StateSource and itemmgr.StateSource
// directly over a workspace.RepositoryService: every call is a fresh
// read of the persistent layer, constructed as an Existing-status
// itemstate.State with no overlay. It never consults or creates
// transient state — that bridging is transientSource's job.
type repoLoader struct {
	ctx context.Context
	svc workspace.RepositoryService
}

// NodeState fetches a node's persisted shape and assembles it into an
// Existing State, per spec.md §6's getNodeInfo/getChildInfos pair.
func (l *repoLoader) NodeState(id name.NodeID) (*itemstate.State, error) {
	info, err := l.svc.GetNodeInfo(l.ctx, id)
	if err != nil {
		return nil, err
	}
	children, err := l.svc.GetChildInfos(l.ctx, id)
	if err != nil {
		return nil, err
	}

	st := itemstate.NewNodeState(id, info.ParentID, info.HasParent, info.PrimaryType)
	st.Status = itemstate.Existing
	for _, m := range info.MixinTypes {
		st.Node.MixinTypes[m] = struct{}{}
	}
	for _, p := range info.PropertyNames {
		st.Node.PropertyNames[p] = struct{}{}
	}
	st.Node.ChildEntries = make([]itemstate.ChildNodeEntry, 0, len(children))
	for _, c := range children {
		st.Node.ChildEntries = append(st.Node.ChildEntries, itemstate.ChildNodeEntry{
			Name: c.Name, Index: c.Index, Child: c.ID,
		})
	}
	return st, nil
}

// GetItemState dispatches to NodeState or the property read path
// depending on id's kind, satisfying itemmgr.StateSource.
func (l *repoLoader) GetItemState(id name.ItemID) (*itemstate.State, error) {
	if id.IsNode() {
		return l.NodeState(id.AsNode())
	}
	return l.propertyState(id.AsProperty())
}

func (l *repoLoader) propertyState(id name.PropertyID) (*itemstate.State, error) {
	info, err := l.svc.GetPropertyInfo(l.ctx, id)
	if err != nil {
		return nil, err
	}
	st := itemstate.NewPropertyState(id, info.Type, info.Multivalued)
	st.Status = itemstate.Existing
	st.Property.Values = append([]itemstate.Value(nil), info.Values...)
	return st, nil
}
