// Package versioning implements spec.md §6's versioning verbs
// (checkout, checkin, restore, merge, resolveMergeConflict,
// addVersionLabel, removeVersionLabel, removeVersion) as a thin
// dispatcher over a workspace.Coordinator's bound RepositoryService,
// in the same "typed request, single delegate call" shape as
// workspace.Coordinator's own operation methods.
package versioning

import (
	"context"
	"fmt"

	"github.com/orneryd/contentengine/name"
	"github.com/orneryd/contentengine/workspace"
)

// Manager dispatches versioning operations against a Coordinator's
// RepositoryService. Unlike the item-mutation path, these operations
// are not expressed as itemstate.Ops batched through Submit: the
// underlying services apply them immediately against persistent
// storage, matching spec.md §6's description of checkin/checkout as
// direct RepositoryService verbs rather than ChangeLog entries.
type Manager struct {
	coord *workspace.Coordinator
}

// NewManager binds a Manager to coord's RepositoryService.
func NewManager(coord *workspace.Coordinator) *Manager {
	return &Manager{coord: coord}
}

// Checkout marks node checked-out, allowing further transient
// modification; mix:versionable requires a node be checked out before
// any property on it can be changed (spec.md §6).
func (m *Manager) Checkout(ctx context.Context, node name.NodeID) error {
	if err := m.coord.Service().Checkout(ctx, node); err != nil {
		return fmt.Errorf("versioning: checkout %s: %w", node, err)
	}
	return nil
}

// Checkin freezes node's current state into a new version and returns
// its version node id.
func (m *Manager) Checkin(ctx context.Context, node name.NodeID) (name.NodeID, error) {
	versionID, err := m.coord.Service().Checkin(ctx, node)
	if err != nil {
		return name.NodeID{}, fmt.Errorf("versioning: checkin %s: %w", node, err)
	}
	return versionID, nil
}

// Restore replaces node's content with that of versionID. removeExisting
// controls whether a same-uuid conflict is resolved by removing the
// conflicting node (spec.md §6's removeExisting flag).
func (m *Manager) Restore(ctx context.Context, node, versionID name.NodeID, removeExisting bool) error {
	if err := m.coord.Service().Restore(ctx, node, versionID, removeExisting); err != nil {
		return fmt.Errorf("versioning: restore %s from %s: %w", node, versionID, err)
	}
	return nil
}

// Merge merges node's version history against srcWorkspace, returning
// the ids of nodes left with unresolved merge conflicts (spec.md §6).
func (m *Manager) Merge(ctx context.Context, srcWorkspace string, node name.NodeID) ([]name.NodeID, error) {
	failed, err := m.coord.Service().Merge(ctx, srcWorkspace, node)
	if err != nil {
		return nil, fmt.Errorf("versioning: merge %s from %s: %w", node, srcWorkspace, err)
	}
	return failed, nil
}

// ResolveMergeConflict resolves a pending merge conflict on node: done
// true accepts the source version, false cancels the merge for node.
func (m *Manager) ResolveMergeConflict(ctx context.Context, node name.NodeID, done bool) error {
	if err := m.coord.Service().ResolveMergeConflict(ctx, node, done); err != nil {
		return fmt.Errorf("versioning: resolve merge conflict on %s: %w", node, err)
	}
	return nil
}

// AddVersionLabel attaches label to versionID. moveLabel reassigns the
// label if it is already in use elsewhere in the version history,
// versus failing with VersionConflict.
func (m *Manager) AddVersionLabel(ctx context.Context, versionID name.NodeID, label string, moveLabel bool) error {
	if err := m.coord.Service().AddVersionLabel(ctx, versionID, label, moveLabel); err != nil {
		return fmt.Errorf("versioning: add label %q to %s: %w", label, versionID, err)
	}
	return nil
}

// RemoveVersionLabel detaches label from versionHistoryID.
func (m *Manager) RemoveVersionLabel(ctx context.Context, versionHistoryID name.NodeID, label string) error {
	if err := m.coord.Service().RemoveVersionLabel(ctx, versionHistoryID, label); err != nil {
		return fmt.Errorf("versioning: remove label %q from %s: %w", label, versionHistoryID, err)
	}
	return nil
}

// RemoveVersion deletes versionID from its version history. Fails with
// contenterr.ErrVersionConflict if versionID is the root version or has
// successors that are not also being removed (spec.md §6's edge case).
func (m *Manager) RemoveVersion(ctx context.Context, versionID name.NodeID) error {
	if err := m.coord.Service().RemoveVersion(ctx, versionID); err != nil {
		return fmt.Errorf("versioning: remove version %s: %w", versionID, err)
	}
	return nil
}

