package name

import "github.com/google/uuid"

// NodeID wraps an immutable 128-bit UUID identifying a node, per
// spec.md §3 ("Node ids wrap an immutable UUID (128-bit)"). Unlike
// storage.NodeID in the teacher (a bare string typedef), the identity
// here is opaque and generated, not caller-supplied, matching the JCR
// data model this engine implements.
type NodeID struct {
	uuid uuid.UUID
}

// NewNodeID mints a fresh random NodeID.
func NewNodeID() NodeID {
	return NodeID{uuid: uuid.New()}
}

// RootNodeID is the well-known id of the workspace root node. It is the
// nil UUID so that every workspace agrees on it without coordination.
var RootNodeID = NodeID{uuid: uuid.Nil}

// ParseNodeID parses a canonical UUID string into a NodeID.
func ParseNodeID(s string) (NodeID, error) {
	u, err := uuid.Parse(s)
	if err != nil {
		return NodeID{}, err
	}
	return NodeID{uuid: u}, nil
}

// String returns the canonical UUID text form.
func (id NodeID) String() string {
	return id.uuid.String()
}

// IsRoot reports whether id names the repository root.
func (id NodeID) IsRoot() bool {
	return id == RootNodeID
}

// PropertyID wraps (parentNodeId, QName) identifying a property, per
// spec.md §3.
type PropertyID struct {
	Parent NodeID
	Name   QName
}

// NewPropertyID builds a PropertyID.
func NewPropertyID(parent NodeID, propName QName) PropertyID {
	return PropertyID{Parent: parent, Name: propName}
}

// String renders a debug form "<parent-uuid>/{ns}local".
func (id PropertyID) String() string {
	return id.Parent.String() + "/" + id.Name.String()
}

// ItemID is the union of NodeID and PropertyID used wherever spec.md
// speaks of an opaque "Item Id" without distinguishing node vs.
// property (e.g. the Hierarchy Manager's idCache, §4.2).
type ItemID struct {
	node     NodeID
	property PropertyID
	isNode   bool
}

// NodeItemID wraps a NodeID as an ItemID.
func NodeItemID(id NodeID) ItemID {
	return ItemID{node: id, isNode: true}
}

// PropertyItemID wraps a PropertyID as an ItemID.
func PropertyItemID(id PropertyID) ItemID {
	return ItemID{property: id, isNode: false}
}

// IsNode reports whether the id names a node.
func (id ItemID) IsNode() bool { return id.isNode }

// AsNode returns the underlying NodeID; callers must check IsNode first.
func (id ItemID) AsNode() NodeID { return id.node }

// AsProperty returns the underlying PropertyID; callers must check
// !IsNode first.
func (id ItemID) AsProperty() PropertyID { return id.property }

// String renders whichever underlying id is present.
func (id ItemID) String() string {
	if id.isNode {
		return id.node.String()
	}
	return id.property.String()
}
