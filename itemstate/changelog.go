package itemstate

import "github.com/orneryd/contentengine/name"

// OpType enumerates the typed ChangeLog operations from spec.md §4.1.
type OpType int

const (
	OpAddNode OpType = iota
	OpAddProperty
	OpSetProperty
	OpSetMixin
	OpRemove
	OpMove
	OpReorderNodes
	OpClone
	OpCopy
	OpCheckin
	OpCheckout
	OpRestore
	OpMerge
	OpLock
	OpUnlock
	OpUpdate
)

// Op is one entry in a ChangeLog.
type Op struct {
	Type OpType

	Target name.ItemID
	Parent name.NodeID

	// AddNode/AddProperty/SetProperty
	NewName     name.QName
	PrimaryType name.QName
	Values      []Value
	Multivalued bool

	// SetMixin
	MixinTypes []name.QName

	// Move/Clone/Copy
	SrcPath  name.Path
	DestPath name.Path

	// ReorderNodes
	Order []ChildNodeEntry

	// Version/lock ops carry their target implicitly via Target.
	LabelOrToken string
}

// ChangeLog is the serialized batch of operations produced by a save
// traversal (spec.md §4.1), submitted to the Workspace Coordinator as a
// single unit: "one batch per log, operations in log order".
type ChangeLog struct {
	// TargetID is the nearest common ancestor of all changed states.
	TargetID name.NodeID
	Ops      []Op
}

// Add appends an operation to the log.
func (c *ChangeLog) Add(op Op) {
	c.Ops = append(c.Ops, op)
}

// Len reports the number of buffered operations.
func (c *ChangeLog) Len() int {
	return len(c.Ops)
}
