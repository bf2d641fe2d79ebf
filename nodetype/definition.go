// Package nodetype implements the Node-Type Registry and Effective
// Node Type (ENT) engine from spec.md §4.4: definitions, an
// aggregation cache keyed by WeightedKey, conflict-resolving merge,
// and the validation rules invoked at save time.
package nodetype

import (
	"github.com/orneryd/contentengine/itemstate"
	"github.com/orneryd/contentengine/name"
)

// ChildNodeDef is one child-node definition within a node type.
// Name.IsZero() denotes a residual ("*") definition matching any name
// not otherwise covered.
type ChildNodeDef struct {
	Name                 name.QName
	RequiredPrimaryTypes []name.QName
	DefaultPrimaryType   name.QName
	AllowsSameNameSiblings bool
	Mandatory            bool
	Protected            bool
	AutoCreated          bool
}

// PropertyDef is one property definition within a node type.
type PropertyDef struct {
	Name             name.QName
	RequiredType     itemstate.ValueType
	Multiple         bool
	Mandatory        bool
	Protected        bool
	AutoCreated      bool
	ValueConstraints []string
}

// Definition is a single registered node type: its declared supertypes
// plus the child-node and property definitions it introduces (not
// including inherited ones — those are resolved by aggregation).
type Definition struct {
	Name        name.QName
	IsMixin     bool
	Supertypes  []name.QName
	ChildNodes  []ChildNodeDef
	Properties  []PropertyDef
}

// dependsOn reports whether d declares name among its supertypes,
// used by Registry.Unregister's dependency check (spec.md §4.4).
func (d *Definition) dependsOn(target name.QName) bool {
	for _, s := range d.Supertypes {
		if s == target {
			return true
		}
	}
	return false
}
