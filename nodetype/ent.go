package nodetype

import (
	"fmt"

	"github.com/orneryd/contentengine/contenterr"
	"github.com/orneryd/contentengine/name"
)

// EffectiveNodeType is the merged, conflict-resolved view of a set of
// type names: their combined supertype closure, child-node
// definitions, and property definitions (spec.md §3 GLOSSARY).
type EffectiveNodeType struct {
	Key WeightedKey

	// TypeNames is the full transitive closure this ENT covers
	// (constituents plus all their supertypes).
	TypeNames map[name.QName]struct{}

	// ChildNodes/Properties are keyed by definition name; a zero QName
	// key holds residual ("*") definitions.
	ChildNodes map[name.QName]ChildNodeDef
	Properties map[name.QName]PropertyDef
}

// newSingleENT builds the ENT for exactly one registered type, given
// its Definition and the closure of its Supertypes' own ENTs (already
// resolved by the caller).
func newSingleENT(def *Definition, supertypeClosure map[name.QName]struct{}) *EffectiveNodeType {
	closure := make(map[name.QName]struct{}, len(supertypeClosure)+1)
	for n := range supertypeClosure {
		closure[n] = struct{}{}
	}
	closure[def.Name] = struct{}{}

	ent := &EffectiveNodeType{
		TypeNames:  closure,
		ChildNodes: make(map[name.QName]ChildNodeDef, len(def.ChildNodes)),
		Properties: make(map[name.QName]PropertyDef, len(def.Properties)),
	}
	for _, cnd := range def.ChildNodes {
		ent.ChildNodes[cnd.Name] = cnd
	}
	for _, pd := range def.Properties {
		ent.Properties[pd.Name] = pd
	}
	ent.Key = NewWeightedKey([]name.QName{def.Name}, len(closure))
	return ent
}

// merge unions a's and b's supertype closures and definitions. For
// each child-node-definition and property-definition name collision,
// the more restrictive definition wins: narrower required types,
// mandatory implies mandatory, protected implies protected
// (spec.md §4.4). Incompatible requirements return
// contenterr.ErrNodeTypeConflict.
func merge(a, b *EffectiveNodeType) (*EffectiveNodeType, error) {
	names := make(map[name.QName]struct{}, len(a.TypeNames)+len(b.TypeNames))
	for n := range a.TypeNames {
		names[n] = struct{}{}
	}
	for n := range b.TypeNames {
		names[n] = struct{}{}
	}

	childNodes := make(map[name.QName]ChildNodeDef, len(a.ChildNodes)+len(b.ChildNodes))
	for k, v := range a.ChildNodes {
		childNodes[k] = v
	}
	for k, v := range b.ChildNodes {
		if existing, ok := childNodes[k]; ok {
			merged, err := mergeChildNodeDef(existing, v)
			if err != nil {
				return nil, err
			}
			childNodes[k] = merged
		} else {
			childNodes[k] = v
		}
	}

	properties := make(map[name.QName]PropertyDef, len(a.Properties)+len(b.Properties))
	for k, v := range a.Properties {
		properties[k] = v
	}
	for k, v := range b.Properties {
		if existing, ok := properties[k]; ok {
			merged, err := mergePropertyDef(existing, v)
			if err != nil {
				return nil, err
			}
			properties[k] = merged
		} else {
			properties[k] = v
		}
	}

	weight := len(names)
	allNames := make([]name.QName, 0, len(a.Key.Names())+len(b.Key.Names()))
	allNames = append(allNames, a.Key.Names()...)
	allNames = append(allNames, b.Key.Names()...)

	return &EffectiveNodeType{
		Key:        NewWeightedKey(allNames, weight),
		TypeNames:  names,
		ChildNodes: childNodes,
		Properties: properties,
	}, nil
}

func mergeChildNodeDef(a, b ChildNodeDef) (ChildNodeDef, error) {
	if a.AllowsSameNameSiblings != b.AllowsSameNameSiblings {
		return ChildNodeDef{}, fmt.Errorf("%w: same-name-sibling policy differs for child node %s", contenterr.ErrNodeTypeConflict, a.Name)
	}
	out := a
	out.Mandatory = a.Mandatory || b.Mandatory
	out.Protected = a.Protected || b.Protected
	out.RequiredPrimaryTypes = narrowerRequiredTypes(a.RequiredPrimaryTypes, b.RequiredPrimaryTypes)
	return out, nil
}

// narrowerRequiredTypes returns the union of both constraint sets: a
// node must satisfy every required type from either definition, which
// is the narrower (more restrictive) combined requirement.
func narrowerRequiredTypes(a, b []name.QName) []name.QName {
	seen := make(map[name.QName]struct{}, len(a)+len(b))
	out := make([]name.QName, 0, len(a)+len(b))
	for _, n := range append(append([]name.QName{}, a...), b...) {
		if _, ok := seen[n]; ok {
			continue
		}
		seen[n] = struct{}{}
		out = append(out, n)
	}
	return out
}

func mergePropertyDef(a, b PropertyDef) (PropertyDef, error) {
	if a.RequiredType != b.RequiredType {
		return PropertyDef{}, fmt.Errorf("%w: required type differs for property %s", contenterr.ErrNodeTypeConflict, a.Name)
	}
	if a.Multiple != b.Multiple {
		return PropertyDef{}, fmt.Errorf("%w: multi-valued-ness differs for property %s", contenterr.ErrNodeTypeConflict, a.Name)
	}
	out := a
	out.Mandatory = a.Mandatory || b.Mandatory
	out.Protected = a.Protected || b.Protected
	if len(b.ValueConstraints) > 0 {
		out.ValueConstraints = append(append([]string{}, a.ValueConstraints...), b.ValueConstraints...)
	}
	return out, nil
}
