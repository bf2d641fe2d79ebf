package nodetype

import (
	"fmt"
	"sync"

	"github.com/orneryd/contentengine/contenterr"
	"github.com/orneryd/contentengine/itemstate"
	"github.com/orneryd/contentengine/name"
)

// ContentReferenceChecker is the hook spec.md §4.4/§9 leaves
// unimplemented ("checkForReferencesInContent"). If nil, Unregister
// applies the spec's documented safe default: permitted only when no
// registered type still depends on the target, with no content scan.
// If non-nil, it is consulted too: implemented=false fails the
// unregister with contenterr.ErrNotImplemented, and referenced=true
// fails it with contenterr.ErrConstraintViolation.
type ContentReferenceChecker func(target name.QName) (referenced bool, implemented bool)

// Registry owns the set of registered node-type Definitions and the
// Effective Node Type aggregation cache (spec.md §4.4).
type Registry struct {
	mu sync.RWMutex

	defs map[name.QName]*Definition

	// entCache is keyed by WeightedKey.String(), covering both
	// single-type ENTs (key = one name) and multi-type aggregates.
	entCache map[string]*EffectiveNodeType

	referenceChecker ContentReferenceChecker

	// createCount instruments §8 Scenario S3: a correct aggregation
	// algorithm must not reconstruct single-type ENTs it has already
	// cached once larger aggregates exist to cover them.
	createCount int
}

// NewRegistry creates an empty registry. Built-in types should be
// loaded afterward via LoadBuiltins.
func NewRegistry() *Registry {
	return &Registry{
		defs:     make(map[name.QName]*Definition),
		entCache: make(map[string]*EffectiveNodeType),
	}
}

// SetContentReferenceChecker installs the optional content-reference
// scan hook used by Unregister.
func (r *Registry) SetContentReferenceChecker(fn ContentReferenceChecker) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.referenceChecker = fn
}

// CreateCount returns the number of single-type ENTs actually built
// (as opposed to served from cache) since the registry was created.
func (r *Registry) CreateCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.createCount
}

// Register validates def against the current effective universe (a
// primary type cannot redeclare a name already registered) and adds
// it, per spec.md §4.4.
func (r *Registry) Register(def *Definition) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.registerLocked(def)
}

func (r *Registry) registerLocked(def *Definition) error {
	if _, exists := r.defs[def.Name]; exists {
		return contenterr.Wrap(contenterr.ErrItemExists, def.Name.String())
	}
	for _, super := range def.Supertypes {
		if _, ok := r.defs[super]; !ok {
			return contenterr.Wrap(contenterr.ErrNoSuchNodeType, super.String())
		}
	}
	r.defs[def.Name] = def
	return nil
}

// Unregister removes a node type. Rejected if any other registered
// type lists name in its dependency set, or if the content-reference
// hook reports a reference (or is unimplemented), per spec.md §4.4/§9.
func (r *Registry) Unregister(target name.QName) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.unregisterLocked(target)
}

func (r *Registry) unregisterLocked(target name.QName) error {
	if _, ok := r.defs[target]; !ok {
		return contenterr.Wrap(contenterr.ErrNoSuchNodeType, target.String())
	}
	for n, def := range r.defs {
		if n == target {
			continue
		}
		if def.dependsOn(target) {
			return contenterr.Wrap(contenterr.ErrConstraintViolation, "node type "+n.String()+" depends on "+target.String())
		}
	}
	if r.referenceChecker != nil {
		referenced, implemented := r.referenceChecker(target)
		if !implemented {
			return contenterr.Wrap(contenterr.ErrNotImplemented, "content reference scan")
		}
		if referenced {
			return contenterr.Wrap(contenterr.ErrConstraintViolation, "content references "+target.String())
		}
	}
	delete(r.defs, target)
	r.evictCacheContaining(target)
	return nil
}

// Reregister replaces def atomically with respect to the ENT cache:
// equivalent to Unregister+Register but performed under one critical
// section (spec.md §4.4).
func (r *Registry) Reregister(def *Definition) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	old, ok := r.defs[def.Name]
	if !ok {
		return contenterr.Wrap(contenterr.ErrNoSuchNodeType, def.Name.String())
	}
	delete(r.defs, def.Name)
	if err := r.registerLocked(def); err != nil {
		r.defs[def.Name] = old
		return err
	}
	r.evictCacheContaining(def.Name)
	return nil
}

// evictCacheContaining removes every cached ENT whose transitive
// closure includes target, per spec.md §4.4 cache coherence.
func (r *Registry) evictCacheContaining(target name.QName) {
	for key, ent := range r.entCache {
		if _, ok := ent.TypeNames[target]; ok {
			delete(r.entCache, key)
		}
	}
}

// GetEffectiveType computes (or retrieves from cache) the Effective
// Node Type for a set of type names, per spec.md §4.4's aggregation
// algorithm.
func (r *Registry) GetEffectiveType(names []name.QName) (*EffectiveNodeType, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.getEffectiveTypeLocked(names)
}

func (r *Registry) getEffectiveTypeLocked(names []name.QName) (*EffectiveNodeType, error) {
	reqKey := NewWeightedKey(names, 0)
	if cached, ok := r.entCache[reqKey.String()]; ok {
		return cached, nil
	}

	remaining := make(map[name.QName]struct{}, len(names))
	for _, n := range names {
		remaining[n] = struct{}{}
	}

	var accum *EffectiveNodeType
	for len(remaining) > 0 {
		best := r.bestCoveringAggregate(remaining)
		if best == nil {
			break
		}
		accum = mergeOrFirst(accum, best)
		if accum == nil {
			return nil, contenterr.ErrNodeTypeConflict
		}
		for _, n := range best.Key.Names() {
			delete(remaining, n)
		}
	}

	for n := range remaining {
		single, err := r.buildSingleENTLocked(n)
		if err != nil {
			return nil, err
		}
		var mergeErr error
		accum, mergeErr = mergeStep(accum, single)
		if mergeErr != nil {
			return nil, mergeErr
		}
	}

	if accum == nil {
		accum = &EffectiveNodeType{
			TypeNames:  map[name.QName]struct{}{},
			ChildNodes: map[name.QName]ChildNodeDef{},
			Properties: map[name.QName]PropertyDef{},
		}
	}
	accum.Key = NewWeightedKey(names, len(accum.TypeNames))
	r.entCache[accum.Key.String()] = accum
	return accum, nil
}

// bestCoveringAggregate finds the cached ENT with the largest weight
// whose constituent names are entirely within remaining, per spec.md's
// "greedily cover S using the set of currently cached aggregates with
// maximum weighted subset that fits within S".
func (r *Registry) bestCoveringAggregate(remaining map[name.QName]struct{}) *EffectiveNodeType {
	var best *EffectiveNodeType
	for _, ent := range r.entCache {
		if ent.Key.Size() == 0 {
			continue
		}
		if !ent.Key.IsSubsetOf(remaining) {
			continue
		}
		if best == nil || ent.Key.Weight() > best.Key.Weight() {
			best = ent
		}
	}
	return best
}

func mergeOrFirst(accum, next *EffectiveNodeType) *EffectiveNodeType {
	if accum == nil {
		return next
	}
	merged, err := merge(accum, next)
	if err != nil {
		return nil
	}
	return merged
}

func mergeStep(accum, next *EffectiveNodeType) (*EffectiveNodeType, error) {
	if accum == nil {
		return next, nil
	}
	return merge(accum, next)
}

// buildSingleENTLocked builds (or fetches from cache) the ENT for
// exactly one registered type name, recursively resolving its
// supertypes' own ENTs first. Caller must hold r.mu.
func (r *Registry) buildSingleENTLocked(n name.QName) (*EffectiveNodeType, error) {
	singleKey := NewWeightedKey([]name.QName{n}, 0).String()
	if cached, ok := r.entCache[singleKey]; ok {
		return cached, nil
	}

	def, ok := r.defs[n]
	if !ok {
		return nil, contenterr.Wrap(contenterr.ErrNoSuchNodeType, n.String())
	}

	var superENT *EffectiveNodeType
	if len(def.Supertypes) > 0 {
		var err error
		superENT, err = r.getEffectiveTypeLocked(def.Supertypes)
		if err != nil {
			return nil, err
		}
	}

	r.createCount++
	var closure map[name.QName]struct{}
	if superENT != nil {
		closure = superENT.TypeNames
	} else {
		closure = map[name.QName]struct{}{}
	}
	own := newSingleENT(def, closure)

	var ent *EffectiveNodeType
	if superENT != nil {
		merged, err := merge(superENT, own)
		if err != nil {
			return nil, err
		}
		ent = merged
	} else {
		ent = own
	}
	ent.Key = NewWeightedKey([]name.QName{n}, len(ent.TypeNames))
	r.entCache[ent.Key.String()] = ent
	return ent, nil
}

// Definition looks up a registered type's Definition.
func (r *Registry) Definition(n name.QName) (*Definition, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.defs[n]
	return d, ok
}

// AllDefinitions returns every registered Definition, in no particular
// order, for callers (e.g. reposvc) that need to enumerate the full
// node-type catalog.
func (r *Registry) AllDefinitions() []*Definition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Definition, 0, len(r.defs))
	for _, d := range r.defs {
		out = append(out, d)
	}
	return out
}

// ValidateNode implements itemstate.Validator: it checks spec.md
// §4.4's validation rules for a single node state against its
// effective type (primary type + mixins).
func (r *Registry) ValidateNode(s *itemstate.State) error {
	if !s.IsNode {
		return nil
	}
	typeNames := make([]name.QName, 0, len(s.Node.MixinTypes)+1)
	typeNames = append(typeNames, s.Node.PrimaryType)
	for m := range s.Node.MixinTypes {
		typeNames = append(typeNames, m)
	}

	ent, err := r.GetEffectiveType(typeNames)
	if err != nil {
		return err
	}

	for propName, def := range ent.Properties {
		if !def.Mandatory || isStructuralProperty(propName) {
			continue
		}
		if _, present := s.Node.PropertyNames[propName]; !present {
			return contenterr.Wrap(contenterr.ErrConstraintViolation, "mandatory property "+propName.String()+" missing")
		}
	}
	for cnName, def := range ent.ChildNodes {
		if !def.Mandatory || cnName.IsZero() {
			continue
		}
		found := false
		for _, entry := range s.Node.ChildEntries {
			if entry.Name == cnName {
				found = true
				break
			}
		}
		if !found {
			return contenterr.Wrap(contenterr.ErrConstraintViolation, "mandatory child node "+cnName.String()+" missing")
		}
	}

	return r.validateSameNameSiblings(ent, s)
}

// ValidateProperty implements itemstate.Validator: it checks spec.md
// §4.4's rule that a property's value type must equal its definition's
// required type and its values must satisfy the definition's value
// constraints, resolved via parentState's effective type. An undeclared
// property (no matching named or residual definition) is permitted
// unvalidated, matching nt:unstructured's open-ended residual policy.
func (r *Registry) ValidateProperty(propState, parentState *itemstate.State) error {
	typeNames := make([]name.QName, 0, len(parentState.Node.MixinTypes)+1)
	typeNames = append(typeNames, parentState.Node.PrimaryType)
	for m := range parentState.Node.MixinTypes {
		typeNames = append(typeNames, m)
	}

	ent, err := r.GetEffectiveType(typeNames)
	if err != nil {
		return err
	}

	propName := propState.ID.AsProperty().Name
	def, ok := ent.Properties[propName]
	if !ok {
		def, ok = ent.Properties[name.QName{}]
		if !ok {
			return nil
		}
	}

	if def.RequiredType != itemstate.TypeUndefined && propState.Property.Type != def.RequiredType {
		return fmt.Errorf("%w: property %s requires type %v, got %v", contenterr.ErrConstraintViolation, propName, def.RequiredType, propState.Property.Type)
	}

	return checkValueConstraints(propName, def, propState.Property.Values)
}

// isStructuralProperty reports whether propName is one of nt:base's
// built-in properties that NodeData already models as first-class
// fields (PrimaryType, MixinTypes) rather than generic property
// storage; their presence is structural and never requires a client to
// have explicitly set a matching entry in Node.PropertyNames.
func isStructuralProperty(propName name.QName) bool {
	switch propName {
	case name.NewQName("", "jcr:primaryType"), name.NewQName("", "jcr:mixinTypes"):
		return true
	default:
		return false
	}
}

// validateSameNameSiblings enforces spec.md §4.4's "Same-name sibling
// presence requires the child-node definition to permit it".
func (r *Registry) validateSameNameSiblings(ent *EffectiveNodeType, s *itemstate.State) error {
	counts := make(map[name.QName]int)
	for _, entry := range s.Node.ChildEntries {
		counts[entry.Name]++
	}
	for childName, count := range counts {
		if count <= 1 {
			continue
		}
		def, ok := ent.ChildNodes[childName]
		if !ok {
			def, ok = ent.ChildNodes[name.QName{}]
		}
		if !ok || !def.AllowsSameNameSiblings {
			return contenterr.Wrap(contenterr.ErrConstraintViolation, "same-name siblings not permitted for "+childName.String())
		}
	}
	return nil
}

// ValidatePrimaryType checks that primaryType satisfies parentDef's
// required primary types for the given child name, per spec.md §4.4
// ("Primary type must satisfy the parent's child-node-definition's
// required primary types").
func (r *Registry) ValidatePrimaryType(parentEnt *EffectiveNodeType, childName, primaryType name.QName) error {
	def, ok := parentEnt.ChildNodes[childName]
	if !ok {
		def, ok = parentEnt.ChildNodes[name.QName{}]
	}
	if !ok {
		return contenterr.Wrap(contenterr.ErrConstraintViolation, "no child node definition for "+childName.String())
	}
	if len(def.RequiredPrimaryTypes) == 0 {
		return nil
	}
	ent, err := r.GetEffectiveType([]name.QName{primaryType})
	if err != nil {
		return err
	}
	for _, required := range def.RequiredPrimaryTypes {
		if _, ok := ent.TypeNames[required]; !ok {
			return contenterr.Wrap(contenterr.ErrConstraintViolation, primaryType.String()+" does not satisfy required type "+required.String())
		}
	}
	return nil
}
