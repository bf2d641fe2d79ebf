package nodetype

import (
	"testing"

	"github.com/orneryd/contentengine/contenterr"
	"github.com/orneryd/contentengine/itemstate"
	"github.com/orneryd/contentengine/name"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func qn(local string) name.QName { return name.NewQName("", local) }

func newTestRegistry(t *testing.T) *Registry {
	t.Helper()
	r := NewRegistry()
	require.NoError(t, LoadBuiltins(r))
	return r
}

func TestLoadBuiltins_RegistersBaseTypes(t *testing.T) {
	r := newTestRegistry(t)
	_, ok := r.Definition(qn("nt:unstructured"))
	assert.True(t, ok)
	_, ok = r.Definition(qn("mix:versionable"))
	assert.True(t, ok)
}

func TestRegistry_RegisterRejectsDuplicate(t *testing.T) {
	r := newTestRegistry(t)
	dup := &Definition{Name: qn("nt:unstructured")}
	err := r.Register(dup)
	assert.ErrorIs(t, err, contenterr.ErrItemExists)
}

func TestRegistry_RegisterRejectsUnknownSupertype(t *testing.T) {
	r := NewRegistry()
	err := r.Register(&Definition{Name: qn("myapp:thing"), Supertypes: []name.QName{qn("nt:base")}})
	assert.Error(t, err)
}

func TestRegistry_UnregisterRejectsDependency(t *testing.T) {
	r := newTestRegistry(t)
	require.NoError(t, r.Register(&Definition{
		Name:       qn("myapp:doc"),
		Supertypes: []name.QName{qn("nt:unstructured")},
	}))

	err := r.Unregister(qn("nt:unstructured"))
	assert.Error(t, err)

	require.NoError(t, r.Unregister(qn("myapp:doc")))
	assert.NoError(t, r.Unregister(qn("nt:unstructured")))
}

func TestRegistry_GetEffectiveType_SingleType(t *testing.T) {
	r := newTestRegistry(t)
	ent, err := r.GetEffectiveType([]name.QName{qn("nt:unstructured")})
	require.NoError(t, err)

	_, hasBase := ent.TypeNames[qn("nt:base")]
	assert.True(t, hasBase)
	_, hasSelf := ent.TypeNames[qn("nt:unstructured")]
	assert.True(t, hasSelf)

	_, hasPrimaryType := ent.Properties[qn("jcr:primaryType")]
	assert.True(t, hasPrimaryType, "nt:unstructured must inherit nt:base's properties")
}

// TestRegistry_GetEffectiveType_CachesSubAggregates mirrors the
// end-to-end scenario where requesting [A,B] after A and B have each
// been resolved individually must cover the request from the two
// cached single-type ENTs without rebuilding either one.
func TestRegistry_GetEffectiveType_CachesSubAggregates(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(&Definition{Name: qn("A")}))
	require.NoError(t, r.Register(&Definition{Name: qn("B")}))

	_, err := r.GetEffectiveType([]name.QName{qn("A")})
	require.NoError(t, err)
	_, err = r.GetEffectiveType([]name.QName{qn("B")})
	require.NoError(t, err)

	before := r.CreateCount()
	require.Equal(t, 2, before)

	combined, err := r.GetEffectiveType([]name.QName{qn("A"), qn("B")})
	require.NoError(t, err)

	assert.Equal(t, before, r.CreateCount(), "combining two cached single-type ENTs must not rebuild either")
	_, hasA := combined.TypeNames[qn("A")]
	_, hasB := combined.TypeNames[qn("B")]
	assert.True(t, hasA)
	assert.True(t, hasB)

	cached, err := r.GetEffectiveType([]name.QName{qn("A"), qn("B")})
	require.NoError(t, err)
	assert.Same(t, combined, cached, "repeated request for the same name set must hit the top-level cache entry")
}

func TestRegistry_UnregisterEvictsDependentCacheEntries(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(&Definition{Name: qn("A")}))
	ent, err := r.GetEffectiveType([]name.QName{qn("A")})
	require.NoError(t, err)
	require.NotNil(t, ent)

	require.NoError(t, r.Unregister(qn("A")))

	_, err = r.GetEffectiveType([]name.QName{qn("A")})
	assert.Error(t, err, "evicted type must no longer resolve from a stale cache entry")
}

func TestRegistry_ValidateNode_MandatoryPropertyMissing(t *testing.T) {
	r := newTestRegistry(t)
	require.NoError(t, r.Register(&Definition{
		Name:       qn("myapp:doc"),
		Supertypes: []name.QName{qn("mix:versionable")},
	}))

	s := itemstate.NewNodeState(name.NewNodeID(), name.RootNodeID, true, qn("myapp:doc"))
	err := r.ValidateNode(s)
	assert.Error(t, err, "jcr:isCheckedOut is mandatory on mix:versionable")
}

func TestRegistry_ValidateNode_SameNameSiblingsRejectedByDefault(t *testing.T) {
	r := newTestRegistry(t)
	s := itemstate.NewNodeState(name.NewNodeID(), name.RootNodeID, true, qn("nt:folder"))
	s.Node.ChildEntries = []itemstate.ChildNodeEntry{
		{Name: qn("child"), Index: 1, Child: name.NewNodeID()},
		{Name: qn("child"), Index: 2, Child: name.NewNodeID()},
	}

	err := r.ValidateNode(s)
	assert.Error(t, err, "nt:folder's child node definition forbids same-name siblings")
}

func TestRegistry_ValidateNode_SameNameSiblingsAllowedOnResidual(t *testing.T) {
	r := newTestRegistry(t)
	s := itemstate.NewNodeState(name.NewNodeID(), name.RootNodeID, true, qn("nt:unstructured"))
	s.Node.ChildEntries = []itemstate.ChildNodeEntry{
		{Name: qn("child"), Index: 1, Child: name.NewNodeID()},
		{Name: qn("child"), Index: 2, Child: name.NewNodeID()},
	}

	assert.NoError(t, r.ValidateNode(s))
}

func registerTypedDoc(t *testing.T, r *Registry, constraints ...string) {
	t.Helper()
	require.NoError(t, r.Register(&Definition{
		Name: qn("myapp:typedDoc"),
		Properties: []PropertyDef{
			{Name: qn("title"), RequiredType: itemstate.TypeString, ValueConstraints: constraints},
		},
	}))
}

func newPropertyState(t *testing.T, parent name.NodeID, valueType itemstate.ValueType, raw any) *itemstate.State {
	t.Helper()
	id := name.NewPropertyID(parent, qn("title"))
	s := itemstate.NewPropertyState(id, valueType, false)
	s.Property.Values = []itemstate.Value{{Type: valueType, Raw: raw}}
	return s
}

func TestRegistry_ValidateProperty_RejectsTypeMismatch(t *testing.T) {
	r := newTestRegistry(t)
	registerTypedDoc(t, r)

	parent := itemstate.NewNodeState(name.NewNodeID(), name.RootNodeID, true, qn("myapp:typedDoc"))
	prop := newPropertyState(t, parent.ID.AsNode(), itemstate.TypeBoolean, true)

	err := r.ValidateProperty(prop, parent)
	assert.ErrorIs(t, err, contenterr.ErrConstraintViolation)
}

func TestRegistry_ValidateProperty_AcceptsMatchingType(t *testing.T) {
	r := newTestRegistry(t)
	registerTypedDoc(t, r)

	parent := itemstate.NewNodeState(name.NewNodeID(), name.RootNodeID, true, qn("myapp:typedDoc"))
	prop := newPropertyState(t, parent.ID.AsNode(), itemstate.TypeString, "hello")

	assert.NoError(t, r.ValidateProperty(prop, parent))
}

func TestRegistry_ValidateProperty_RejectsValueOutsideRegexConstraint(t *testing.T) {
	r := newTestRegistry(t)
	registerTypedDoc(t, r, "^[a-z]+$")

	parent := itemstate.NewNodeState(name.NewNodeID(), name.RootNodeID, true, qn("myapp:typedDoc"))
	prop := newPropertyState(t, parent.ID.AsNode(), itemstate.TypeString, "Not Lowercase")

	err := r.ValidateProperty(prop, parent)
	assert.ErrorIs(t, err, contenterr.ErrConstraintViolation)
}

func TestRegistry_ValidateProperty_AcceptsValueSatisfyingRegexConstraint(t *testing.T) {
	r := newTestRegistry(t)
	registerTypedDoc(t, r, "^[a-z]+$")

	parent := itemstate.NewNodeState(name.NewNodeID(), name.RootNodeID, true, qn("myapp:typedDoc"))
	prop := newPropertyState(t, parent.ID.AsNode(), itemstate.TypeString, "lowercase")

	assert.NoError(t, r.ValidateProperty(prop, parent))
}

func TestRegistry_ValidateProperty_NumericIntervalConstraint(t *testing.T) {
	r := newTestRegistry(t)
	require.NoError(t, r.Register(&Definition{
		Name: qn("myapp:ranged"),
		Properties: []PropertyDef{
			{Name: qn("count"), RequiredType: itemstate.TypeLong, ValueConstraints: []string{"[0,10]"}},
		},
	}))
	parent := itemstate.NewNodeState(name.NewNodeID(), name.RootNodeID, true, qn("myapp:ranged"))

	id := name.NewPropertyID(parent.ID.AsNode(), qn("count"))
	inRange := itemstate.NewPropertyState(id, itemstate.TypeLong, false)
	inRange.Property.Values = []itemstate.Value{{Type: itemstate.TypeLong, Raw: int64(5)}}
	assert.NoError(t, r.ValidateProperty(inRange, parent))

	outOfRange := itemstate.NewPropertyState(id, itemstate.TypeLong, false)
	outOfRange.Property.Values = []itemstate.Value{{Type: itemstate.TypeLong, Raw: int64(11)}}
	assert.ErrorIs(t, r.ValidateProperty(outOfRange, parent), contenterr.ErrConstraintViolation)
}

func TestRegistry_ValidateProperty_UndeclaredPropertyOnUnstructuredPasses(t *testing.T) {
	r := newTestRegistry(t)
	parent := itemstate.NewNodeState(name.NewNodeID(), name.RootNodeID, true, qn("nt:unstructured"))
	id := name.NewPropertyID(parent.ID.AsNode(), qn("whatever"))
	prop := itemstate.NewPropertyState(id, itemstate.TypeBoolean, false)
	prop.Property.Values = []itemstate.Value{{Type: itemstate.TypeBoolean, Raw: true}}

	assert.NoError(t, r.ValidateProperty(prop, parent))
}
