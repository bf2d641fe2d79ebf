package name

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPath_RootAndChild(t *testing.T) {
	root := Root
	assert.True(t, root.IsRoot())
	assert.Equal(t, 0, root.Depth())

	a := root.Child(Element{Name: NewQName("", "a")})
	assert.False(t, a.IsRoot())
	assert.Equal(t, 1, a.Depth())
	leaf, ok := a.Leaf()
	assert.True(t, ok)
	assert.Equal(t, 1, leaf.Index)
	assert.Equal(t, "/a", a.String())
}

func TestPath_SameNameSiblingIndexFoldsZeroToOne(t *testing.T) {
	p := Root.Child(Element{Name: NewQName("", "x"), Index: 0})
	leaf, _ := p.Leaf()
	assert.Equal(t, 1, leaf.Index)
}

func TestPath_SameNameSiblingIndexInText(t *testing.T) {
	p := Root.Child(Element{Name: NewQName("", "x"), Index: 2})
	assert.Equal(t, "/x[2]", p.String())
}

func TestPath_AncestorAtDepth(t *testing.T) {
	p := NewPath(
		Element{Name: NewQName("", "a")},
		Element{Name: NewQName("", "b")},
		Element{Name: NewQName("", "c")},
	)
	anc, ok := p.AncestorAtDepth(2)
	assert.True(t, ok)
	assert.Equal(t, "/a/b", anc.String())

	_, ok = p.AncestorAtDepth(4)
	assert.False(t, ok)
}

func TestPath_IsAncestorOf(t *testing.T) {
	a := NewPath(Element{Name: NewQName("", "a")})
	ab := NewPath(Element{Name: NewQName("", "a")}, Element{Name: NewQName("", "b")})
	assert.True(t, a.IsAncestorOf(ab))
	assert.False(t, ab.IsAncestorOf(a))
	assert.True(t, a.IsAncestorOf(a))
}

func TestPath_RelativeTo(t *testing.T) {
	base := NewPath(Element{Name: NewQName("", "a")})
	full := NewPath(Element{Name: NewQName("", "a")}, Element{Name: NewQName("", "b")})

	rel, ok := full.RelativeTo(base)
	assert.True(t, ok)
	assert.Equal(t, "/b", rel.String())

	_, ok = base.RelativeTo(full)
	assert.False(t, ok)
}

func TestBuilder_PushPop(t *testing.T) {
	b := NewBuilder().Push(Element{Name: NewQName("", "a")}).Push(Element{Name: NewQName("", "b")})
	assert.Equal(t, "/a/b", b.Build().String())

	b.Pop()
	assert.Equal(t, "/a", b.Build().String())
}

func TestPath_Equal(t *testing.T) {
	p1 := NewPath(Element{Name: NewQName("", "a"), Index: 1})
	p2 := NewPath(Element{Name: NewQName("", "a"), Index: 0}) // folds to 1
	assert.True(t, p1.Equal(p2))
}

func TestPath_IsCanonical(t *testing.T) {
	assert.True(t, Root.IsCanonical())
	assert.True(t, NewPath(Element{Name: NewQName("", "a")}, Element{Name: NewQName("", "b")}).IsCanonical())
	assert.False(t, NewPath(Element{Name: NewQName("", "..")}).IsCanonical())
	assert.False(t, NewPath(Element{Name: NewQName("", "a")}, Element{Name: NewQName("", ".")}).IsCanonical())
	// A namespaced local part of "." is an ordinary name, not a self
	// reference — only the unnamespaced sentinel is special.
	assert.True(t, NewPath(Element{Name: NewQName("urn:x", ".")}).IsCanonical())
}
