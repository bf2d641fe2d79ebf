// Package name provides the pure value types that sit below everything
// else in the content engine: qualified names, namespace remapping, and
// canonical paths with same-name-sibling indices.
package name

import (
	"fmt"
	"strings"
)

// QName is a qualified name: a namespace URI paired with a local part.
// Equality is by value, matching spec.md's "equality is by pair".
//
// A QName with an empty Namespace is valid — it denotes a name in the
// default (no-namespace) mapping, e.g. jcr:root's children at the
// repository boundary.
type QName struct {
	Namespace string
	Local     string
}

// NewQName builds a QName from its two components.
func NewQName(namespace, local string) QName {
	return QName{Namespace: namespace, Local: local}
}

// String renders a debug form "{namespace}local", not a prefixed JCR
// name — prefix resolution requires a NamespaceRegistry, see Resolver.
func (q QName) String() string {
	if q.Namespace == "" {
		return q.Local
	}
	return fmt.Sprintf("{%s}%s", q.Namespace, q.Local)
}

// IsZero reports whether q is the zero QName.
func (q QName) IsZero() bool {
	return q.Namespace == "" && q.Local == ""
}

// Resolver turns prefixed JCR name text ("prefix:local") into a QName and
// back, using a NamespaceRegistry for the prefix<->URI mapping.
type Resolver struct {
	registry *NamespaceRegistry
}

// NewResolver builds a Resolver bound to a registry.
func NewResolver(registry *NamespaceRegistry) *Resolver {
	return &Resolver{registry: registry}
}

// Parse turns "prefix:local" (or bare "local" for the default namespace)
// into a QName, resolving prefix via the bound registry.
func (r *Resolver) Parse(text string) (QName, error) {
	prefix, local, found := strings.Cut(text, ":")
	if !found {
		return QName{Local: prefix}, nil
	}
	uri, ok := r.registry.URI(prefix)
	if !ok {
		return QName{}, fmt.Errorf("%w: %q", ErrUnknownPrefix, prefix)
	}
	if local == "" {
		return QName{}, fmt.Errorf("%w: %q", ErrInvalidName, text)
	}
	return QName{Namespace: uri, Local: local}, nil
}

// Format renders a QName back to prefixed text using the bound registry.
// Falls back to the raw local name if the namespace has no mapped prefix.
func (r *Resolver) Format(q QName) string {
	if q.Namespace == "" {
		return q.Local
	}
	if prefix, ok := r.registry.Prefix(q.Namespace); ok {
		return prefix + ":" + q.Local
	}
	return q.Local
}
