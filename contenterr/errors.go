// Package contenterr implements the error taxonomy from spec.md §7:
// six kinds of failure (Validation, Lookup, State, Authorization,
// Capability, Transport), each a small set of sentinel errors that
// compose with errors.Is/errors.As the way the teacher's storage
// package declares ErrNotFound, ErrAlreadyExists, etc.
// (pkg/storage/types.go).
package contenterr

import (
	"errors"
	"fmt"
)

// Kind classifies a sentinel error into one of spec.md §7's six
// taxonomy buckets.
type Kind int

const (
	KindUnknown Kind = iota
	KindValidation
	KindLookup
	KindState
	KindAuthorization
	KindCapability
	KindTransport
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "ValidationError"
	case KindLookup:
		return "LookupError"
	case KindState:
		return "StateError"
	case KindAuthorization:
		return "AuthorizationError"
	case KindCapability:
		return "CapabilityError"
	case KindTransport:
		return "TransportError"
	default:
		return "UnknownError"
	}
}

// ValidationError sentinels.
var (
	ErrConstraintViolation = errors.New("constraint violation")
	ErrNodeTypeConflict    = errors.New("node type conflict")
	ErrInvalidPath         = errors.New("invalid path")
	ErrInvalidName         = errors.New("invalid name")
	ErrInvalidValue        = errors.New("invalid value")
)

// LookupError sentinels.
var (
	ErrPathNotFound   = errors.New("path not found")
	ErrItemNotFound   = errors.New("item not found")
	ErrNoSuchWorkspace = errors.New("no such workspace")
	ErrNoSuchNodeType = errors.New("no such node type")
	ErrUnknownPrefix  = errors.New("unknown namespace prefix")
	ErrNamespaceError = errors.New("namespace error")
)

// StateError sentinels.
var (
	ErrStale            = errors.New("stale item state")
	ErrInvalidItemState = errors.New("invalid item state")
	ErrItemExists       = errors.New("item already exists")
	ErrVersionConflict  = errors.New("version conflict")
	ErrMerge            = errors.New("merge conflict")
)

// AuthorizationError sentinels.
var (
	ErrAccessDenied = errors.New("access denied")
	ErrLocked       = errors.New("locked")
)

// CapabilityError sentinels.
var (
	ErrNotSupportedOption = errors.New("option not supported")
	ErrNotImplemented     = errors.New("not implemented")
)

// TransportError sentinel; wrap concrete causes with
// fmt.Errorf("%w: %v", ErrRepository, cause).
var ErrRepository = errors.New("repository error")

var kindOf = map[error]Kind{
	ErrConstraintViolation: KindValidation,
	ErrNodeTypeConflict:    KindValidation,
	ErrInvalidPath:         KindValidation,
	ErrInvalidName:         KindValidation,
	ErrInvalidValue:        KindValidation,

	ErrPathNotFound:    KindLookup,
	ErrItemNotFound:    KindLookup,
	ErrNoSuchWorkspace: KindLookup,
	ErrNoSuchNodeType:  KindLookup,
	ErrUnknownPrefix:   KindLookup,
	ErrNamespaceError:  KindLookup,

	ErrStale:            KindState,
	ErrInvalidItemState: KindState,
	ErrItemExists:       KindState,
	ErrVersionConflict:  KindState,
	ErrMerge:            KindState,

	ErrAccessDenied: KindAuthorization,
	ErrLocked:       KindAuthorization,

	ErrNotSupportedOption: KindCapability,
	ErrNotImplemented:     KindCapability,

	ErrRepository: KindTransport,
}

// ClassifyErr walks err's chain and returns the Kind of the first
// taxonomy sentinel it matches, or KindUnknown if none match.
func ClassifyErr(err error) Kind {
	for sentinel, kind := range kindOf {
		if errors.Is(err, sentinel) {
			return kind
		}
	}
	return KindUnknown
}

// Wrap attaches a message to a taxonomy sentinel while preserving
// errors.Is matching against it, e.g. Wrap(ErrPathNotFound, "/a/b").
func Wrap(sentinel error, detail string) error {
	return fmt.Errorf("%w: %s", sentinel, detail)
}

// IsNotFound reports whether err represents a lookup miss — the
// PathNotFound/ItemNotFound cases that §7's propagation policy says
// callers like itemExists/hasNode silently convert to false.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrPathNotFound) || errors.Is(err, ErrItemNotFound)
}
