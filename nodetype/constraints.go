package nodetype

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/orneryd/contentengine/contenterr"
	"github.com/orneryd/contentengine/itemstate"
	"github.com/orneryd/contentengine/name"
)

// checkValueConstraints implements spec.md §4.4's "the value array must
// satisfy the definition's value constraints": a value is valid if it
// satisfies at least one declared constraint (constraints are ORed), a
// property with no declared constraints is unconstrained, and an
// unparseable constraint string never silently passes a value it
// can't actually check.
func checkValueConstraints(propName name.QName, def PropertyDef, values []itemstate.Value) error {
	if len(def.ValueConstraints) == 0 {
		return nil
	}
	for _, v := range values {
		if !valueSatisfiesAny(def.RequiredType, v, def.ValueConstraints) {
			return fmt.Errorf("%w: value %v for property %s satisfies none of %v", contenterr.ErrConstraintViolation, v.Raw, propName, def.ValueConstraints)
		}
	}
	return nil
}

func valueSatisfiesAny(t itemstate.ValueType, v itemstate.Value, constraints []string) bool {
	for _, c := range constraints {
		if valueSatisfies(t, v, c) {
			return true
		}
	}
	return false
}

func valueSatisfies(t itemstate.ValueType, v itemstate.Value, constraint string) bool {
	switch t {
	case itemstate.TypeLong:
		n, ok := toFloat(v.Raw)
		return ok && numberInInterval(n, constraint)
	case itemstate.TypeDouble:
		n, ok := toFloat(v.Raw)
		return ok && numberInInterval(n, constraint)
	case itemstate.TypeDate:
		ts, ok := v.Raw.(time.Time)
		if !ok {
			return false
		}
		return dateInInterval(ts, constraint)
	case itemstate.TypeBoolean:
		b, ok := v.Raw.(bool)
		return ok && strconv.FormatBool(b) == constraint
	default:
		s := fmt.Sprintf("%v", v.Raw)
		re, err := regexp.Compile(constraint)
		if err != nil {
			return false
		}
		return re.MatchString(s)
	}
}

func toFloat(raw any) (float64, bool) {
	switch n := raw.(type) {
	case int64:
		return float64(n), true
	case int:
		return float64(n), true
	case float64:
		return n, true
	default:
		return 0, false
	}
}

// numberInInterval parses JCR-style interval notation: "[min,max]" is
// inclusive on the bound, "(min,max)" exclusive, and either bound may
// be blank for unbounded, e.g. "[0,)".
func numberInInterval(n float64, constraint string) bool {
	lowInc, hi, hiInc, lo, ok := parseInterval(constraint)
	if !ok {
		return false
	}
	if lo != "" {
		loVal, err := strconv.ParseFloat(lo, 64)
		if err != nil {
			return false
		}
		if lowInc && n < loVal || !lowInc && n <= loVal {
			return false
		}
	}
	if hi != "" {
		hiVal, err := strconv.ParseFloat(hi, 64)
		if err != nil {
			return false
		}
		if hiInc && n > hiVal || !hiInc && n >= hiVal {
			return false
		}
	}
	return true
}

func dateInInterval(ts time.Time, constraint string) bool {
	lowInc, hi, hiInc, lo, ok := parseInterval(constraint)
	if !ok {
		return false
	}
	if lo != "" {
		loVal, err := time.Parse(time.RFC3339, lo)
		if err != nil {
			return false
		}
		if lowInc && ts.Before(loVal) || !lowInc && !ts.After(loVal) {
			return false
		}
	}
	if hi != "" {
		hiVal, err := time.Parse(time.RFC3339, hi)
		if err != nil {
			return false
		}
		if hiInc && ts.After(hiVal) || !hiInc && !ts.Before(hiVal) {
			return false
		}
	}
	return true
}

// parseInterval splits "[lo,hi]"/"(lo,hi)" (and mixed bracket styles)
// into (lowerInclusive, upper, upperInclusive, lower, ok).
func parseInterval(constraint string) (lowerInclusive bool, upper string, upperInclusive bool, lower string, ok bool) {
	if len(constraint) < 3 {
		return false, "", false, "", false
	}
	open := constraint[0]
	closeCh := constraint[len(constraint)-1]
	if (open != '[' && open != '(') || (closeCh != ']' && closeCh != ')') {
		return false, "", false, "", false
	}
	body := constraint[1 : len(constraint)-1]
	parts := strings.SplitN(body, ",", 2)
	if len(parts) != 2 {
		return false, "", false, "", false
	}
	return open == '[', strings.TrimSpace(parts[1]), closeCh == ']', strings.TrimSpace(parts[0]), true
}
