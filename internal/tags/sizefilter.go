package tags

import (
	"strconv"
	"strings"

	"github.com/ferro-labs/llm-router/models"
	"github.com/ferro-labs/llm-router/providers"
)

// Field selects which numeric field of a ModelInfo a size filter compares.
type Field int

const (
	FieldParams Field = iota
	FieldContextIn
	FieldContextOut
)

// Op is a comparison operator in a size filter or parameter predicate.
type Op string

const (
	OpGT Op = ">"
	OpLT Op = "<"
	OpGE Op = ">="
	OpLE Op = "<="
	OpEQ Op = "="
)

// SizeFilter is a parsed `<op><number><unit>` predicate from a tag query,
// e.g. ">20b" (params over 20 billion) or "<8ko" (output context under 8k).
// Threshold is held in base units: absolute parameter count or raw tokens.
type SizeFilter struct {
	Op        Op
	Threshold float64
	Field     Field
}

// unit suffixes ordered longest-first so "mi" wins over "m".
var unitTable = []struct {
	suffix string
	field  Field
	scale  float64
}{
	{"ki", FieldContextIn, 1e3},
	{"mi", FieldContextIn, 1e6},
	{"ko", FieldContextOut, 1e3},
	{"mo", FieldContextOut, 1e6},
	{"i", FieldContextIn, 1e3},
	{"o", FieldContextOut, 1e3},
	{"b", FieldParams, 1e9},
	{"m", FieldParams, 1e6},
	{"k", FieldParams, 1e3},
}

// ParseSizeFilter parses a size-filter term. ok is false when the term does
// not match the grammar at all; err is non-nil when it matches the shape but
// carries an unparsable number or unit.
func ParseSizeFilter(term string) (SizeFilter, bool, error) {
	term = strings.ToLower(strings.TrimSpace(term))
	op, rest := splitOp(term)
	if op == "" {
		return SizeFilter{}, false, nil
	}
	for _, u := range unitTable {
		num, found := strings.CutSuffix(rest, u.suffix)
		if !found || num == "" {
			continue
		}
		v, err := strconv.ParseFloat(num, 64)
		if err != nil {
			return SizeFilter{}, true, providers.NewRouteError(
				providers.KindParameterComparisonFailed, "bad size filter number in %q", term)
		}
		return SizeFilter{Op: op, Threshold: v * u.scale, Field: u.field}, true, nil
	}
	return SizeFilter{}, true, providers.NewRouteError(
		providers.KindParameterComparisonFailed, "unknown size filter unit in %q", term)
}

// IsSizeFilter reports whether a tag-query term looks like a size filter
// rather than a plain tag.
func IsSizeFilter(term string) bool {
	op, _ := splitOp(strings.TrimSpace(term))
	return op != ""
}

func splitOp(s string) (Op, string) {
	switch {
	case strings.HasPrefix(s, ">="):
		return OpGE, s[2:]
	case strings.HasPrefix(s, "<="):
		return OpLE, s[2:]
	case strings.HasPrefix(s, ">"):
		return OpGT, s[1:]
	case strings.HasPrefix(s, "<"):
		return OpLT, s[1:]
	case strings.HasPrefix(s, "="):
		return OpEQ, s[1:]
	}
	return "", s
}

// Match applies the filter to a resolved ModelInfo. A missing numeric field
// fails the filter.
func (f SizeFilter) Match(info models.ModelInfo) bool {
	var v float64
	switch f.Field {
	case FieldParams:
		v = float64(info.Specs.Parameters)
	case FieldContextIn:
		v = float64(info.Specs.ContextLength)
	case FieldContextOut:
		v = float64(info.Specs.MaxOutputTokens)
	}
	if v <= 0 {
		return false
	}
	return f.Op.holds(v, f.Threshold)
}

func (o Op) holds(v, threshold float64) bool {
	switch o {
	case OpGT:
		return v > threshold
	case OpLT:
		return v < threshold
	case OpGE:
		return v >= threshold
	case OpLE:
		return v <= threshold
	case OpEQ:
		return v == threshold
	}
	return false
}

// ParamPredicate is the parsed form of a parameter-size virtual model like
// "qwen3-<8b": match models whose id starts with Prefix and whose parameter
// count satisfies Op against Threshold (absolute count).
type ParamPredicate struct {
	Prefix    string
	Op        Op
	Threshold float64
}

// paramUnits for the predicate path; g is an alias for b, t is trillions.
var paramUnits = map[byte]float64{'k': 1e3, 'm': 1e6, 'b': 1e9, 'g': 1e9, 't': 1e12}

// ParseParamPredicate parses "prefix-<op>Nunit" shapes. ok is false when m
// carries no comparison operator; err reports a malformed number or unit on a
// string that does carry one.
func ParseParamPredicate(m string) (ParamPredicate, bool, error) {
	lower := strings.ToLower(strings.TrimSpace(m))
	i := strings.IndexAny(lower, "<>=")
	if i < 0 {
		return ParamPredicate{}, false, nil
	}
	prefix := strings.TrimRight(lower[:i], "-_/")
	op, rest := splitOp(lower[i:])
	if prefix == "" || rest == "" {
		return ParamPredicate{}, true, providers.NewRouteError(
			providers.KindParameterComparisonFailed, "malformed parameter predicate %q", m)
	}
	scale, ok := paramUnits[rest[len(rest)-1]]
	if !ok {
		return ParamPredicate{}, true, providers.NewRouteError(
			providers.KindParameterComparisonFailed, "unknown parameter unit in %q", m)
	}
	v, err := strconv.ParseFloat(rest[:len(rest)-1], 64)
	if err != nil {
		return ParamPredicate{}, true, providers.NewRouteError(
			providers.KindParameterComparisonFailed, "bad parameter number in %q", m)
	}
	return ParamPredicate{Prefix: prefix, Op: op, Threshold: v * scale}, true, nil
}

// MatchesPrefix reports whether a physical model id starts with the predicate
// prefix, tolerating -/_// delimiter differences and vendor path prefixes.
func (p ParamPredicate) MatchesPrefix(modelID string) bool {
	want := normalizeDelims(p.Prefix)
	id := normalizeDelims(strings.ToLower(modelID))
	if prefixAtBoundary(id, want) {
		return true
	}
	// Vendor-scoped ids like qwen/qwen3-4b match on the last path segment.
	if j := strings.LastIndex(strings.ToLower(modelID), "/"); j >= 0 {
		return prefixAtBoundary(normalizeDelims(strings.ToLower(modelID[j+1:])), want)
	}
	return false
}

func normalizeDelims(s string) string {
	return strings.NewReplacer("_", "-", "/", "-").Replace(s)
}

func prefixAtBoundary(id, prefix string) bool {
	if !strings.HasPrefix(id, prefix) {
		return false
	}
	if len(id) == len(prefix) {
		return true
	}
	next := id[len(prefix)]
	return next == '-' || next == '.'
}
