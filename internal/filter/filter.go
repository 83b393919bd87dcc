// Package filter decides whether a record is forwarded or dropped.
//
// A RuleSet is a list of rules. A record passes when at least one rule
// matches; a rule matches when every one of its field constraints matches;
// a constraint matches when the field exists and its value is a member of
// the allowed set. Rules are compiled from nested patterns such as
//
//	{"body": {"customerType": ["B2B", "B2C"]}}
//
// Compilation is the only place errors are reported. Evaluation is pure
// and never fails.
package filter

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/tarungka/pipes/internal/fieldpath"
	"github.com/tarungka/pipes/internal/models"
)

var (
	ErrEmptyPattern = errors.New("filter pattern has no field constraints")
	ErrEmptyAllowed = errors.New("filter constraint allows no values")
)

// Constraint requires the value at Path to match one of the allowed
// matchers.
type Constraint struct {
	Path    fieldpath.Path
	allowed []matcher
}

// Rule is an AND over its constraints.
type Rule struct {
	Constraints []Constraint
}

// RuleSet is an OR over its rules. The zero value forwards everything.
type RuleSet struct {
	Rules []Rule
}

type matcher struct {
	exact  any
	prefix string
	isPfx  bool
}

// Compile turns nested patterns into a RuleSet. Leaves must be non-empty
// arrays of scalars or {"prefix": "..."} objects.
func Compile(patterns []map[string]any) (RuleSet, error) {
	var rs RuleSet
	for i, p := range patterns {
		rule, err := compileRule(p)
		if err != nil {
			return RuleSet{}, fmt.Errorf("filter pattern %d: %w", i, err)
		}
		rs.Rules = append(rs.Rules, rule)
	}
	return rs, nil
}

func compileRule(pattern map[string]any) (Rule, error) {
	var rule Rule
	if err := walk(pattern, nil, &rule); err != nil {
		return Rule{}, err
	}
	if len(rule.Constraints) == 0 {
		return Rule{}, ErrEmptyPattern
	}
	// Stable order keeps evaluation and error messages deterministic.
	sort.Slice(rule.Constraints, func(i, j int) bool {
		return rule.Constraints[i].Path.String() < rule.Constraints[j].Path.String()
	})
	return rule, nil
}

func walk(node map[string]any, prefix []string, rule *Rule) error {
	for key, val := range node {
		if key == "" {
			return fmt.Errorf("empty key under %q", strings.Join(prefix, "."))
		}
		path := append(append([]string(nil), prefix...), key)
		switch v := val.(type) {
		case map[string]any:
			if err := walk(v, path, rule); err != nil {
				return err
			}
		case []any:
			c, err := compileLeaf(fieldpath.Join(path...), v)
			if err != nil {
				return err
			}
			rule.Constraints = append(rule.Constraints, c)
		case []string:
			items := make([]any, len(v))
			for i := range v {
				items[i] = v[i]
			}
			c, err := compileLeaf(fieldpath.Join(path...), items)
			if err != nil {
				return err
			}
			rule.Constraints = append(rule.Constraints, c)
		default:
			return fmt.Errorf("field %q: expected an array of allowed values, got %T", strings.Join(path, "."), val)
		}
	}
	return nil
}

func compileLeaf(path fieldpath.Path, items []any) (Constraint, error) {
	if len(items) == 0 {
		return Constraint{}, fmt.Errorf("field %q: %w", path, ErrEmptyAllowed)
	}
	c := Constraint{Path: path}
	for _, item := range items {
		switch v := item.(type) {
		case map[string]any:
			pfx, ok := v["prefix"].(string)
			if !ok || len(v) != 1 {
				return Constraint{}, fmt.Errorf("field %q: only {\"prefix\": string} objects are supported", path)
			}
			c.allowed = append(c.allowed, matcher{prefix: pfx, isPfx: true})
		case []any:
			return Constraint{}, fmt.Errorf("field %q: nested arrays are not allowed", path)
		default:
			n, ok := normalize(v)
			if !ok {
				return Constraint{}, fmt.Errorf("field %q: unsupported value type %T", path, v)
			}
			c.allowed = append(c.allowed, matcher{exact: n})
		}
	}
	return c, nil
}

// normalize maps config scalars onto the types encoding/json produces.
func normalize(v any) (any, bool) {
	switch t := v.(type) {
	case nil, string, bool, float64:
		return t, true
	case int:
		return float64(t), true
	case int64:
		return float64(t), true
	case int32:
		return float64(t), true
	case uint64:
		return float64(t), true
	case float32:
		return float64(t), true
	default:
		return nil, false
	}
}

func (m matcher) match(v any) bool {
	if m.isPfx {
		s, ok := v.(string)
		return ok && strings.HasPrefix(s, m.prefix)
	}
	return m.exact == v
}

// Matches reports whether the value at the constraint path is allowed.
// Array values match when any element is allowed.
func (c Constraint) Matches(doc any) bool {
	v, ok := c.Path.Lookup(doc)
	if !ok {
		return false
	}
	if arr, isArr := v.([]any); isArr {
		for _, el := range arr {
			if c.matchScalar(el) {
				return true
			}
		}
		return false
	}
	return c.matchScalar(v)
}

func (c Constraint) matchScalar(v any) bool {
	for _, m := range c.allowed {
		if m.match(v) {
			return true
		}
	}
	return false
}

func (r Rule) Matches(doc any) bool {
	for _, c := range r.Constraints {
		if !c.Matches(doc) {
			return false
		}
	}
	return true
}

// Empty is true when no rules are configured, which forwards everything.
func (rs RuleSet) Empty() bool { return len(rs.Rules) == 0 }

// Evaluate is the forward/drop decision for one record.
func Evaluate(record models.Record, rs RuleSet) bool {
	if rs.Empty() {
		return true
	}
	view := record.View()
	for _, rule := range rs.Rules {
		if rule.Matches(view) {
			return true
		}
	}
	return false
}

// Apply splits a batch into forwarded records, in their original order, and
// the number dropped.
func Apply(batch models.Batch, rs RuleSet) (models.Batch, int) {
	if rs.Empty() {
		return batch, 0
	}
	kept := make([]models.Record, 0, len(batch.Records))
	for _, r := range batch.Records {
		if Evaluate(r, rs) {
			kept = append(kept, r)
		}
	}
	return batch.Subset(kept), len(batch.Records) - len(kept)
}
