package core

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/dlclark/regexp2"
	"github.com/xeipuuv/gojsonschema"
)

// Predicate is a node in a parsed condition document. Evaluation is
// deterministic and side-effect-free.
type Predicate interface {
	// Eval reports whether the record satisfies the predicate. Absent
	// optional fields never satisfy leaf predicates.
	Eval(r *LogRecord) bool
}

// Comparison operators accepted in condition leaves.
const (
	OpEqual        = "eq"
	OpNotEqual     = "ne"
	OpGreater      = "gt"
	OpGreaterEqual = "gte"
	OpLess         = "lt"
	OpLessEqual    = "lte"
	OpIn           = "in"
	OpMatch        = "match"
)

// regex evaluation is bounded so a pathological pattern in a rule cannot
// stall the pipeline
const regexMatchTimeout = 100 * time.Millisecond

// conditionSchema validates the shape of a condition document before the
// recursive parse. Keeping validation separate from parsing gives rule
// authors a precise error instead of a parser failure deep in the tree.
const conditionSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "definitions": {
    "node": {
      "type": "object",
      "oneOf": [
        {
          "required": ["field", "op"],
          "properties": {
            "field": {"type": "string", "minLength": 1},
            "op": {"enum": ["eq", "ne", "gt", "gte", "lt", "lte", "in", "match"]},
            "value": {}
          },
          "additionalProperties": false
        },
        {
          "required": ["and"],
          "properties": {"and": {"type": "array", "minItems": 1, "items": {"$ref": "#/definitions/node"}}},
          "additionalProperties": false
        },
        {
          "required": ["or"],
          "properties": {"or": {"type": "array", "minItems": 1, "items": {"$ref": "#/definitions/node"}}},
          "additionalProperties": false
        },
        {
          "required": ["not"],
          "properties": {"not": {"$ref": "#/definitions/node"}},
          "additionalProperties": false
        }
      ]
    }
  },
  "$ref": "#/definitions/node"
}`

var compiledConditionSchema = gojsonschema.NewStringLoader(conditionSchema)

// ParseCondition validates and compiles a condition document into a
// predicate tree. A nil or malformed document yields a RuleConfigError; the
// evaluator skips such rules without affecting others.
func ParseCondition(ruleID string, doc map[string]interface{}) (Predicate, error) {
	if len(doc) == 0 {
		return nil, &RuleConfigError{RuleID: ruleID, Reason: "empty condition document"}
	}

	raw, err := json.Marshal(doc)
	if err != nil {
		return nil, &RuleConfigError{RuleID: ruleID, Reason: "condition is not serializable", Err: err}
	}

	result, err := gojsonschema.Validate(compiledConditionSchema, gojsonschema.NewBytesLoader(raw))
	if err != nil {
		return nil, &RuleConfigError{RuleID: ruleID, Reason: "schema validation failed", Err: err}
	}
	if !result.Valid() {
		reasons := make([]string, 0, len(result.Errors()))
		for _, desc := range result.Errors() {
			reasons = append(reasons, desc.String())
		}
		return nil, &RuleConfigError{RuleID: ruleID, Reason: strings.Join(reasons, "; ")}
	}

	pred, err := parseNode(doc)
	if err != nil {
		return nil, &RuleConfigError{RuleID: ruleID, Reason: err.Error()}
	}
	return pred, nil
}

func parseNode(node map[string]interface{}) (Predicate, error) {
	if raw, ok := node["and"]; ok {
		children, err := parseChildren(raw)
		if err != nil {
			return nil, fmt.Errorf("and: %w", err)
		}
		return &AndPredicate{Children: children}, nil
	}
	if raw, ok := node["or"]; ok {
		children, err := parseChildren(raw)
		if err != nil {
			return nil, fmt.Errorf("or: %w", err)
		}
		return &OrPredicate{Children: children}, nil
	}
	if raw, ok := node["not"]; ok {
		child, ok := raw.(map[string]interface{})
		if !ok {
			return nil, fmt.Errorf("not: child must be an object")
		}
		pred, err := parseNode(child)
		if err != nil {
			return nil, fmt.Errorf("not: %w", err)
		}
		return &NotPredicate{Child: pred}, nil
	}
	return parseLeaf(node)
}

func parseChildren(raw interface{}) ([]Predicate, error) {
	items, ok := raw.([]interface{})
	if !ok {
		return nil, fmt.Errorf("children must be an array")
	}
	children := make([]Predicate, 0, len(items))
	for i, item := range items {
		node, ok := item.(map[string]interface{})
		if !ok {
			return nil, fmt.Errorf("child %d must be an object", i)
		}
		pred, err := parseNode(node)
		if err != nil {
			return nil, err
		}
		children = append(children, pred)
	}
	return children, nil
}

func parseLeaf(node map[string]interface{}) (Predicate, error) {
	field, _ := node["field"].(string)
	op, _ := node["op"].(string)
	value := node["value"]

	switch op {
	case OpEqual, OpNotEqual:
		return &EqualityPredicate{Field: field, Value: value, Negate: op == OpNotEqual}, nil
	case OpGreater, OpGreaterEqual, OpLess, OpLessEqual:
		num, ok := toFloat(value)
		if !ok {
			return nil, fmt.Errorf("field %q: operator %q requires a numeric value", field, op)
		}
		return &ComparisonPredicate{Field: field, Op: op, Value: num}, nil
	case OpIn:
		items, ok := value.([]interface{})
		if !ok || len(items) == 0 {
			return nil, fmt.Errorf("field %q: operator in requires a non-empty array", field)
		}
		members := make(map[string]struct{}, len(items))
		for _, item := range items {
			members[stringify(item)] = struct{}{}
		}
		return &SetMembershipPredicate{Field: field, Members: members}, nil
	case OpMatch:
		pattern, ok := value.(string)
		if !ok || pattern == "" {
			return nil, fmt.Errorf("field %q: operator match requires a pattern string", field)
		}
		re, err := regexp2.Compile(pattern, regexp2.None)
		if err != nil {
			return nil, fmt.Errorf("field %q: invalid pattern: %w", field, err)
		}
		re.MatchTimeout = regexMatchTimeout
		return &TextMatchPredicate{Field: field, Pattern: pattern, re: re}, nil
	default:
		return nil, fmt.Errorf("unknown operator %q", op)
	}
}

// EqualityPredicate matches when the field equals (or, negated, does not
// equal) the configured value. Values are compared as strings after
// normalization so JSON numbers and typed fields compare predictably.
type EqualityPredicate struct {
	Field  string
	Value  interface{}
	Negate bool
}

func (p *EqualityPredicate) Eval(r *LogRecord) bool {
	actual, present := r.Field(p.Field)
	if !present {
		// Absent fields are non-matching, even for "ne".
		return false
	}
	equal := stringify(actual) == stringify(p.Value)
	if p.Negate {
		return !equal
	}
	return equal
}

// ComparisonPredicate matches numeric fields against a threshold.
type ComparisonPredicate struct {
	Field string
	Op    string
	Value float64
}

func (p *ComparisonPredicate) Eval(r *LogRecord) bool {
	actual, present := r.Field(p.Field)
	if !present {
		return false
	}
	num, ok := toFloat(actual)
	if !ok {
		return false
	}
	switch p.Op {
	case OpGreater:
		return num > p.Value
	case OpGreaterEqual:
		return num >= p.Value
	case OpLess:
		return num < p.Value
	case OpLessEqual:
		return num <= p.Value
	}
	return false
}

// SetMembershipPredicate matches when the field value is one of the members.
type SetMembershipPredicate struct {
	Field   string
	Members map[string]struct{}
}

func (p *SetMembershipPredicate) Eval(r *LogRecord) bool {
	actual, present := r.Field(p.Field)
	if !present {
		return false
	}
	_, ok := p.Members[stringify(actual)]
	return ok
}

// TextMatchPredicate matches a field against a compiled regular expression.
type TextMatchPredicate struct {
	Field   string
	Pattern string
	re      *regexp2.Regexp
}

func (p *TextMatchPredicate) Eval(r *LogRecord) bool {
	actual, present := r.Field(p.Field)
	if !present {
		return false
	}
	matched, err := p.re.MatchString(stringify(actual))
	if err != nil {
		// Timeout or engine error counts as no match, never a crash.
		return false
	}
	return matched
}

// AndPredicate matches when all children match.
type AndPredicate struct {
	Children []Predicate
}

func (p *AndPredicate) Eval(r *LogRecord) bool {
	for _, child := range p.Children {
		if !child.Eval(r) {
			return false
		}
	}
	return true
}

// OrPredicate matches when any child matches.
type OrPredicate struct {
	Children []Predicate
}

func (p *OrPredicate) Eval(r *LogRecord) bool {
	for _, child := range p.Children {
		if child.Eval(r) {
			return true
		}
	}
	return false
}

// NotPredicate inverts its child.
type NotPredicate struct {
	Child Predicate
}

func (p *NotPredicate) Eval(r *LogRecord) bool {
	return !p.Child.Eval(r)
}

func toFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}

func stringify(v interface{}) string {
	switch s := v.(type) {
	case string:
		return s
	case nil:
		return ""
	case float64:
		// Render integral floats without the trailing ".0" JSON gives them.
		if s == float64(int64(s)) {
			return fmt.Sprintf("%d", int64(s))
		}
		return fmt.Sprintf("%g", s)
	default:
		return fmt.Sprintf("%v", v)
	}
}
