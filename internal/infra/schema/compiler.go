package schema

import (
	"fmt"

	"github.com/xeipuuv/gojsonschema"
	"go.uber.org/zap"

	"falforge/internal/domain"
)

// Compiler converts resolved schemas into Validators. Compilation never
// fails: constructs the compiler cannot represent degrade to a permissive
// validator and are reported through Validator.Diagnostics.
type Compiler struct {
	logger *zap.Logger
}

func NewCompiler(logger *zap.Logger) *Compiler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Compiler{logger: logger.Named("schema")}
}

// Validator validates tool-call arguments against a compiled schema and
// applies top-level property defaults. The normalized schema it carries is
// the one advertised to agents.
type Validator struct {
	name     string
	schema   map[string]any
	compiled *gojsonschema.Schema
	defaults map[string]any
	diags    []string
}

var _ domain.InputValidator = (*Validator)(nil)

// Compile builds a Validator for the named tool from a resolved schema.
// The input must already be free of $ref nodes (see Resolver).
func (c *Compiler) Compile(name string, resolved any) *Validator {
	norm := &normalizer{}
	schemaMap := norm.normalize(resolved, "$")

	v := &Validator{
		name:     name,
		schema:   schemaMap,
		defaults: topLevelDefaults(schemaMap),
		diags:    norm.diags,
	}

	compiled, err := gojsonschema.NewSchema(gojsonschema.NewGoLoader(schemaMap))
	if err != nil {
		v.diags = append(v.diags, fmt.Sprintf("$: compile rejected normalized schema (%v); accepting anything", err))
		v.schema = permissiveSchema()
		compiled, err = gojsonschema.NewSchema(gojsonschema.NewGoLoader(v.schema))
		if err != nil {
			// Unreachable for the permissive schema; validate without one.
			compiled = nil
		}
	}
	v.compiled = compiled

	for _, diag := range v.diags {
		c.logger.Warn("schema degraded during compilation",
			zap.String("tool", name),
			zap.String("diagnostic", diag))
	}
	return v
}

// Validate checks input against the compiled schema. Missing top-level
// properties that declare defaults are filled in on a copy of the input;
// the merged map is returned on success. Failures produce a
// *domain.ValidationError listing every rejected field.
func (v *Validator) Validate(input map[string]any) (map[string]any, error) {
	merged := make(map[string]any, len(input)+len(v.defaults))
	for key, value := range input {
		merged[key] = value
	}
	for key, value := range v.defaults {
		if _, present := merged[key]; !present {
			merged[key] = value
		}
	}
	if v.compiled == nil {
		return merged, nil
	}

	result, err := v.compiled.Validate(gojsonschema.NewGoLoader(merged))
	if err != nil {
		return nil, domain.E(domain.CodeInternal, "schema.validate", "", err)
	}
	if !result.Valid() {
		verr := &domain.ValidationError{ToolName: v.name}
		for _, re := range result.Errors() {
			verr.Violations = append(verr.Violations, domain.FieldViolation{
				Field:  re.Field(),
				Reason: re.Description(),
			})
		}
		return nil, verr
	}
	return merged, nil
}

// Schema returns the normalized schema advertised to agents.
func (v *Validator) Schema() map[string]any {
	return v.schema
}

// Diagnostics lists the structural ambiguities encountered while
// compiling, one entry per degraded node.
func (v *Validator) Diagnostics() []string {
	return v.diags
}

func permissiveSchema() map[string]any {
	return map[string]any{
		"type":                 "object",
		"additionalProperties": true,
	}
}

// topLevelDefaults harvests defaults declared on the schema's immediate
// properties. These are injected at validation time; deeper defaults stay
// visible in the advertised schema for the agent to apply.
func topLevelDefaults(schemaMap map[string]any) map[string]any {
	props, ok := schemaMap["properties"].(map[string]any)
	if !ok {
		return nil
	}
	defaults := make(map[string]any)
	for name, raw := range props {
		prop, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		if value, has := prop["default"]; has {
			defaults[name] = value
		}
	}
	if len(defaults) == 0 {
		return nil
	}
	return defaults
}

// normalizer walks a resolved schema and rewrites it into the subset the
// validator engine is given, collecting a diagnostic per degraded node.
type normalizer struct {
	diags []string
}

func (n *normalizer) note(path, msg string) {
	n.diags = append(n.diags, fmt.Sprintf("%s: %s", path, msg))
}

func (n *normalizer) normalize(node any, path string) map[string]any {
	m, ok := node.(map[string]any)
	if !ok {
		if node != nil {
			n.note(path, "schema node is not an object; accepting anything")
		}
		return permissiveSchema()
	}

	if branches, ok := schemaList(m["allOf"]); ok {
		return n.normalizeAllOf(m, branches, path)
	}
	if branches, ok := schemaList(m["anyOf"]); ok {
		return n.normalizeUnion(m, "anyOf", branches, path)
	}
	if branches, ok := schemaList(m["oneOf"]); ok {
		return n.normalizeUnion(m, "oneOf", branches, path)
	}

	typ, _ := m["type"].(string)
	switch typ {
	case "string":
		return n.normalizeString(m)
	case "number", "integer":
		out := carry(m, "type", "description", "default", "minimum", "maximum")
		return out
	case "boolean":
		return carry(m, "type", "description", "default")
	case "array":
		out := carry(m, "type", "description", "default", "minItems", "maxItems")
		if items, has := m["items"]; has {
			out["items"] = n.normalize(items, path+".items")
		}
		return out
	case "object":
		return n.normalizeObject(m, path)
	case "":
		if _, hasProps := m["properties"]; hasProps {
			out := n.normalizeObject(m, path)
			out["type"] = "object"
			return out
		}
		if _, hasEnum := m["enum"]; hasEnum {
			return carry(m, "enum", "description", "default")
		}
		n.note(path, "no type and no combinator; accepting anything")
		return withDescription(m, permissiveSchema())
	default:
		n.note(path, fmt.Sprintf("unrecognized type %q; accepting anything", typ))
		return withDescription(m, permissiveSchema())
	}
}

// normalizeString gives enum precedence over generic string constraints:
// an enum produces a closed-set validator and the length/pattern
// constraints are dropped.
func (n *normalizer) normalizeString(m map[string]any) map[string]any {
	if _, hasEnum := m["enum"]; hasEnum {
		return carry(m, "type", "enum", "description", "default")
	}
	return carry(m, "type", "description", "default", "minLength", "maxLength", "pattern")
}

func (n *normalizer) normalizeObject(m map[string]any, path string) map[string]any {
	out := carry(m, "type", "description", "default")
	if props, ok := m["properties"].(map[string]any); ok {
		normProps := make(map[string]any, len(props))
		for name, prop := range props {
			normProps[name] = n.normalize(prop, path+"."+name)
		}
		out["properties"] = normProps
	}
	if required := stringList(m["required"]); len(required) > 0 {
		out["required"] = required
	}
	switch ap := m["additionalProperties"].(type) {
	case bool:
		out["additionalProperties"] = ap
	case map[string]any:
		out["additionalProperties"] = n.normalize(ap, path+".additionalProperties")
	}
	return out
}

// normalizeAllOf merges branches when every branch is an object schema;
// otherwise it keeps only the first branch, a documented approximation for
// intersections the validator model cannot express.
func (n *normalizer) normalizeAllOf(m map[string]any, branches []any, path string) map[string]any {
	if len(branches) == 0 {
		n.note(path, "empty allOf; accepting anything")
		return withDescription(m, permissiveSchema())
	}

	allObjects := true
	for _, branch := range branches {
		if !isObjectSchema(branch) {
			allObjects = false
			break
		}
	}
	if !allObjects {
		n.note(path, "allOf branches are not all objects; keeping first branch only")
		return withDescription(m, n.normalize(branches[0], path+".allOf[0]"))
	}

	mergedProps := make(map[string]any)
	requiredSet := make(map[string]bool)
	var requiredOrder []string
	for i, branch := range branches {
		normBranch := n.normalize(branch, fmt.Sprintf("%s.allOf[%d]", path, i))
		if props, ok := normBranch["properties"].(map[string]any); ok {
			for name, prop := range props {
				mergedProps[name] = prop
			}
		}
		for _, name := range stringList(normBranch["required"]) {
			if !requiredSet[name] {
				requiredSet[name] = true
				requiredOrder = append(requiredOrder, name)
			}
		}
	}

	out := carry(m, "description", "default")
	out["type"] = "object"
	out["properties"] = mergedProps
	if len(requiredOrder) > 0 {
		out["required"] = requiredOrder
	}
	return out
}

func (n *normalizer) normalizeUnion(m map[string]any, keyword string, branches []any, path string) map[string]any {
	if len(branches) == 0 {
		n.note(path, fmt.Sprintf("empty %s; accepting anything", keyword))
		return withDescription(m, permissiveSchema())
	}
	normBranches := make([]any, len(branches))
	for i, branch := range branches {
		normBranches[i] = n.normalize(branch, fmt.Sprintf("%s.%s[%d]", path, keyword, i))
	}
	out := carry(m, "description", "default")
	out[keyword] = normBranches
	return out
}

func isObjectSchema(node any) bool {
	m, ok := node.(map[string]any)
	if !ok {
		return false
	}
	if typ, _ := m["type"].(string); typ == "object" {
		return true
	}
	_, hasProps := m["properties"]
	return hasProps
}

// carry copies the listed keys from src when present.
func carry(src map[string]any, keys ...string) map[string]any {
	out := make(map[string]any, len(keys))
	for _, key := range keys {
		if value, has := src[key]; has {
			out[key] = value
		}
	}
	return out
}

func withDescription(src, dst map[string]any) map[string]any {
	if desc, ok := src["description"].(string); ok && desc != "" {
		dst["description"] = desc
	}
	return dst
}

func schemaList(node any) ([]any, bool) {
	list, ok := node.([]any)
	return list, ok
}

func stringList(node any) []string {
	list, ok := node.([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(list))
	for _, item := range list {
		if s, ok := item.(string); ok {
			out = append(out, s)
		}
	}
	return out
}
