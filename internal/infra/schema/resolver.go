// Package schema turns the JSON-Schema fragments found in model OpenAPI
// documents into validators the agent runtime can trust: a resolver that
// inlines $ref pointers with cycle detection, and a compiler that produces
// a permissive-by-default runtime validator.
package schema

import (
	"strings"

	"go.uber.org/zap"
)

// Resolver inlines $ref pointers against a component index. Resolution is
// best-effort: cyclic and unresolvable references degrade to a generic
// object node so that tool generation is never blocked by a bad schema.
type Resolver struct {
	logger *zap.Logger
}

func NewResolver(logger *zap.Logger) *Resolver {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Resolver{logger: logger.Named("schema")}
}

// genericObject is the fallback node substituted for references that
// cannot be expanded.
func genericObject() map[string]any {
	return map[string]any{
		"type":                 "object",
		"additionalProperties": true,
	}
}

// Resolve returns a copy of node with every $ref replaced by its
// recursively resolved target from components. The output contains no
// $ref keys and has finite depth: a reference encountered while its own
// chain is still being expanded is replaced by a generic object instead
// of recursing. The input is never mutated.
func (r *Resolver) Resolve(node any, components map[string]any) any {
	return r.resolve(node, components, make(map[string]bool))
}

func (r *Resolver) resolve(node any, components map[string]any, resolving map[string]bool) any {
	switch typed := node.(type) {
	case map[string]any:
		if ref, ok := typed["$ref"].(string); ok {
			return r.expandRef(ref, components, resolving)
		}
		out := make(map[string]any, len(typed))
		for key, value := range typed {
			out[key] = r.resolve(value, components, resolving)
		}
		return out
	case []any:
		out := make([]any, len(typed))
		for i, value := range typed {
			out[i] = r.resolve(value, components, resolving)
		}
		return out
	default:
		return node
	}
}

func (r *Resolver) expandRef(ref string, components map[string]any, resolving map[string]bool) any {
	key := refKey(ref)
	if key == "" {
		r.logger.Warn("unresolvable schema ref", zap.String("ref", ref))
		return genericObject()
	}
	if resolving[key] {
		r.logger.Warn("cyclic schema ref, substituting generic object", zap.String("ref", ref))
		return genericObject()
	}
	target, ok := components[key]
	if !ok {
		r.logger.Warn("schema ref target missing from components", zap.String("ref", ref))
		return genericObject()
	}
	resolving[key] = true
	resolved := r.resolve(target, components, resolving)
	delete(resolving, key)
	return resolved
}

// refKey extracts the component name from a JSON pointer such as
// "#/components/schemas/ImageSize".
func refKey(ref string) string {
	if ref == "" {
		return ""
	}
	parts := strings.Split(ref, "/")
	return parts[len(parts)-1]
}
