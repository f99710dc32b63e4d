package execctx

import (
	"fmt"
	"reflect"
	"regexp"
	"strings"
)

// refPattern matches a single {var} or {step.field} template reference
// anywhere inside a string: only word characters and dots are accepted
// between the braces.
var refPattern = regexp.MustCompile(`\{([\w]+(?:\.[\w]+)*)\}`)

// References extracts every {ref} found inside a template string.
func References(template string) []string {
	matches := refPattern.FindAllStringSubmatch(template, -1)
	if matches == nil {
		return nil
	}
	refs := make([]string, 0, len(matches))
	for _, m := range matches {
		refs = append(refs, m[1])
	}
	return refs
}

// Resolve substitutes every {var} in template using ctx fields first,
// then stepOutputs. It returns an error naming the specific reference
// when a substitution cannot be resolved.
func Resolve(template string, ctx *Context) (string, error) {
	var resolveErr error
	result := refPattern.ReplaceAllStringFunc(template, func(match string) string {
		ref := match[1 : len(match)-1]
		val, err := lookup(ref, ctx)
		if err != nil {
			if resolveErr == nil {
				resolveErr = err
			}
			return match
		}
		return fmt.Sprintf("%v", val)
	})
	if resolveErr != nil {
		return "", resolveErr
	}
	return result, nil
}

// ResolveValue resolves a single {ref} to its native value (not stringified).
// Used when a param value is exactly one reference (e.g. "{step.positions}")
// and the caller wants the underlying slice/map/number rather than its
// string form.
func ResolveValue(template string, ctx *Context) (any, error) {
	refs := References(template)
	if len(refs) == 1 && strings.TrimSpace(template) == "{"+refs[0]+"}" {
		return lookup(refs[0], ctx)
	}
	return Resolve(template, ctx)
}

// ResolveParams resolves every value in a step's params map. Values that
// are themselves maps or slices are resolved recursively so nested
// template expressions (e.g. inside a "mapping" parameter) are handled.
func ResolveParams(params map[string]any, ctx *Context) (map[string]any, error) {
	resolved := make(map[string]any, len(params))
	for k, v := range params {
		rv, err := resolveAny(v, ctx)
		if err != nil {
			return nil, err
		}
		resolved[k] = rv
	}
	return resolved, nil
}

func resolveAny(v any, ctx *Context) (any, error) {
	switch val := v.(type) {
	case string:
		return ResolveValue(val, ctx)
	case map[string]any:
		return ResolveParams(val, ctx)
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			rv, err := resolveAny(item, ctx)
			if err != nil {
				return nil, err
			}
			out[i] = rv
		}
		return out, nil
	default:
		return v, nil
	}
}

// lookup resolves one dotted reference against ctx fields, then
// StepOutputs, supporting a single-level {step.field} traversal into a
// step's output when it is itself a map.
func lookup(ref string, ctx *Context) (any, error) {
	if val, ok := ctx.Field(ref); ok {
		return val, nil
	}

	parts := strings.SplitN(ref, ".", 2)
	stepName := parts[0]

	out, ok := ctx.StepOutputs[stepName]
	if !ok {
		return nil, fmt.Errorf("unresolved reference %q: no such context field or prior step output", ref)
	}
	if len(parts) == 1 {
		return out, nil
	}

	field := parts[1]
	rv := reflect.ValueOf(out)
	switch rv.Kind() {
	case reflect.Map:
		mv := rv.MapIndex(reflect.ValueOf(field))
		if !mv.IsValid() {
			return nil, fmt.Errorf("unresolved reference %q: step %q output has no field %q", ref, stepName, field)
		}
		return mv.Interface(), nil
	default:
		return nil, fmt.Errorf("unresolved reference %q: step %q output is not a mapping", ref, stepName)
	}
}
