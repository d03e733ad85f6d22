package resolver

import (
	"log/slog"
	"regexp"
	"strings"
)

var (
	yourPattern     = regexp.MustCompile(`YOUR_([A-Z_0-9]+)`)
	curlyEnvPattern = regexp.MustCompile(`\{\{([A-Z_][A-Z_0-9]*)\}\}`)
)

// variantRewrites is the fixed list of name-variant suffix rewrites tried, in
// order, when a referenced variable is not set directly. Plans produced by the
// planner are inconsistent about _KEY vs _API_KEY style names; the first
// variant that resolves wins.
var variantRewrites = [][2]string{
	{"_API_KEY", "_KEY"},
	{"_API_TOKEN", "_TOKEN"},
	{"_DATABASE_ID", "_DB_ID"},
	{"_DB_ID", "_DATABASE_ID"},
	{"_TOKEN", "_API_TOKEN"},
	{"_KEY", "_API_KEY"},
}

// lookupWithVariants resolves name directly, then through the suffix rewrites.
func (r *Resolver) lookupWithVariants(name string) (string, bool) {
	if val, ok := r.lookup(name); ok && val != "" {
		return val, true
	}
	for _, rw := range variantRewrites {
		if !strings.HasSuffix(name, rw[0]) {
			continue
		}
		variant := strings.TrimSuffix(name, rw[0]) + rw[1]
		if val, ok := r.lookup(variant); ok && val != "" {
			r.logger.Debug("resolved env var via variant",
				slog.String("name", name),
				slog.String("variant", variant))
			return val, true
		}
	}
	return "", false
}

// EnvString substitutes YOUR_<NAME> and {{NAME}} environment references in s.
// Unresolved references are left as-is with a warning; in strict mode they are
// an error instead.
func (r *Resolver) EnvString(s string) (string, error) {
	var unresolved string

	s = yourPattern.ReplaceAllStringFunc(s, func(match string) string {
		name := strings.TrimPrefix(match, "YOUR_")
		if val, ok := r.lookupWithVariants(name); ok {
			return val
		}
		r.logger.Warn("env var not found", slog.String("name", name), slog.String("placeholder", match))
		if unresolved == "" {
			unresolved = match
		}
		return match
	})

	s = curlyEnvPattern.ReplaceAllStringFunc(s, func(match string) string {
		name := curlyEnvPattern.FindStringSubmatch(match)[1]
		if val, ok := r.lookupWithVariants(name); ok {
			return val
		}
		r.logger.Warn("env var not found", slog.String("name", name), slog.String("placeholder", match))
		if unresolved == "" {
			unresolved = match
		}
		return match
	})

	if r.strict && unresolved != "" {
		return "", r.unresolvedErr("env", unresolved)
	}
	return s, nil
}

// EnvTree applies EnvString recursively over nested maps and slices, leaving
// non-string scalars untouched.
func (r *Resolver) EnvTree(v any) (any, error) {
	switch val := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			resolved, err := r.EnvTree(item)
			if err != nil {
				return nil, err
			}
			out[k] = resolved
		}
		return out, nil
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			resolved, err := r.EnvTree(item)
			if err != nil {
				return nil, err
			}
			out[i] = resolved
		}
		return out, nil
	case string:
		return r.EnvString(val)
	default:
		return v, nil
	}
}
