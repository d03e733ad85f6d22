package resolver

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"regexp"
	"strconv"
	"strings"
)

var templatePattern = regexp.MustCompile(`\{\{([^}]+)\}\}`)

// envNamePattern matches bare uppercase environment-style names, which belong
// to the env substitution language and are skipped here.
var envNamePattern = regexp.MustCompile(`^[A-Z_][A-Z_0-9]*$`)

const (
	dateTimeLayout = "2006-01-02 15:04:05"
	dateLayout     = "2006-01-02"
)

// TemplateString substitutes run-state references in s using the step results
// accumulated so far. Reserved date tokens are replaced first; every other
// {{expr}} is a dot-separated path into results, with [n] segments indexing
// into sequences. An unresolvable path falls back to the path text itself
// (lenient mode) or errors (strict mode).
func (r *Resolver) TemplateString(s string, results map[string]any) (string, error) {
	now := r.now()
	s = strings.ReplaceAll(s, "{{NOW()}}", now.Format(dateTimeLayout))
	s = strings.ReplaceAll(s, "{{CURRENT_DATE_TIME}}", now.Format(dateTimeLayout))
	s = strings.ReplaceAll(s, "{{CURRENT_DATE}}", now.Format(dateLayout))

	var unresolved string

	s = templatePattern.ReplaceAllStringFunc(s, func(match string) string {
		expr := match[2 : len(match)-2]
		if expr == "NOW()" || expr == "CURRENT_DATE_TIME" || expr == "CURRENT_DATE" {
			return match
		}
		if envNamePattern.MatchString(expr) {
			return match
		}

		path := strings.TrimSpace(expr)
		val, ok := walkPath(results, path)
		if !ok {
			r.logger.Warn("could not resolve template reference", slog.String("path", path))
			if unresolved == "" {
				unresolved = path
			}
			// Best-effort: substitute the unresolved path text, not the
			// full {{...}} form.
			return path
		}
		return stringify(val)
	})

	if r.strict && unresolved != "" {
		return "", r.unresolvedErr("template", unresolved)
	}
	return s, nil
}

// TemplateTree applies TemplateString recursively over nested maps and
// slices. Two post-substitution rules apply only when processing a tree:
// map keys whose resolved value still carries a YOUR_ placeholder are dropped
// (so literal placeholder credentials never go over the wire), and
// fully-numeric strings are coerced to int or float values.
func (r *Resolver) TemplateTree(v any, results map[string]any) (any, error) {
	switch val := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			resolved, err := r.TemplateTree(item, results)
			if err != nil {
				return nil, err
			}
			if s, isStr := resolved.(string); isStr && strings.Contains(s, "YOUR_") {
				r.logger.Warn("dropping config key with unresolved placeholder",
					slog.String("key", k))
				continue
			}
			out[k] = resolved
		}
		return out, nil
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			resolved, err := r.TemplateTree(item, results)
			if err != nil {
				return nil, err
			}
			out[i] = resolved
		}
		return out, nil
	case string:
		resolved, err := r.TemplateString(val, results)
		if err != nil {
			return nil, err
		}
		return coerceNumeric(resolved), nil
	default:
		return v, nil
	}
}

// walkPath traverses a dot-separated path into the step results. A segment of
// the form [n] indexes into a sequence; negative indexes count from the end.
// Returns false on a missing key, out-of-range index, or non-traversable
// value.
func walkPath(results map[string]any, path string) (any, bool) {
	var current any = results

	for _, seg := range strings.Split(path, ".") {
		if seg == "" {
			return nil, false
		}
		if strings.HasPrefix(seg, "[") && strings.HasSuffix(seg, "]") {
			idx, err := strconv.Atoi(seg[1 : len(seg)-1])
			if err != nil {
				return nil, false
			}
			list, ok := current.([]any)
			if !ok {
				return nil, false
			}
			if idx < 0 {
				idx += len(list)
			}
			if idx < 0 || idx >= len(list) {
				return nil, false
			}
			current = list[idx]
			continue
		}

		obj, ok := current.(map[string]any)
		if !ok {
			return nil, false
		}
		val, ok := obj[seg]
		if !ok {
			return nil, false
		}
		current = val
	}

	return current, true
}

// stringify converts a resolved value into its inline text representation for
// embedding into a template string.
func stringify(val any) string {
	switch v := val.(type) {
	case string:
		return v
	case nil:
		return "null"
	case bool:
		if v {
			return "true"
		}
		return "false"
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case int:
		return strconv.Itoa(v)
	case int64:
		return strconv.FormatInt(v, 10)
	case json.Number:
		return v.String()
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprintf("%v", v)
		}
		return string(b)
	}
}

// coerceNumeric converts a fully numeric string (digits, optional single
// leading sign, at most one decimal point) to an int or float64 so extracted
// numeric fields compare and compute correctly downstream.
func coerceNumeric(s string) any {
	if !isNumericLiteral(s) {
		return s
	}
	if !strings.Contains(s, ".") {
		if n, err := strconv.Atoi(s); err == nil {
			return n
		}
		// Falls through for values wider than int.
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return f
	}
	return s
}

func isNumericLiteral(s string) bool {
	if s == "" {
		return false
	}
	i := 0
	if s[0] == '+' || s[0] == '-' {
		i = 1
	}
	digits, dots := 0, 0
	for ; i < len(s); i++ {
		switch {
		case s[i] >= '0' && s[i] <= '9':
			digits++
		case s[i] == '.':
			dots++
			if dots > 1 {
				return false
			}
		default:
			return false
		}
	}
	return digits > 0
}
