package runbook

import (
	"fmt"
	"strconv"
	"strings"
)

// Context is the render-time value scope: pipeline inputs, pipeline
// defaults (themselves templated, rendered once up front), and runtime
// values such as the current phase name or a strategy's captured
// checkpoint value. Dotted lookups ("workspace.path") walk into Nested.
type Context struct {
	Values map[string]string
	Nested map[string]Context
}

// NewContext returns an empty render context ready to be populated.
func NewContext() Context {
	return Context{Values: map[string]string{}, Nested: map[string]Context{}}
}

// Set assigns a flat string value.
func (c Context) Set(key, value string) { c.Values[key] = value }

// lookup resolves a possibly-dotted key against Values/Nested, returning
// ok=false if any segment is missing.
func (c Context) lookup(key string) (string, bool) {
	if v, ok := c.Values[key]; ok {
		return v, true
	}
	dot := strings.IndexByte(key, '.')
	if dot < 0 {
		return "", false
	}
	head, rest := key[:dot], key[dot+1:]
	child, ok := c.Nested[head]
	if !ok {
		return "", false
	}
	return child.lookup(rest)
}

// Render interpolates str against ctx. Supported constructs, hand-rolled
// rather than reached for from text/template because the grammar here is
// deliberately small and the templates live inline in TOML string values
// rather than as separate files (no need for html/text escaping, layout
// composition, or defined-block reuse that text/template is built for):
//
//   {{name}}                      variable, dotted lookup supported
//   {{name|default("x")}}         fallback when name is unset
//   {{#if name}}...{{/if}}        truthy-branch (non-empty, non "false")
//   {{#each list}}...{{/each}}    repetition over a Values entry holding
//                                 a comma-joined list (runbook authors
//                                 write "a,b,c"); {{.}} is the item
func Render(str string, ctx Context) (string, error) {
	out, _, err := renderBlock(str, ctx, 0)
	return out, err
}

// renderBlock renders str (a full template, or the body between a
// directive and its matching close tag found by extractBlock) and
// returns the rendered text plus the index just past what it consumed.
// No caller uses that index: Render and the recursive calls into
// directive bodies all discard it.
func renderBlock(str string, ctx Context, _ int) (string, int, error) {
	var b strings.Builder
	i := 0
	for i < len(str) {
		open := strings.Index(str[i:], "{{")
		if open < 0 {
			b.WriteString(str[i:])
			i = len(str)
			break
		}
		open += i
		b.WriteString(str[i:open])
		close := strings.Index(str[open:], "}}")
		if close < 0 {
			return "", 0, fmt.Errorf("runbook: unterminated {{ in template at offset %d", open)
		}
		close += open
		tag := strings.TrimSpace(str[open+2 : close])
		i = close + 2

		switch {
		case strings.HasPrefix(tag, "#if "):
			cond := strings.TrimSpace(tag[4:])
			body, after, err := extractBlock(str, i, "#if", "/if")
			if err != nil {
				return "", 0, err
			}
			i = after
			if truthy(ctx, cond) {
				rendered, _, err := renderBlock(body, ctx, 0)
				if err != nil {
					return "", 0, err
				}
				b.WriteString(rendered)
			}

		case strings.HasPrefix(tag, "#each "):
			listKey := strings.TrimSpace(tag[6:])
			body, after, err := extractBlock(str, i, "#each", "/each")
			if err != nil {
				return "", 0, err
			}
			i = after
			raw, _ := ctx.lookup(listKey)
			for _, item := range splitList(raw) {
				itemCtx := ctx
				itemCtx.Values = cloneValues(ctx.Values)
				itemCtx.Values["."] = item
				rendered, _, err := renderBlock(body, itemCtx, 0)
				if err != nil {
					return "", 0, err
				}
				b.WriteString(rendered)
			}

		default:
			val, err := resolveExpr(ctx, tag)
			if err != nil {
				return "", 0, err
			}
			b.WriteString(val)
		}
	}
	return b.String(), i, nil
}

// extractBlock finds the matching close tag for a directive opened just
// before position start, honoring nesting of the same directive family.
func extractBlock(str string, start int, openTag, closeTag string) (body string, after int, err error) {
	depth := 1
	i := start
	for {
		open := strings.Index(str[i:], "{{")
		if open < 0 {
			return "", 0, fmt.Errorf("runbook: missing {{%s}} for {{%s}} opened earlier", closeTag, openTag)
		}
		open += i
		tagClose := strings.Index(str[open:], "}}")
		if tagClose < 0 {
			return "", 0, fmt.Errorf("runbook: unterminated {{ in template")
		}
		tagClose += open
		tag := strings.TrimSpace(str[open+2 : tagClose])
		switch {
		case tag == openTag || strings.HasPrefix(tag, openTag+" "):
			depth++
		case tag == closeTag:
			depth--
			if depth == 0 {
				return str[start:open], tagClose + 2, nil
			}
		}
		i = tagClose + 2
	}
}

func resolveExpr(ctx Context, expr string) (string, error) {
	if pipe := strings.Index(expr, "|"); pipe >= 0 {
		name := strings.TrimSpace(expr[:pipe])
		filter := strings.TrimSpace(expr[pipe+1:])
		v, ok := ctx.lookup(name)
		if ok {
			return v, nil
		}
		return applyFilter(filter)
	}
	v, ok := ctx.lookup(expr)
	if !ok {
		return "", fmt.Errorf("runbook: template variable %q is not set and has no default", expr)
	}
	return v, nil
}

// applyFilter handles the single supported filter form, default("x").
func applyFilter(filter string) (string, error) {
	if !strings.HasPrefix(filter, "default(") || !strings.HasSuffix(filter, ")") {
		return "", fmt.Errorf("runbook: unsupported template filter %q", filter)
	}
	arg := filter[len("default(") : len(filter)-1]
	unq, err := strconv.Unquote(arg)
	if err != nil {
		return arg, nil
	}
	return unq, nil
}

func truthy(ctx Context, key string) bool {
	v, ok := ctx.lookup(key)
	return ok && v != "" && v != "false"
}

func splitList(raw string) []string {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	return parts
}

func cloneValues(m map[string]string) map[string]string {
	out := make(map[string]string, len(m)+1)
	for k, v := range m {
		out[k] = v
	}
	return out
}
