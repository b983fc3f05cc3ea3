package wfcontext

import (
	"encoding/json"
	"regexp"
	"strconv"
	"strings"
	"sync"
)

// EnvLookup resolves environment-style configuration for ${{env.KEY}}
// placeholders. It mirrors os.LookupEnv so tests can inject a fixed table.
type EnvLookup func(key string) (string, bool)

// Context is the typed variable store for one workflow run. It holds step
// output bindings and ambient run metadata (session id, branch, working path,
// and task/taskIndex/taskCount inside a per-task iteration). It is mutated
// only by the engine as steps complete; reads are safe from reporter and
// condition code running on other goroutines.
type Context struct {
	mu   sync.RWMutex
	vars map[string]any
	env  EnvLookup
}

// New creates a Context seeded with ambient run values.
func New(ambient map[string]any, env EnvLookup) *Context {
	vars := make(map[string]any, len(ambient))
	for k, v := range ambient {
		vars[k] = v
	}
	if env == nil {
		env = func(string) (string, bool) { return "", false }
	}
	return &Context{vars: vars, env: env}
}

// Set binds a variable. Step output bindings and ambient metadata both land here.
func (c *Context) Set(name string, value any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.vars[name] = value
}

// Get resolves a dot-notation path (e.g. "review.hasIssues") into the
// variable store. A path whose intermediate segment is missing or not an
// object resolves to nil; it never panics.
func (c *Context) Get(path string) any {
	v, _ := c.Lookup(path)
	return v
}

// Lookup is Get with an existence flag.
func (c *Context) Lookup(path string) (any, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	// Direct key first (supports names containing dots).
	if v, ok := c.vars[path]; ok {
		return v, true
	}

	segments := strings.Split(path, ".")
	var current any = c.vars
	for _, seg := range segments {
		m, ok := current.(map[string]any)
		if !ok {
			return nil, false
		}
		current, ok = m[seg]
		if !ok {
			return nil, false
		}
	}
	return current, true
}

// Variables returns a snapshot copy of the variable map, suitable for
// checkpoint persistence and expression evaluation.
func (c *Context) Variables() map[string]any {
	c.mu.RLock()
	defer c.mu.RUnlock()
	snap := make(map[string]any, len(c.vars))
	for k, v := range c.vars {
		snap[k] = v
	}
	return snap
}

// Restore replaces the variable store with the checkpointed map.
func (c *Context) Restore(vars map[string]any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.vars = make(map[string]any, len(vars))
	for k, v := range vars {
		c.vars[k] = v
	}
}

// Fork returns an independent copy for a per-task iteration. Bindings made in
// the child do not leak back into the parent.
func (c *Context) Fork() *Context {
	c.mu.RLock()
	defer c.mu.RUnlock()
	vars := make(map[string]any, len(c.vars)+3)
	for k, v := range c.vars {
		vars[k] = v
	}
	return &Context{vars: vars, env: c.env}
}

var placeholderRe = regexp.MustCompile(`\$\{\{\s*([^{}]+?)\s*\}\}`)
var integerRe = regexp.MustCompile(`^-?\d+$`)

// Render resolves every ${{...}} placeholder in the template. Placeholders
// resolve against env.* configuration and the variable store (ambient values
// and step outputs). An unresolved placeholder renders as the empty string
// rather than leaving the literal placeholder text.
func (c *Context) Render(template string) string {
	return placeholderRe.ReplaceAllStringFunc(template, func(match string) string {
		expr := strings.TrimSpace(placeholderRe.FindStringSubmatch(match)[1])
		v, ok := c.resolvePlaceholder(expr)
		if !ok || v == nil {
			return ""
		}
		return stringify(v)
	})
}

// RenderValue renders a template, preserving the resolved type when the
// template is exactly one placeholder. A resolved string that looks like an
// integer is coerced to a number.
func (c *Context) RenderValue(template string) any {
	m := placeholderRe.FindStringSubmatch(template)
	if m != nil && strings.TrimSpace(template) == strings.TrimSpace(m[0]) {
		v, ok := c.resolvePlaceholder(strings.TrimSpace(m[1]))
		if !ok || v == nil {
			return ""
		}
		if s, isStr := v.(string); isStr && integerRe.MatchString(s) {
			n, err := strconv.Atoi(s)
			if err == nil {
				return n
			}
		}
		return v
	}
	return c.Render(template)
}

// RenderInputs renders every string value of an input map, recursing into
// nested maps and slices. Non-string values pass through untouched.
func (c *Context) RenderInputs(input map[string]any) map[string]any {
	if input == nil {
		return nil
	}
	out := make(map[string]any, len(input))
	for k, v := range input {
		out[k] = c.renderAny(v)
	}
	return out
}

func (c *Context) renderAny(v any) any {
	switch val := v.(type) {
	case string:
		return c.RenderValue(val)
	case map[string]any:
		return c.RenderInputs(val)
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = c.renderAny(item)
		}
		return out
	default:
		return v
	}
}

func (c *Context) resolvePlaceholder(expr string) (any, bool) {
	if key, ok := strings.CutPrefix(expr, "env."); ok {
		v, found := c.env(key)
		if !found {
			return nil, false
		}
		return v, true
	}
	return c.Lookup(expr)
}

func stringify(v any) string {
	switch val := v.(type) {
	case string:
		return val
	case bool:
		if val {
			return "true"
		}
		return "false"
	case int:
		return strconv.Itoa(val)
	case int64:
		return strconv.FormatInt(val, 10)
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return ""
		}
		return string(b)
	}
}
