package filtergraph

import (
	"fmt"
	"strconv"
	"strings"
)

type arg struct {
	key   string
	value string
}

// Filter is a single ffmpeg filter with ordered named options.
type Filter struct {
	Name string
	args []arg
}

// New creates a filter with no options.
func New(name string) Filter {
	return Filter{Name: name}
}

// Set adds a named option. Expr values are single-quoted so commas inside
// function calls do not split the chain; strings are emitted as given.
func (f Filter) Set(key string, value any) Filter {
	f.args = append(append([]arg(nil), f.args...), arg{key: key, value: formatValue(value)})
	return f
}

// Arg adds a positional option.
func (f Filter) Arg(value any) Filter {
	return f.Set("", value)
}

// Get returns the rendered value of a named option.
func (f Filter) Get(key string) (string, bool) {
	for _, a := range f.args {
		if a.key == key {
			return a.value, true
		}
	}
	return "", false
}

func (f Filter) String() string {
	if len(f.args) == 0 {
		return f.Name
	}
	parts := make([]string, len(f.args))
	for i, a := range f.args {
		if a.key == "" {
			parts[i] = a.value
		} else {
			parts[i] = a.key + "=" + a.value
		}
	}
	return f.Name + "=" + strings.Join(parts, ":")
}

func formatValue(v any) string {
	switch val := v.(type) {
	case Expr:
		return "'" + val.String() + "'"
	case string:
		return val
	case int:
		return strconv.Itoa(val)
	case int64:
		return strconv.FormatInt(val, 10)
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case bool:
		if val {
			return "1"
		}
		return "0"
	default:
		return fmt.Sprint(val)
	}
}

// Chain is a linear sequence of filters joined by commas.
type Chain []Filter

// Then returns a new chain with fs appended.
func (c Chain) Then(fs ...Filter) Chain {
	out := make(Chain, 0, len(c)+len(fs))
	out = append(out, c...)
	return append(out, fs...)
}

// Names lists the filter names in order.
func (c Chain) Names() []string {
	names := make([]string, len(c))
	for i, f := range c {
		names[i] = f.Name
	}
	return names
}

func (c Chain) String() string {
	parts := make([]string, len(c))
	for i, f := range c {
		parts[i] = f.String()
	}
	return strings.Join(parts, ",")
}

// Link is a chain with labeled input and output pads.
type Link struct {
	Inputs  []string
	Chain   Chain
	Outputs []string
}

func (l Link) String() string {
	var b strings.Builder
	for _, in := range l.Inputs {
		b.WriteString("[" + in + "]")
	}
	b.WriteString(l.Chain.String())
	for _, out := range l.Outputs {
		b.WriteString("[" + out + "]")
	}
	return b.String()
}

// Graph is a -filter_complex graph of labeled links joined by semicolons.
type Graph []Link

func (g Graph) String() string {
	parts := make([]string, len(g))
	for i, l := range g {
		parts[i] = l.String()
	}
	return strings.Join(parts, ";")
}

// Text quotes free text for use as a filter option value. The value passes
// through two ffmpeg parsing levels: the outer quotes protect it from the
// graph parser and the backslash escapes survive into the option parser.
// Apostrophes cannot be escaped inside quotes, so they become typographic.
func Text(s string) string {
	r := strings.NewReplacer(
		`\`, `\\`,
		`:`, `\:`,
		`'`, "’",
	)
	return "'" + r.Replace(s) + "'"
}
