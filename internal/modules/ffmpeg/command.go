package ffmpeg

import (
	"strings"
	"time"
)

// Input is one ffmpeg input file with the options that must precede its -i.
type Input struct {
	Path    string
	Options []string
}

// Command is a declarative description of a single ffmpeg invocation.
// It is built up with the chaining methods and lowered to argv by Args.
type Command struct {
	// Name labels the invocation in logs and metrics ("segment", "concat", ...).
	Name   string
	Output string

	Inputs        []Input
	VideoFilters  []string
	AudioFilters  []string
	FilterGraph   string
	Maps          []string
	OutputOptions []string

	// Timeout overrides the runner default when non-zero.
	Timeout time.Duration
	// ExpectedDuration (seconds) lets the progress parser derive a percentage.
	ExpectedDuration float64
}

// NewCommand creates a command writing to output.
func NewCommand(name, output string) *Command {
	return &Command{Name: name, Output: output}
}

// Input appends an input file. opts are placed before its -i flag.
func (c *Command) Input(path string, opts ...string) *Command {
	c.Inputs = append(c.Inputs, Input{Path: path, Options: opts})
	return c
}

// VideoFilter appends a filter chain to -vf. Empty chains are ignored.
func (c *Command) VideoFilter(chain string) *Command {
	if chain != "" {
		c.VideoFilters = append(c.VideoFilters, chain)
	}
	return c
}

// AudioFilter appends a filter chain to -af. Empty chains are ignored.
func (c *Command) AudioFilter(chain string) *Command {
	if chain != "" {
		c.AudioFilters = append(c.AudioFilters, chain)
	}
	return c
}

// ComplexFilter sets the -filter_complex graph.
func (c *Command) ComplexFilter(graph string) *Command {
	c.FilterGraph = graph
	return c
}

// Map adds a -map selector, e.g. "0:v" or "[aout]".
func (c *Command) Map(selector string) *Command {
	c.Maps = append(c.Maps, selector)
	return c
}

// Option adds a named output option with a value.
func (c *Command) Option(name, value string) *Command {
	c.OutputOptions = append(c.OutputOptions, name, value)
	return c
}

// Flag adds a valueless output option.
func (c *Command) Flag(name string) *Command {
	c.OutputOptions = append(c.OutputOptions, name)
	return c
}

// Encode appends the encoder options of e.
func (c *Command) Encode(e Encoding) *Command {
	c.OutputOptions = append(c.OutputOptions, e.Options()...)
	return c
}

func (c *Command) WithTimeout(d time.Duration) *Command {
	c.Timeout = d
	return c
}

func (c *Command) WithExpectedDuration(seconds float64) *Command {
	c.ExpectedDuration = seconds
	return c
}

// HasOption reports whether name was set as an output option.
func (c *Command) HasOption(name string) bool {
	for _, opt := range c.OutputOptions {
		if opt == name {
			return true
		}
	}
	return false
}

// Args lowers the command to ffmpeg argv (without the binary name).
func (c *Command) Args() []string {
	args := []string{"-y", "-hide_banner", "-nostdin"}

	for _, in := range c.Inputs {
		args = append(args, in.Options...)
		args = append(args, "-i", in.Path)
	}

	if len(c.VideoFilters) > 0 {
		args = append(args, "-vf", strings.Join(c.VideoFilters, ","))
	}
	if len(c.AudioFilters) > 0 {
		args = append(args, "-af", strings.Join(c.AudioFilters, ","))
	}
	if c.FilterGraph != "" {
		args = append(args, "-filter_complex", c.FilterGraph)
	}
	for _, m := range c.Maps {
		args = append(args, "-map", m)
	}

	args = append(args, c.OutputOptions...)
	args = append(args, c.Output)
	return args
}

// String renders the invocation as a shell-like line for logs and dry runs.
func (c *Command) String() string {
	args := c.Args()
	parts := make([]string, 0, len(args)+1)
	parts = append(parts, "ffmpeg")
	for _, a := range args {
		if a == "" || strings.ContainsAny(a, " '\"();,[]") {
			parts = append(parts, "'"+strings.ReplaceAll(a, "'", `'\''`)+"'")
			continue
		}
		parts = append(parts, a)
	}
	return strings.Join(parts, " ")
}
