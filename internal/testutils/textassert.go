//go:build test

package testutils

import (
	"fmt"
	"strings"
	"testing"

	"github.com/fatih/color"
	"github.com/hexops/gotextdiff"
	"github.com/hexops/gotextdiff/myers"
	"github.com/hexops/gotextdiff/span"
	"github.com/mcuadros/go-defaults"
)

type TextAssertOptions struct {
	TrimSpace        bool `default:"true"`
	IgnoreEmptyLines bool `default:"false"`
	EnableColors     bool `default:"false"`
}

// TextOption is a functional option for configuring TextAsserter
type TextOption func(*TextAssertOptions)

// TextAsserter compares CLI output line by line and reports a unified diff
type TextAsserter struct {
	t       testing.TB
	options TextAssertOptions
}

// NewTextAsserter creates a new TextAsserter with default options
func NewTextAsserter(t testing.TB) *TextAsserter {
	opts := TextAssertOptions{}
	defaults.SetDefaults(&opts)
	return &TextAsserter{t: t, options: opts}
}

// WithOptions applies functional options to the TextAsserter
func (ta *TextAsserter) WithOptions(opts ...TextOption) *TextAsserter {
	for _, opt := range opts {
		opt(&ta.options)
	}
	return ta
}

// Assert compares actual against expected
func (ta *TextAsserter) Assert(actual, expected string) bool {
	ta.t.Helper()
	a, e := ta.normalize(actual), ta.normalize(expected)
	if a == e {
		return true
	}
	edits := myers.ComputeEdits(span.URIFromPath("expected"), e, a)
	diff := fmt.Sprint(gotextdiff.ToUnified("expected", "actual", e, edits))
	if ta.options.EnableColors {
		diff = colorize(diff)
	}
	ta.t.Errorf("text assertion failed:\n%s", diff)
	return false
}

func (ta *TextAsserter) normalize(s string) string {
	lines := strings.Split(strings.ReplaceAll(s, "\r\n", "\n"), "\n")
	out := make([]string, 0, len(lines))
	for _, l := range lines {
		if ta.options.TrimSpace {
			l = strings.TrimRight(l, " \t")
		}
		if ta.options.IgnoreEmptyLines && strings.TrimSpace(l) == "" {
			continue
		}
		out = append(out, l)
	}
	joined := strings.Join(out, "\n")
	if ta.options.TrimSpace {
		joined = strings.Trim(joined, "\n")
	}
	return joined + "\n"
}

func colorize(diff string) string {
	red := color.New(color.FgRed).SprintFunc()
	green := color.New(color.FgGreen).SprintFunc()
	lines := strings.Split(diff, "\n")
	for i, l := range lines {
		switch {
		case strings.HasPrefix(l, "-") && !strings.HasPrefix(l, "---"):
			lines[i] = red(l)
		case strings.HasPrefix(l, "+") && !strings.HasPrefix(l, "+++"):
			lines[i] = green(l)
		}
	}
	return strings.Join(lines, "\n")
}

// WithTrimSpace toggles trailing whitespace trimming
func WithTrimSpace(trim bool) TextOption {
	return func(opts *TextAssertOptions) {
		opts.TrimSpace = trim
	}
}

// WithIgnoreEmptyLines toggles skipping blank lines
func WithIgnoreEmptyLines(ignore bool) TextOption {
	return func(opts *TextAssertOptions) {
		opts.IgnoreEmptyLines = ignore
	}
}
