package debugprocessor

import (
	"io"
	"os"

	"github.com/fatih/color"
	"github.com/mattn/go-isatty"
	"go.opentelemetry.io/otel/trace"
)

type Builder struct {
	w     io.Writer
	i     string
	color bool
}

// New returns a Builder writing to stdout with a two-space indent.
func New() *Builder {
	return (&Builder{i: "  "}).WithWriter(os.Stdout)
}

// WithWriter sets the output. Colors are turned on when w is a terminal,
// unless NO_COLOR is set; use WithColor afterwards to override.
func (b *Builder) WithWriter(w io.Writer) *Builder {
	b.w = w
	b.color = isTerminal(w)
	return b
}

func (b *Builder) WithIndent(i string) *Builder {
	b.i = i
	return b
}

func (b *Builder) WithColor(enabled bool) *Builder {
	b.color = enabled
	return b
}

func (b *Builder) Build() *Processor {
	p := &Processor{
		out:    b.w,
		indent: b.i,
		spans:  make(map[trace.SpanID]int),
		lib:    color.New(color.Faint),
		name:   color.New(color.FgCyan, color.Bold),
		event:  color.New(color.FgYellow),
	}
	for _, c := range []*color.Color{p.lib, p.name, p.event} {
		if b.color {
			c.EnableColor()
		} else {
			c.DisableColor()
		}
	}
	return p
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && !color.NoColor && isatty.IsTerminal(f.Fd())
}
