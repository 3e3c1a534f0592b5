package chromeprocessor

import (
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/klauspost/compress/gzip"
	"github.com/pkg/errors"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

// recordBuffer is the number of records that may be queued for the writer
// goroutine before OnEnd blocks.
const recordBuffer = 1024

type Builder struct {
	path        string
	w           io.Writer
	name        NameFunc
	includeArgs bool
}

// New returns a Builder using the default name function. Unless File or
// Writer is set, Build writes to ./trace-<unix-micros>.json.
func New() *Builder {
	return &Builder{name: DefaultName}
}

// File sets the output path. A path ending in ".gz" is gzip-compressed.
func (b *Builder) File(path string) *Builder {
	b.path = path
	return b
}

// Writer sends output to w instead of a file. It takes precedence over File.
// The writer is flushed but not closed by the guard.
func (b *Builder) Writer(w io.Writer) *Builder {
	b.w = w
	return b
}

func (b *Builder) NameFunc(fn NameFunc) *Builder {
	if fn == nil {
		fn = DefaultName
	}
	b.name = fn
	return b
}

// IncludeArgs records span and event attributes in the "args" object of each
// entry. Off by default.
func (b *Builder) IncludeArgs(include bool) *Builder {
	b.includeArgs = include
	return b
}

// Build opens the sink and starts the writer goroutine. It never fails: if the
// file cannot be created the error is reported through otel.Handle and output
// is discarded.
func (b *Builder) Build() (*Processor, *FlushGuard) {
	out, closer := b.open()
	guard := newFlushGuard(out, closer)
	p := &Processor{
		guard:       guard,
		name:        b.name,
		includeArgs: b.includeArgs,
		start:       time.Now(),
		tracks:      make(map[trace.TraceID]*track),
	}
	return p, guard
}

func (b *Builder) open() (io.Writer, io.Closer) {
	if b.w != nil {
		return b.w, nil
	}

	path := b.path
	if path == "" {
		path = "./trace-" + strconv.FormatInt(time.Now().UnixMicro(), 10) + ".json"
	}

	f, err := os.Create(path)
	if err != nil {
		writeErrors.Inc()
		otel.Handle(errors.Wrapf(err, "creating trace file %s", path))
		return io.Discard, nil
	}

	if strings.HasSuffix(path, ".gz") {
		zw := gzip.NewWriter(f)
		return zw, multiCloser{zw, f}
	}
	return f, f
}

// multiCloser closes each closer in order and returns the first error.
type multiCloser []io.Closer

func (m multiCloser) Close() error {
	var first error
	for _, c := range m {
		if err := c.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}
