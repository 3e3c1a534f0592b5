package chromeprocessor

import (
	"bufio"
	"encoding/json"
	"io"
	"sync"

	"github.com/pkg/errors"
	"go.opentelemetry.io/otel"
)

// FlushGuard owns the trace sink. Entries are buffered until Flush or Close;
// Close must be called before the program exits or the trace is truncated.
type FlushGuard struct {
	records chan record
	flushes chan chan struct{}
	done    chan struct{}

	mu     sync.RWMutex
	closed bool

	once sync.Once
	err  error
}

// sink is the writer goroutine's state.
type sink struct {
	out    io.Writer
	closer io.Closer
	buf    *bufio.Writer
	first  bool
	err    error
}

type flusher interface {
	Flush() error
}

func newFlushGuard(out io.Writer, closer io.Closer) *FlushGuard {
	g := &FlushGuard{
		records: make(chan record, recordBuffer),
		flushes: make(chan chan struct{}),
		done:    make(chan struct{}),
	}
	s := &sink{
		out:    out,
		closer: closer,
		buf:    bufio.NewWriter(out),
		first:  true,
	}
	go g.run(s)
	return g
}

// send queues r for writing. It reports false once the guard is closed.
func (g *FlushGuard) send(r record) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if g.closed {
		return false
	}
	g.records <- r
	return true
}

// Flush writes every entry queued before the call to the sink. It holds the
// read lock until the writer acknowledges, so Close waits for it.
func (g *FlushGuard) Flush() {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if g.closed {
		return
	}
	ack := make(chan struct{})
	g.flushes <- ack
	<-ack
}

// Close stops accepting entries, writes the remaining ones, terminates the
// JSON array and closes the file. It is safe to call more than once.
func (g *FlushGuard) Close() error {
	g.once.Do(func() {
		g.mu.Lock()
		g.closed = true
		close(g.records)
		g.mu.Unlock()
		<-g.done
	})
	return g.err
}

func (g *FlushGuard) run(s *sink) {
	defer close(g.done)

	s.write([]byte("[\n"))
	for {
		select {
		case r, ok := <-g.records:
			if !ok {
				g.err = s.finish()
				return
			}
			s.record(r)
		case ack := <-g.flushes:
		drain:
			for {
				select {
				case r, ok := <-g.records:
					if !ok {
						g.err = s.finish()
						close(ack)
						return
					}
					s.record(r)
				default:
					break drain
				}
			}
			s.flush()
			close(ack)
		}
	}
}

func (s *sink) record(r record) {
	b, err := json.Marshal(r)
	if err != nil {
		s.fail(errors.Wrap(err, "encoding trace entry"))
		return
	}
	if !s.first {
		s.write([]byte(",\n"))
	}
	s.first = false
	s.write(b)

	kind := "span"
	if r.Ph == "i" {
		kind = "event"
	}
	recordsTotal.WithLabelValues(kind).Inc()
}

func (s *sink) write(b []byte) {
	if _, err := s.buf.Write(b); err != nil {
		s.fail(errors.Wrap(err, "writing trace file"))
	}
}

func (s *sink) flush() {
	if err := s.buf.Flush(); err != nil {
		s.fail(errors.Wrap(err, "flushing trace file"))
		return
	}
	if f, ok := s.out.(flusher); ok {
		if err := f.Flush(); err != nil {
			s.fail(errors.Wrap(err, "flushing trace file"))
		}
	}
}

func (s *sink) finish() error {
	s.write([]byte("\n]\n"))
	s.flush()
	if s.closer != nil {
		if err := s.closer.Close(); err != nil {
			s.fail(errors.Wrap(err, "closing trace file"))
		}
	}
	return s.err
}

// fail counts every sink error but hands only the first to otel.Handle; a
// broken file would otherwise report on every entry.
func (s *sink) fail(err error) {
	writeErrors.Inc()
	if s.err == nil {
		s.err = err
		otel.Handle(err)
	}
}
