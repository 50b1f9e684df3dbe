package proxy

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
)

// Pump defaults.
const (
	DefaultPumpChunkSize = 32 * 1024
	DefaultHighWaterMark = 256 * 1024
	DefaultLowWaterMark  = 64 * 1024
)

// PumpSide tells which end of a pump failed.
type PumpSide string

const (
	// SideSource is a read failure.
	SideSource PumpSide = "source"
	// SideSink is a write failure.
	SideSink PumpSide = "sink"
)

// PumpError is a failure on one end of a pump.
type PumpError struct {
	Side PumpSide
	Err  error
}

// Error implements the error interface.
func (e *PumpError) Error() string {
	return fmt.Sprintf("pump %s: %v", e.Side, e.Err)
}

// Unwrap returns the underlying error.
func (e *PumpError) Unwrap() error {
	return e.Err
}

// Is checks if the error matches the target.
func (e *PumpError) Is(target error) bool {
	t, ok := target.(*PumpError)
	if ok {
		return t.Side == "" || t.Side == e.Side
	}
	return errors.Is(e.Err, target)
}

// Pump copies a source to a sink through a bounded queue. A reader
// goroutine fills the queue and pauses once the queued bytes reach the
// high-water mark; it resumes when the writer has drained the queue to
// the low-water mark.
type Pump struct {
	src       io.Reader
	dst       io.Writer
	chunkSize int
	highWater int
	lowWater  int
	flush     bool
	onPause   func()

	mu      sync.Mutex
	cond    *sync.Cond
	queue   [][]byte
	queued  int
	paused  bool
	srcDone bool
	srcErr  error
	stopped bool
	written int64
	pauses  int
}

// PumpOption is a functional option for a pump.
type PumpOption func(*Pump)

// WithWaterMarks sets the high and low water marks in bytes.
func WithWaterMarks(high, low int) PumpOption {
	return func(p *Pump) {
		p.highWater = high
		p.lowWater = low
	}
}

// WithChunkSize sets the read size.
func WithChunkSize(size int) PumpOption {
	return func(p *Pump) {
		p.chunkSize = size
	}
}

// WithFlush flushes the sink after every write when it is an http.Flusher.
func WithFlush() PumpOption {
	return func(p *Pump) {
		p.flush = true
	}
}

// WithPauseHook sets a function called each time the source is paused.
func WithPauseHook(fn func()) PumpOption {
	return func(p *Pump) {
		p.onPause = fn
	}
}

// NewPump creates a pump from src to dst.
func NewPump(src io.Reader, dst io.Writer, opts ...PumpOption) *Pump {
	p := &Pump{
		src:       src,
		dst:       dst,
		chunkSize: DefaultPumpChunkSize,
		highWater: DefaultHighWaterMark,
		lowWater:  DefaultLowWaterMark,
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.chunkSize < 1 {
		p.chunkSize = DefaultPumpChunkSize
	}
	if p.highWater < 1 {
		p.highWater = p.chunkSize
	}
	if p.lowWater < 0 || p.lowWater >= p.highWater {
		p.lowWater = p.highWater / 2
	}
	p.cond = sync.NewCond(&p.mu)
	return p
}

// Run copies until the source ends, either side fails, the pump is
// stopped or ctx is done. It returns nil once every byte read from the
// source was written.
func (p *Pump) Run(ctx context.Context) error {
	stopOnDone := context.AfterFunc(ctx, p.Stop)
	defer stopOnDone()

	go p.readLoop()

	var flusher http.Flusher
	if p.flush {
		flusher, _ = p.dst.(http.Flusher)
	}

	for {
		p.mu.Lock()
		for len(p.queue) == 0 && !p.srcDone && !p.stopped {
			p.cond.Wait()
		}
		if p.stopped {
			p.mu.Unlock()
			if err := ctx.Err(); err != nil {
				return fmt.Errorf("%w: %w", ErrPumpStopped, err)
			}
			return ErrPumpStopped
		}
		if len(p.queue) == 0 {
			err := p.srcErr
			p.mu.Unlock()
			if err != nil && !errors.Is(err, io.EOF) {
				return &PumpError{Side: SideSource, Err: err}
			}
			return nil
		}

		chunk := p.queue[0]
		p.queue[0] = nil
		p.queue = p.queue[1:]
		p.queued -= len(chunk)
		if p.paused && p.queued <= p.lowWater {
			p.paused = false
			p.cond.Broadcast()
		}
		p.mu.Unlock()

		n, err := p.dst.Write(chunk)
		p.mu.Lock()
		p.written += int64(n)
		p.mu.Unlock()
		if err != nil {
			p.Stop()
			return &PumpError{Side: SideSink, Err: err}
		}
		if flusher != nil {
			flusher.Flush()
		}
	}
}

func (p *Pump) readLoop() {
	for {
		p.mu.Lock()
		for p.paused && !p.stopped {
			p.cond.Wait()
		}
		stopped := p.stopped
		p.mu.Unlock()
		if stopped {
			return
		}

		buf := make([]byte, p.chunkSize)
		n, err := p.src.Read(buf)

		p.mu.Lock()
		if n > 0 && !p.stopped {
			p.queue = append(p.queue, buf[:n])
			p.queued += n
			if p.queued >= p.highWater {
				p.paused = true
				p.pauses++
				if p.onPause != nil {
					p.onPause()
				}
			}
		}
		if err != nil {
			p.srcDone = true
			p.srcErr = err
		}
		p.cond.Broadcast()
		p.mu.Unlock()

		if err != nil {
			return
		}
	}
}

// Stop stops both loops. It is safe to call more than once. A read
// blocked in the source returns only when the source is closed.
func (p *Pump) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stopped {
		return
	}
	p.stopped = true
	p.queue = nil
	p.queued = 0
	p.cond.Broadcast()
}

// Written returns the number of bytes written to the sink.
func (p *Pump) Written() int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.written
}

// Pauses returns how many times the source was paused.
func (p *Pump) Pauses() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.pauses
}
