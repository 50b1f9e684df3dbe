package filter

import (
	"bytes"
	"context"
	"errors"
	"io"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/vyrodovalexey/filterproxy/internal/observability"
)

// filterTracerName is the OpenTelemetry tracer name for filter operations.
const filterTracerName = "filterproxy/filter"

// chunkSize is the read size used for non-chunked bodies.
const chunkSize = 32 * 1024

// TransformFunc rewrites a complete body or a single chunk.
type TransformFunc func(ctx context.Context, in []byte) ([]byte, error)

// Options are passed to every filter factory.
type Options struct {
	// Chunked selects accumulate-then-transform mode.
	Chunked bool

	// Pool runs the transform. Nil runs it on the caller's goroutine.
	Pool *Pool

	Logger observability.Logger
}

// Base implements the chunk handling shared by all filters. Concrete
// filters embed it and supply the transform.
type Base struct {
	name      string
	chunked   bool
	transform TransformFunc
	pool      *Pool
	logger    observability.Logger
	metrics   *FilterMetrics

	buf       bytes.Buffer
	collected bool
}

// NewBase creates the shared filter state.
func NewBase(name string, opts Options, transform TransformFunc) *Base {
	logger := opts.Logger
	if logger == nil {
		logger = observability.NopLogger()
	}
	return &Base{
		name:      name,
		chunked:   opts.Chunked,
		transform: transform,
		pool:      opts.Pool,
		logger:    logger,
		metrics:   GetFilterMetrics(),
	}
}

// Name returns the filter id.
func (b *Base) Name() string {
	return b.name
}

// Chunked reports whether the filter accumulates the body.
func (b *Base) Chunked() bool {
	return b.chunked
}

// Apply wraps body with the transform.
func (b *Base) Apply(ctx context.Context, body io.Reader) (io.Reader, error) {
	return &filterReader{
		ctx:   ctx,
		base:  b,
		src:   body,
		chunk: make([]byte, chunkSize),
	}, nil
}

// End transforms the accumulated body and writes a non-empty result to
// dst. It does nothing for non-chunked filters or when no bytes arrived.
func (b *Base) End(ctx context.Context, dst io.Writer) error {
	if !b.chunked {
		return nil
	}
	if !b.collected {
		b.logger.Debug("no buffered content to transform",
			observability.String("filter", b.name))
		return nil
	}

	out := b.run(ctx, b.buf.Bytes())
	b.buf.Reset()
	b.collected = false

	if len(out) == 0 {
		return nil
	}
	_, err := dst.Write(out)
	return err
}

func (b *Base) collect(p []byte) {
	b.buf.Write(p)
	b.collected = true
}

// run applies the transform in the pool. A failed transform is logged and
// the input is passed through.
func (b *Base) run(ctx context.Context, in []byte) []byte {
	ctx, span := otel.Tracer(filterTracerName).Start(ctx, "filter.transform",
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(
			attribute.String("filter.name", b.name),
			attribute.Bool("filter.chunked", b.chunked),
			attribute.Int("filter.input_bytes", len(in)),
		),
	)
	defer span.End()

	start := time.Now()
	var out []byte
	err := b.pool.Do(ctx, func(ctx context.Context) error {
		var terr error
		out, terr = b.transform(ctx, in)
		return terr
	})
	b.metrics.transformDuration.WithLabelValues(b.name).Observe(time.Since(start).Seconds())

	if err != nil {
		b.metrics.transformsTotal.WithLabelValues(b.name, resultError).Inc()
		observability.RecordError(span, err)
		b.logger.Warn("filter transform failed, passing content through",
			observability.String("filter", b.name),
			observability.Int("bytes", len(in)),
			observability.Error(err))
		return append([]byte(nil), in...)
	}

	b.metrics.transformsTotal.WithLabelValues(b.name, resultSuccess).Inc()
	span.SetAttributes(attribute.Int("filter.output_bytes", len(out)))
	return out
}

// filterReader feeds the source through the filter. In chunked mode it
// drains the source into the filter buffer and yields nothing.
type filterReader struct {
	ctx     context.Context
	base    *Base
	src     io.Reader
	chunk   []byte
	pending []byte
	err     error
}

func (r *filterReader) Read(p []byte) (int, error) {
	for len(r.pending) == 0 {
		if r.err != nil {
			return 0, r.err
		}
		n, err := r.read()
		if n > 0 {
			if r.base.chunked {
				r.base.collect(r.chunk[:n])
			} else {
				r.pending = r.base.run(r.ctx, r.chunk[:n])
			}
		}
		if err != nil {
			r.err = err
		}
	}

	n := copy(p, r.pending)
	r.pending = r.pending[n:]
	return n, nil
}

// read fills the chunk buffer so that non-chunked transforms see whole
// chunks regardless of how the source splits its reads.
func (r *filterReader) read() (int, error) {
	if r.base.chunked {
		return r.src.Read(r.chunk)
	}
	n, err := io.ReadFull(r.src, r.chunk)
	if errors.Is(err, io.ErrUnexpectedEOF) {
		err = io.EOF
	}
	return n, err
}
