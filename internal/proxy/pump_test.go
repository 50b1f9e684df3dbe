package proxy

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"sync/atomic"
	"testing"
	"testing/iotest"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// countingReader counts the bytes read from r.
type countingReader struct {
	r io.Reader
	n atomic.Int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n.Add(int64(n))
	return n, err
}

// gatedWriter blocks every write until the gate is closed.
type gatedWriter struct {
	gate chan struct{}
	buf  bytes.Buffer
}

func (g *gatedWriter) Write(p []byte) (int, error) {
	<-g.gate
	return g.buf.Write(p)
}

type failingWriter struct{}

func (failingWriter) Write([]byte) (int, error) {
	return 0, errors.New("broken pipe")
}

func TestPump_CopiesEverything(t *testing.T) {
	t.Parallel()

	payload := strings.Repeat("0123456789", 10_000)
	var dst bytes.Buffer
	p := NewPump(iotest.HalfReader(strings.NewReader(payload)), &dst, WithChunkSize(1024))

	require.NoError(t, p.Run(context.Background()))
	assert.Equal(t, payload, dst.String())
	assert.Equal(t, int64(len(payload)), p.Written())
}

func TestPump_PausesAboveHighWaterMark(t *testing.T) {
	t.Parallel()

	src := &countingReader{r: strings.NewReader(strings.Repeat("x", 100))}
	dst := &gatedWriter{gate: make(chan struct{})}
	p := NewPump(src, dst, WithChunkSize(10), WithWaterMarks(30, 10))

	done := make(chan error, 1)
	go func() { done <- p.Run(context.Background()) }()

	require.Eventually(t, func() bool { return p.Pauses() >= 1 }, time.Second, time.Millisecond)

	// The reader stops at the high-water mark plus the chunk held by the
	// blocked write.
	time.Sleep(20 * time.Millisecond)
	assert.LessOrEqual(t, src.n.Load(), int64(40))

	close(dst.gate)
	require.NoError(t, <-done)
	assert.Equal(t, strings.Repeat("x", 100), dst.buf.String())
}

func TestPump_SinkError(t *testing.T) {
	t.Parallel()

	p := NewPump(strings.NewReader("data"), failingWriter{})
	err := p.Run(context.Background())

	require.Error(t, err)
	assert.ErrorIs(t, err, &PumpError{Side: SideSink})
	assert.NotErrorIs(t, err, &PumpError{Side: SideSource})
	assert.Contains(t, err.Error(), "broken pipe")
}

func TestPump_SourceError(t *testing.T) {
	t.Parallel()

	srcErr := errors.New("connection reset by peer")
	var dst bytes.Buffer
	p := NewPump(io.MultiReader(strings.NewReader("head"), iotest.ErrReader(srcErr)), &dst)
	err := p.Run(context.Background())

	require.Error(t, err)
	assert.ErrorIs(t, err, &PumpError{Side: SideSource})
	assert.ErrorIs(t, err, srcErr)
	assert.Equal(t, "head", dst.String(), "bytes read before the failure are delivered")
}

func TestPump_StopIsIdempotent(t *testing.T) {
	t.Parallel()

	pr, pw := io.Pipe()
	defer pw.Close()

	var dst bytes.Buffer
	p := NewPump(pr, &dst)

	done := make(chan error, 1)
	go func() { done <- p.Run(context.Background()) }()

	p.Stop()
	p.Stop()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, ErrPumpStopped)
	case <-time.After(time.Second):
		t.Fatal("pump did not stop")
	}
	p.Stop()
}

func TestPump_ContextCancel(t *testing.T) {
	t.Parallel()

	pr, pw := io.Pipe()
	defer pw.Close()

	ctx, cancel := context.WithCancel(context.Background())
	p := NewPump(pr, io.Discard)

	done := make(chan error, 1)
	go func() { done <- p.Run(ctx) }()
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, ErrPumpStopped)
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("pump did not stop")
	}
}

func TestNewPump_Defaults(t *testing.T) {
	t.Parallel()

	p := NewPump(strings.NewReader(""), io.Discard, WithChunkSize(0), WithWaterMarks(100, 200))
	assert.Equal(t, DefaultPumpChunkSize, p.chunkSize)
	assert.Equal(t, 100, p.highWater)
	assert.Equal(t, 50, p.lowWater)
}
