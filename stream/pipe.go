// vidvault/stream/pipe.go

// Package stream moves bytes from a source producer to a storage sink
// through a bounded chunk channel. Memory in flight is capped at
// capacity × chunk size; a slow consumer blocks the producer and a slow
// producer blocks the consumer.
package stream

import (
	"context"
	"io"
	"sync"
	"time"
)

const (
	DefaultChunkSize = 8 * 1024 * 1024
	DefaultCapacity  = 50

	// Progress callbacks fire at most this often.
	progressInterval = 500 * time.Millisecond
)

// ProgressFunc receives the running byte count and the total size if it
// is known up front, -1 otherwise.
type ProgressFunc func(bytesSoFar, totalBytes int64)

// chunk is created by the producer, handed to the channel, and drained by
// the consumer. It is never mutated after creation. A nil data slice is
// the end-of-stream sentinel.
type chunk struct {
	seq  int64
	data []byte
}

// Pipe is a bounded FIFO of byte chunks between one producer goroutine
// and one consumer. The consumer side implements io.Reader.
type Pipe struct {
	ch        chan chunk
	chunkSize int

	cancel context.CancelFunc

	mu      sync.Mutex
	prodErr error // producer-side failure, surfaced after EOF

	// consumer-only state, not guarded: Read is single-caller by contract
	rebuf []byte
	eof   bool
	seen  int64

	total      int64
	onProgress ProgressFunc
	lastReport time.Time
}

// Option configures a Pipe.
type Option func(*Pipe)

func WithChunkSize(n int) Option {
	return func(p *Pipe) {
		if n > 0 {
			p.chunkSize = n
		}
	}
}

func WithCapacity(n int) Option {
	return func(p *Pipe) {
		if n > 0 {
			p.ch = make(chan chunk, n)
		}
	}
}

// WithTotalSize declares the expected total byte count for progress
// reporting. Use when the source advertises a size.
func WithTotalSize(n int64) Option {
	return func(p *Pipe) { p.total = n }
}

func WithProgress(fn ProgressFunc) Option {
	return func(p *Pipe) { p.onProgress = fn }
}

// NewPipe starts a producer goroutine that reads fixed-size chunks from
// src and pushes them into the bounded channel. The returned Pipe is the
// consumer side. Closing the pipe (or cancelling ctx) terminates the
// producer and discards queued chunks.
func NewPipe(ctx context.Context, src io.Reader, opts ...Option) *Pipe {
	p := &Pipe{
		chunkSize: DefaultChunkSize,
		total:     -1,
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.ch == nil {
		p.ch = make(chan chunk, DefaultCapacity)
	}

	ctx, p.cancel = context.WithCancel(ctx)
	go p.fill(ctx, src)
	return p
}

// fill is the producer loop. On end-of-data or read error it pushes the
// sentinel so the consumer never blocks forever.
func (p *Pipe) fill(ctx context.Context, src io.Reader) {
	var seq int64
	for {
		buf := make([]byte, p.chunkSize)
		n, err := io.ReadFull(src, buf)
		if n > 0 {
			select {
			case p.ch <- chunk{seq: seq, data: buf[:n]}:
				seq++
			case <-ctx.Done():
				p.setErr(ctx.Err())
				p.pushSentinel(ctx, seq)
				return
			}
		}
		if err != nil {
			if err != io.EOF && err != io.ErrUnexpectedEOF {
				p.setErr(err)
			}
			p.pushSentinel(ctx, seq)
			return
		}
	}
}

func (p *Pipe) pushSentinel(ctx context.Context, seq int64) {
	select {
	case p.ch <- chunk{seq: seq}:
	case <-ctx.Done():
		// Consumer is gone; nothing is draining the channel anymore.
	}
}

func (p *Pipe) setErr(err error) {
	p.mu.Lock()
	if p.prodErr == nil {
		p.prodErr = err
	}
	p.mu.Unlock()
}

// Read satisfies io.Reader for the sink. It blocks until at least one
// chunk is available or end-of-stream, never returns more than len(buf)
// bytes, and only returns short reads at true end-of-stream. A request
// larger than a single chunk aggregates as many chunks as are needed.
func (p *Pipe) Read(buf []byte) (int, error) {
	if len(buf) == 0 {
		return 0, nil
	}
	for !p.eof && len(p.rebuf) < len(buf) {
		c, ok := <-p.ch
		if !ok || c.data == nil {
			p.eof = true
			break
		}
		p.rebuf = append(p.rebuf, c.data...)
	}

	if len(p.rebuf) == 0 {
		if err := p.Err(); err != nil {
			return 0, err
		}
		return 0, io.EOF
	}

	n := copy(buf, p.rebuf)
	p.rebuf = p.rebuf[n:]
	p.seen += int64(n)
	p.report(false)
	return n, nil
}

func (p *Pipe) report(final bool) {
	if p.onProgress == nil {
		return
	}
	now := time.Now()
	if !final && now.Sub(p.lastReport) < progressInterval {
		return
	}
	p.lastReport = now
	p.onProgress(p.seen, p.total)
}

// BytesRead is the number of bytes handed to the consumer so far.
func (p *Pipe) BytesRead() int64 {
	return p.seen
}

// Err returns the producer-side failure, if any. Meaningful once Read has
// returned io.EOF: a non-nil result means the stream was truncated by a
// source error rather than ending normally.
func (p *Pipe) Err() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.prodErr
}

// Close terminates the producer and discards queued chunks so the
// goroutine is not leaked when the sink fails mid-upload. Safe to call
// more than once.
func (p *Pipe) Close() error {
	p.cancel()
	// Drain whatever the producer managed to queue before it observed
	// cancellation, including the sentinel.
	for {
		select {
		case c := <-p.ch:
			if c.data == nil {
				p.report(true)
				return nil
			}
		default:
			p.report(true)
			return nil
		}
	}
}
