// Package chunker2 implements a bounded single-producer/single-consumer
// pipeline that turns a byte-stream write interface into a sequence of
// adaptively-sized chunks, with buffer recycling, a running content hash on
// the consumer side, and precise bilateral failure propagation: either side
// tearing down without a clean finalize poisons the other side's next
// operation.
//
// Exactly two buffers, each of capacity maxChunkSize, are ever allocated per
// pair; they cycle between the Writer and the Reader over the lifetime of an
// upload. A shared, write-once completion cell carries the terminal result
// (success or error), settable only by the Reader's Finalize on the success
// path, by either side on the error path.
package chunker2

import (
	"context"
	"crypto/md5"
	"hash"
	"sync"

	"github.com/tamwuff/scan2blob/internal/errors"
)

var (
	// ErrFileTooLarge is returned when a write would need more than
	// maxNumChunks buffers over the lifetime of the pair.
	ErrFileTooLarge = errors.New("chunker2: exceeded maximum chunk count")
	// ErrUnexpectedEOF is the poison value used when the Writer is closed
	// before a successful Finalize.
	ErrUnexpectedEOF = errors.New("chunker2: unexpected EOF")
	// ErrReaderGone is the poison value used when the Reader is closed
	// before observing Eof, or when the Reader's side is otherwise gone.
	ErrReaderGone = errors.New("chunker2: reader went away")
	// errFinalizeTwice is a programming-error panic value.
	errFinalizeTwice = "chunker2: Finalize called twice"
)

// result is the write-once completion cell shared by a Writer/Reader pair.
type result struct {
	mu  sync.Mutex
	set bool
	err error // nil means clean success
}

// setError populates the cell with a terminal error, if not already set.
// Returns true if this call is the one that set it.
func (r *result) setError(err error) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.set {
		return false
	}
	r.set = true
	r.err = err
	return true
}

// setSuccess populates the cell with success, if not already set.
func (r *result) setSuccess() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.set {
		return false
	}
	r.set = true
	r.err = nil
	return true
}

func (r *result) get() (err error, done bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.err, r.set
}

// pair is the state shared between a Writer and its Reader.
type pair struct {
	full  chan []byte // writer -> reader: filled buffers, and a single nil EOF/error marker
	empty chan []byte // reader -> writer: recycled buffers

	res *result

	done      chan struct{} // closed exactly once, by abort()
	abortOnce sync.Once

	readerFin     chan struct{} // closed exactly once, by Reader.Finalize
	readerFinOnce sync.Once
}

func (p *pair) abort(err error) {
	p.abortOnce.Do(func() {
		p.res.setError(err)
		close(p.done)
	})
}

// New creates a chunker pair. initialChunkSize is the size of the first
// chunk; it doubles (saturating at maxChunkSize) each time a buffer fills.
// maxNumChunks bounds the total number of buffers the Writer may acquire
// over the pair's lifetime; exceeding it yields ErrFileTooLarge.
func New(initialChunkSize, maxChunkSize, maxNumChunks int) (*Writer, *Reader) {
	if initialChunkSize < 1 {
		initialChunkSize = 1
	}
	if maxChunkSize < initialChunkSize {
		maxChunkSize = initialChunkSize
	}
	if maxNumChunks < 1 {
		maxNumChunks = 1
	}

	p := &pair{
		full:      make(chan []byte, 3),
		empty:     make(chan []byte, 3),
		res:       &result{},
		done:      make(chan struct{}),
		readerFin: make(chan struct{}),
	}
	// The double-buffer budget: exactly two buffers, pre-allocated to
	// maxChunkSize capacity, ever exist for this pair.
	p.empty <- make([]byte, 0, maxChunkSize)
	p.empty <- make([]byte, 0, maxChunkSize)

	w := &Writer{
		p:            p,
		chunkSize:    initialChunkSize,
		maxChunkSize: maxChunkSize,
		maxNumChunks: maxNumChunks,
	}
	r := &Reader{
		p:      p,
		hasher: md5.New(),
	}
	return w, r
}

// Writer is the producer side of a chunker pair.
type Writer struct {
	p *pair

	chunkSize    int
	maxChunkSize int
	maxNumChunks int
	numChunks    int

	buf       []byte
	finalized bool
	closed    bool
}

// Write appends data to the current in-progress buffer, acquiring fresh
// buffers from the empty queue as needed, and enqueueing filled buffers on
// the full queue. It suspends when the empty queue is drained (backpressure
// from the consumer) or when the full queue would block (capacity 3 is
// ample for the two-buffer protocol; blocking there only happens if the
// Reader has stopped consuming).
func (w *Writer) Write(ctx context.Context, data []byte) (int, error) {
	if err, done := w.p.res.get(); done && err != nil {
		return 0, err
	}
	written := 0
	for len(data) > 0 {
		if w.buf == nil {
			if w.numChunks >= w.maxNumChunks {
				w.p.abort(ErrFileTooLarge)
				return written, ErrFileTooLarge
			}
			select {
			case buf := <-w.p.empty:
				w.buf = buf
				w.numChunks++
			case <-w.p.done:
				err, _ := w.p.res.get()
				return written, err
			case <-ctx.Done():
				return written, ctx.Err()
			}
			continue
		}

		avail := w.chunkSize - len(w.buf)
		n := len(data)
		if n > avail {
			n = avail
		}
		w.buf = append(w.buf, data[:n]...)
		data = data[n:]
		written += n

		if len(w.buf) >= w.chunkSize {
			full := w.buf
			w.buf = nil
			select {
			case w.p.full <- full:
			case <-w.p.done:
				err, _ := w.p.res.get()
				return written, err
			case <-ctx.Done():
				return written, ctx.Err()
			}
			w.chunkSize *= 2
			if w.chunkSize > w.maxChunkSize || w.chunkSize <= 0 {
				w.chunkSize = w.maxChunkSize
			}
		}
	}
	return written, nil
}

// ObserveError idempotently poisons the completion cell with err and wakes
// the Reader.
func (w *Writer) ObserveError(err error) {
	w.p.abort(err)
}

// Finalize flushes any in-progress buffer (even if partially full), signals
// end-of-stream to the Reader, and waits for the Reader to drain before
// returning the completion cell's value. Calling Finalize twice is a
// programming error.
func (w *Writer) Finalize(ctx context.Context) error {
	if w.finalized {
		panic(errFinalizeTwice)
	}
	w.finalized = true

	if err, done := w.p.res.get(); done && err != nil {
		return err
	}

	if w.buf != nil {
		full := w.buf
		w.buf = nil
		select {
		case w.p.full <- full:
		case <-w.p.done:
			err, _ := w.p.res.get()
			return err
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	select {
	case w.p.full <- nil: // end-of-stream sentinel
	case <-w.p.done:
		err, _ := w.p.res.get()
		return err
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case <-w.p.readerFin:
	case <-w.p.done:
	case <-ctx.Done():
		return ctx.Err()
	}

	err, _ := w.p.res.get()
	return err
}

// Close must be deferred by every caller immediately after construction. If
// Finalize has not completed, it poisons the completion cell as though the
// Writer had been dropped mid-stream. Calling Close after a successful
// Finalize is a no-op.
func (w *Writer) Close() {
	if w.closed {
		return
	}
	w.closed = true
	if !w.finalized {
		w.p.abort(ErrUnexpectedEOF)
	}
}

// Reader is the consumer side of a chunker pair.
type Reader struct {
	p *pair

	hasher hash.Hash
	buf    []byte // most recently delivered buffer, released on the next call

	eofSeen   bool
	finalized bool
	closed    bool
}

// NextChunk releases the previously delivered buffer (if any) back to the
// Writer, then waits for the next chunk. eof is true when the stream has
// ended cleanly; in that case data is nil and the running digest is final.
// Calling NextChunk again after eof was returned is a programming error.
func (r *Reader) NextChunk(ctx context.Context) (data []byte, eof bool, err error) {
	if r.eofSeen {
		panic("chunker2: NextChunk called after Eof")
	}

	if err, done := r.p.res.get(); done && err != nil {
		return nil, false, err
	}

	if r.buf != nil {
		old := r.buf[:0]
		r.buf = nil
		select {
		case r.p.empty <- old:
		case <-r.p.done:
		case <-ctx.Done():
			return nil, false, ctx.Err()
		}
	}

	select {
	case buf := <-r.p.full:
		if buf == nil {
			r.eofSeen = true
			if err, _ := r.p.res.get(); err != nil {
				return nil, false, err
			}
			return nil, true, nil
		}
		r.hasher.Write(buf)
		r.buf = buf
		return buf, false, nil
	case <-r.p.done:
		err, _ := r.p.res.get()
		return nil, false, err
	case <-ctx.Done():
		return nil, false, ctx.Err()
	}
}

// Digest returns the running MD5 hash of every chunk delivered so far. It is
// meaningful once Eof has been observed.
func (r *Reader) Digest() [md5.Size]byte {
	var d [md5.Size]byte
	copy(d[:], r.hasher.Sum(nil))
	return d
}

// ObserveError idempotently poisons the completion cell with err and wakes
// the Writer.
func (r *Reader) ObserveError(err error) {
	r.p.abort(err)
}

// Finalize asserts that Eof was observed, sets the completion cell to
// success if it is still unset, and unblocks the Writer's Finalize. Calling
// Finalize before Eof, or twice, is a programming error.
func (r *Reader) Finalize(ctx context.Context) error {
	if !r.eofSeen {
		panic("chunker2: Finalize called before Eof observed")
	}
	if r.finalized {
		panic(errFinalizeTwice)
	}
	r.finalized = true

	r.p.res.setSuccess()
	r.p.readerFinOnce.Do(func() {
		close(r.p.readerFin)
	})

	err, _ := r.p.res.get()
	return err
}

// Close must be deferred by every caller immediately after construction. If
// Eof was never observed, it poisons the completion cell as though the
// Reader had been dropped mid-stream. Calling Close after a successful
// Finalize is a no-op.
func (r *Reader) Close() {
	if r.closed {
		return
	}
	r.closed = true
	if !r.eofSeen {
		r.p.abort(ErrReaderGone)
	}
}
