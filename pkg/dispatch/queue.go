// Package dispatch multiplexes thumbnail requests over a single worker
// channel. Exactly one request is in flight at a time; the rest wait in a
// FIFO backlog. When the channel dies every outstanding request is resolved
// to nil, in the order it was enqueued, and later requests resolve to nil
// immediately.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/docker/themethumb/pkg/protocol"
)

const readChunkSize = 64 * 1024

var (
	// ErrChannelClosed is recorded when the response stream reaches EOF.
	ErrChannelClosed = errors.New("dispatch: channel closed")
	// ErrUnexpectedResponse is recorded when a response arrives while
	// nothing is in flight. The stream cannot be trusted after that.
	ErrUnexpectedResponse = errors.New("dispatch: response without request in flight")
)

// Callback receives the rendered thumbnail, or nil when there is none, along
// with the request's correlation name.
type Callback func(result *protocol.PixelBuffer, name string)

// Request is a render request plus its delivery hooks.
type Request struct {
	protocol.Request

	// Name is echoed back to Callback; usually the theme name.
	Name     string
	Callback Callback
	// OnDrop runs once, after Callback, when the request is discarded
	// because the channel died. It never runs on normal completion.
	OnDrop func()

	ctx  context.Context
	sync chan *protocol.PixelBuffer
}

func (r *Request) complete(result *protocol.PixelBuffer) {
	if r.sync != nil {
		r.sync <- result
		return
	}
	if r.Callback != nil {
		r.Callback(result, r.Name)
	}
}

func (r *Request) drop() {
	r.complete(nil)
	if r.OnDrop != nil {
		r.OnDrop()
	}
}

// Cache lets the queue answer a request without a round trip to the worker.
// Lookup runs when the request reaches the head of the queue, so cached
// answers keep their FIFO position.
type Cache interface {
	Lookup(req protocol.Request) (*protocol.PixelBuffer, bool)
	Store(req protocol.Request, result *protocol.PixelBuffer)
}

type Option func(*Queue)

// WithCache installs a result cache.
func WithCache(c Cache) Option {
	return func(q *Queue) {
		q.cache = c
	}
}

// WithOnDeath registers fn to run on the dispatcher goroutine when the
// channel dies, before outstanding requests are resolved. The supervisor uses
// it to close descriptors and reap the worker.
func WithOnDeath(fn func(error)) Option {
	return func(q *Queue) {
		q.onDeath = fn
	}
}

// Stats is a point-in-time snapshot of queue counters.
type Stats struct {
	Alive       bool
	Outstanding int64
	Dispatched  uint64
	Completed   uint64
	Dropped     uint64
	CacheHits   uint64
}

// Queue owns the channel state. inFlight, backlog, decoder and the write end
// are only touched by the dispatcher goroutine.
type Queue struct {
	r       io.Reader
	w       io.Writer
	cache   Cache
	onDeath func(error)

	mu      sync.Mutex
	inbox   []*Request
	dead    bool
	flushed bool
	err     error

	pending chan struct{}
	chunks  chan []byte
	readErr chan error
	done    chan struct{}

	inFlight *Request
	backlog  []*Request
	decoder  protocol.ResponseDecoder

	inCallback  atomic.Bool
	outstanding atomic.Int64
	dispatched  atomic.Uint64
	completed   atomic.Uint64
	dropped     atomic.Uint64
	cacheHits   atomic.Uint64
}

// New starts a queue that writes request frames to w and reads response
// frames from r. The queue is alive until r reports EOF or an error.
func New(r io.Reader, w io.Writer, opts ...Option) *Queue {
	q := &Queue{
		r:       r,
		w:       w,
		pending: make(chan struct{}, 1),
		chunks:  make(chan []byte),
		readErr: make(chan error, 1),
		done:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(q)
	}

	go q.readLoop()
	go q.run()
	return q
}

// Closed returns a queue that is dead from the start. Every request resolves
// to nil immediately. It stands in for a channel that could not be set up.
func Closed(err error) *Queue {
	q := &Queue{dead: true, flushed: true, err: err, done: make(chan struct{})}
	close(q.done)
	return q
}

// Enqueue hands req to the dispatcher and returns without waiting. Once a
// dead channel has been flushed, req's Callback (with nil) and OnDrop run
// before Enqueue returns; while the flush is running req joins the end of it.
// It is safe to call from within a Callback.
func (q *Queue) Enqueue(req *Request) {
	q.mu.Lock()
	if q.dead && q.flushed {
		q.mu.Unlock()
		q.dropped.Add(1)
		req.drop()
		return
	}
	q.inbox = append(q.inbox, req)
	q.outstanding.Add(1)
	dead := q.dead
	q.mu.Unlock()
	if !dead {
		q.nudge()
	}
}

// TrySync renders req synchronously, bypassing the backlog. It only proceeds
// when nothing is in flight or queued and the channel is alive; otherwise it
// returns nil at once without side effects. It also returns nil when called
// from a Callback, since the request being delivered is still in flight.
func (q *Queue) TrySync(ctx context.Context, req protocol.Request) (*protocol.PixelBuffer, error) {
	if q.inCallback.Load() {
		return nil, nil
	}

	q.mu.Lock()
	if q.dead || q.outstanding.Load() > 0 {
		q.mu.Unlock()
		return nil, nil
	}
	r := &Request{Request: req, ctx: ctx, sync: make(chan *protocol.PixelBuffer, 1)}
	q.inbox = append(q.inbox, r)
	q.outstanding.Add(1)
	q.mu.Unlock()
	q.nudge()

	select {
	case res := <-r.sync:
		return res, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Alive reports whether the channel is still usable.
func (q *Queue) Alive() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return !q.dead
}

// Err returns why the channel died, or nil while it is alive.
func (q *Queue) Err() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.err
}

// Done is closed once the channel has died and every outstanding request has
// been resolved.
func (q *Queue) Done() <-chan struct{} {
	return q.done
}

func (q *Queue) Stats() Stats {
	return Stats{
		Alive:       q.Alive(),
		Outstanding: q.outstanding.Load(),
		Dispatched:  q.dispatched.Load(),
		Completed:   q.completed.Load(),
		Dropped:     q.dropped.Load(),
		CacheHits:   q.cacheHits.Load(),
	}
}

func (q *Queue) nudge() {
	select {
	case q.pending <- struct{}{}:
	default:
	}
}

func (q *Queue) readLoop() {
	for {
		buf := make([]byte, readChunkSize)
		n, err := q.r.Read(buf)
		if n > 0 {
			select {
			case q.chunks <- buf[:n]:
			case <-q.done:
				return
			}
		}
		if err != nil {
			select {
			case q.readErr <- err:
			case <-q.done:
			}
			return
		}
	}
}

func (q *Queue) run() {
	defer close(q.done)
	for {
		select {
		case <-q.pending:
			q.drainInbox()
		case chunk := <-q.chunks:
			if err := q.handleChunk(chunk); err != nil {
				q.die(err)
				return
			}
		case err := <-q.readErr:
			if errors.Is(err, io.EOF) {
				err = ErrChannelClosed
			}
			q.die(err)
			return
		}
	}
}

func (q *Queue) drainInbox() {
	q.mu.Lock()
	items := q.inbox
	q.inbox = nil
	q.mu.Unlock()

	for _, r := range items {
		if r.sync == nil {
			q.backlog = append(q.backlog, r)
			continue
		}
		if q.inFlight != nil || len(q.backlog) > 0 || r.ctx.Err() != nil {
			q.outstanding.Add(-1)
			r.sync <- nil
			continue
		}
		q.dispatch(r)
	}
	q.advance()
}

// advance dispatches backlog items until one is in flight or the backlog is
// empty. Cache hits and invalid requests resolve without going in flight.
func (q *Queue) advance() {
	for q.inFlight == nil && len(q.backlog) > 0 {
		next := q.backlog[0]
		q.backlog[0] = nil
		q.backlog = q.backlog[1:]
		q.dispatch(next)
	}
}

func (q *Queue) dispatch(r *Request) {
	if q.cache != nil {
		if res, ok := q.cache.Lookup(r.Request); ok {
			q.cacheHits.Add(1)
			q.deliver(r, res)
			return
		}
	}

	frame, err := protocol.AppendRequest(nil, r.Request)
	if err != nil {
		slog.Warn("Rejecting invalid thumbnail request", "name", r.Name, "error", err)
		q.deliver(r, nil)
		return
	}

	q.inFlight = r
	q.dispatched.Add(1)
	if _, err := q.w.Write(frame); err != nil {
		// Best effort: if the worker is gone the read side reports it.
		slog.Warn("Failed to write thumbnail request", "name", r.Name, "kind", r.Kind, "error", err)
	}
}

func (q *Queue) handleChunk(chunk []byte) error {
	for len(chunk) > 0 {
		n, done, err := q.decoder.Feed(chunk)
		if err != nil {
			return err
		}
		chunk = chunk[n:]
		if !done {
			continue
		}

		res := q.decoder.Result()
		r := q.inFlight
		if r == nil {
			return ErrUnexpectedResponse
		}
		if res != nil && q.cache != nil {
			q.cache.Store(r.Request, res)
		}

		// The callback observes the request as still in flight; it is
		// cleared before the next backlog item goes out.
		q.deliver(r, res)
		q.inFlight = nil
		q.advance()
	}
	return nil
}

func (q *Queue) deliver(r *Request, res *protocol.PixelBuffer) {
	q.outstanding.Add(-1)
	q.completed.Add(1)

	q.inCallback.Store(true)
	defer q.inCallback.Store(false)
	defer func() {
		if p := recover(); p != nil {
			slog.Error("Thumbnail callback panicked", "name", r.Name, "panic", fmt.Sprint(p))
		}
	}()
	r.complete(res)
}

// die moves the queue to its terminal state and resolves everything that is
// outstanding in FIFO order: the in-flight request, then the backlog, then
// anything still in the inbox.
func (q *Queue) die(err error) {
	q.mu.Lock()
	q.dead = true
	q.err = err
	inbox := q.inbox
	q.inbox = nil
	q.mu.Unlock()

	victims := make([]*Request, 0, 1+len(q.backlog)+len(inbox))
	if q.inFlight != nil {
		victims = append(victims, q.inFlight)
		q.inFlight = nil
	}
	victims = append(victims, q.backlog...)
	victims = append(victims, inbox...)
	q.backlog = nil

	if errors.Is(err, ErrChannelClosed) {
		slog.Debug("Thumbnail channel closed", "outstanding", len(victims))
	} else {
		slog.Warn("Thumbnail channel died", "error", err, "outstanding", len(victims))
	}

	if q.onDeath != nil {
		q.onDeath(err)
	}

	for {
		for _, r := range victims {
			q.outstanding.Add(-1)
			q.dropped.Add(1)
			q.dropOne(r)
		}

		// Requests enqueued during the flush, possibly by the callbacks
		// above, go last.
		q.mu.Lock()
		victims, q.inbox = q.inbox, nil
		if len(victims) == 0 {
			q.flushed = true
			q.mu.Unlock()
			return
		}
		q.mu.Unlock()
	}
}

func (q *Queue) dropOne(r *Request) {
	defer func() {
		if p := recover(); p != nil {
			slog.Error("Thumbnail drop handler panicked", "name", r.Name, "panic", fmt.Sprint(p))
		}
	}()
	r.drop()
}
