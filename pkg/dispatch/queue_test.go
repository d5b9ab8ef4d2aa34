package dispatch

import (
	"encoding/binary"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/docker/themethumb/pkg/protocol"
)

// fakeWorker sits on the far side of two in-memory pipes. Every request frame
// it decodes is published on frames; the test decides when and what to answer.
type fakeWorker struct {
	t        *testing.T
	requests *io.PipeReader // worker reads requests here
	replies  *io.PipeWriter // worker writes responses here
	frames   chan []byte
}

func newQueue(t *testing.T, opts ...Option) (*Queue, *fakeWorker) {
	t.Helper()

	reqR, reqW := io.Pipe()
	respR, respW := io.Pipe()

	fw := &fakeWorker{t: t, requests: reqR, replies: respW, frames: make(chan []byte, 64)}
	go fw.readLoop()

	q := New(respR, reqW, opts...)
	t.Cleanup(func() {
		_ = respW.Close()
		_ = reqR.Close()
		<-q.Done()
	})
	return q, fw
}

func (fw *fakeWorker) readLoop() {
	defer close(fw.frames)
	var d protocol.RequestDecoder
	var raw []byte
	buf := make([]byte, 7)
	for {
		n, err := fw.requests.Read(buf)
		chunk := buf[:n]
		for len(chunk) > 0 {
			used, done, ferr := d.Feed(chunk)
			if ferr != nil {
				return
			}
			raw = append(raw, chunk[:used]...)
			chunk = chunk[used:]
			if done {
				fw.frames <- raw
				raw = nil
				d.Reset()
			}
		}
		if err != nil {
			return
		}
	}
}

func (fw *fakeWorker) next() []byte {
	fw.t.Helper()
	select {
	case f, ok := <-fw.frames:
		require.True(fw.t, ok, "request stream closed")
		return f
	case <-time.After(5 * time.Second):
		fw.t.Fatal("timed out waiting for a request frame")
		return nil
	}
}

func (fw *fakeWorker) quiet(d time.Duration) {
	fw.t.Helper()
	select {
	case f := <-fw.frames:
		fw.t.Fatalf("unexpected request frame while another is in flight: %q", f)
	case <-time.After(d):
	}
}

func (fw *fakeWorker) reply(w, h int32, pixels []byte) {
	fw.t.Helper()
	frame := binary.NativeEndian.AppendUint32(nil, uint32(w))
	frame = binary.NativeEndian.AppendUint32(frame, uint32(h))
	frame = append(frame, pixels...)
	_, err := fw.replies.Write(frame)
	require.NoError(fw.t, err)
}

func (fw *fakeWorker) replyOne() {
	fw.reply(1, 1, []byte{0, 0, 0, 255})
}

type outcome struct {
	name   string
	result *protocol.PixelBuffer
}

type recorder struct {
	mu      sync.Mutex
	results []outcome
	drops   map[string]int
	notify  chan struct{}
}

func newRecorder() *recorder {
	return &recorder{drops: map[string]int{}, notify: make(chan struct{}, 128)}
}

func (r *recorder) request(kind protocol.Kind, name string) *Request {
	req := &Request{
		Request: protocol.Request{Kind: kind},
		Name:    name,
		Callback: func(res *protocol.PixelBuffer, name string) {
			r.mu.Lock()
			r.results = append(r.results, outcome{name: name, result: res})
			r.mu.Unlock()
			r.notify <- struct{}{}
		},
		OnDrop: func() {
			r.mu.Lock()
			r.drops[name]++
			r.mu.Unlock()
		},
	}
	switch kind {
	case protocol.KindWidget:
		req.WidgetTheme = name
	case protocol.KindWindowDecoration:
		req.WMTheme = name
	case protocol.KindIcon:
		req.IconTheme = name
	case protocol.KindMeta:
		req.WidgetTheme = name
		req.WMTheme = name
		req.IconTheme = name
	}
	return req
}

func (r *recorder) wait(t *testing.T, n int) []outcome {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for {
		r.mu.Lock()
		got := len(r.results)
		r.mu.Unlock()
		if got >= n {
			break
		}
		select {
		case <-r.notify:
		case <-deadline:
			t.Fatalf("timed out waiting for %d callbacks, got %d", n, got)
		}
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]outcome(nil), r.results...)
}

func (r *recorder) names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var names []string
	for _, o := range r.results {
		names = append(names, o.name)
	}
	return names
}

func TestWorkedExample(t *testing.T) {
	t.Parallel()

	q, fw := newQueue(t)
	rec := newRecorder()

	q.Enqueue(rec.request(protocol.KindWidget, "Menta"))
	q.Enqueue(rec.request(protocol.KindIcon, "mate"))

	assert.Equal(t, []byte("ctk\x00Menta\x00\x00\x00\x00\x00"), fw.next())
	fw.quiet(50 * time.Millisecond)

	fw.reply(2, 1, []byte{1, 2, 3, 4, 5, 6, 7, 8})
	first := rec.wait(t, 1)[0]
	assert.Equal(t, "Menta", first.name)
	require.NotNil(t, first.result)
	assert.Equal(t, uint32(2), first.result.Width)
	assert.Equal(t, uint32(1), first.result.Height)
	assert.Equal(t, []byte{1, 2, 3, 4, 5, 6, 7, 8}, first.result.Pixels)

	assert.Equal(t, []byte("icon\x00\x00\x00\x00mate\x00\x00"), fw.next())
	fw.reply(0, 0, nil)
	second := rec.wait(t, 2)[1]
	assert.Equal(t, "mate", second.name)
	assert.Nil(t, second.result)

	assert.Empty(t, rec.drops, "OnDrop must not run on normal completion")
}

func TestCallbacksFireInEnqueueOrder(t *testing.T) {
	t.Parallel()

	q, fw := newQueue(t)
	rec := newRecorder()

	const n = 25
	var want []string
	for i := range n {
		name := string(rune('a'+i%26)) + string(rune('A'+i/26))
		want = append(want, name)
		q.Enqueue(rec.request(protocol.Kinds()[i%4], name))
	}

	for range n {
		fw.next()
		fw.quiet(5 * time.Millisecond)
		fw.replyOne()
	}

	rec.wait(t, n)
	assert.Equal(t, want, rec.names())
	assert.Equal(t, uint64(n), q.Stats().Dispatched)
	assert.Zero(t, q.Stats().Outstanding)
}

func TestResponseSplitAcrossWrites(t *testing.T) {
	t.Parallel()

	q, fw := newQueue(t)
	rec := newRecorder()

	q.Enqueue(rec.request(protocol.KindIcon, "mate"))
	fw.next()

	frame := binary.NativeEndian.AppendUint32(nil, 2)
	frame = binary.NativeEndian.AppendUint32(frame, 2)
	frame = append(frame, make([]byte, 16)...)
	for _, b := range frame {
		_, err := fw.replies.Write([]byte{b})
		require.NoError(t, err)
	}

	got := rec.wait(t, 1)[0]
	require.NotNil(t, got.result)
	assert.Len(t, got.result.Pixels, 16)
}

func TestChannelDeathFlushesInFIFOOrder(t *testing.T) {
	t.Parallel()

	var deathErr error
	died := make(chan struct{})
	q, fw := newQueue(t, WithOnDeath(func(err error) {
		deathErr = err
		close(died)
	}))
	rec := newRecorder()

	names := []string{"one", "two", "three", "four", "five"}
	for _, name := range names {
		q.Enqueue(rec.request(protocol.KindWidget, name))
	}
	fw.next()

	require.NoError(t, fw.replies.Close())

	results := rec.wait(t, len(names))
	for i, o := range results {
		assert.Equal(t, names[i], o.name)
		assert.Nil(t, o.result)
	}

	select {
	case <-q.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("queue did not finish dying")
	}
	<-died
	require.ErrorIs(t, deathErr, ErrChannelClosed)
	require.ErrorIs(t, q.Err(), ErrChannelClosed)
	assert.False(t, q.Alive())

	rec.mu.Lock()
	for _, name := range names {
		assert.Equal(t, 1, rec.drops[name], "OnDrop for %s", name)
	}
	rec.mu.Unlock()

	// After death requests resolve synchronously, without touching the pipes.
	late := rec.request(protocol.KindIcon, "late")
	q.Enqueue(late)
	rec.mu.Lock()
	assert.Equal(t, 1, rec.drops["late"])
	assert.Equal(t, "late", rec.results[len(rec.results)-1].name)
	assert.Nil(t, rec.results[len(rec.results)-1].result)
	rec.mu.Unlock()

	res, err := q.TrySync(t.Context(), protocol.Request{Kind: protocol.KindIcon})
	require.NoError(t, err)
	assert.Nil(t, res)

	stats := q.Stats()
	assert.Equal(t, uint64(len(names)+1), stats.Dropped)
	assert.Zero(t, stats.Outstanding)
}

func TestEnqueueDuringFlushResolvesLast(t *testing.T) {
	t.Parallel()

	q, fw := newQueue(t)
	rec := newRecorder()

	retry := rec.request(protocol.KindIcon, "retry")
	first := rec.request(protocol.KindWidget, "first")
	cb := first.Callback
	first.Callback = func(res *protocol.PixelBuffer, name string) {
		cb(res, name)
		q.Enqueue(retry)
	}
	q.Enqueue(first)
	q.Enqueue(rec.request(protocol.KindWidget, "second"))
	fw.next()

	require.NoError(t, fw.replies.Close())

	rec.wait(t, 3)
	assert.Equal(t, []string{"first", "second", "retry"}, rec.names())
	<-q.Done()

	rec.mu.Lock()
	defer rec.mu.Unlock()
	assert.Equal(t, 1, rec.drops["retry"])
}

func TestUnexpectedResponseKillsChannel(t *testing.T) {
	t.Parallel()

	q, fw := newQueue(t)
	fw.replyOne()

	select {
	case <-q.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("queue survived a stray response")
	}
	require.ErrorIs(t, q.Err(), ErrUnexpectedResponse)
}

func TestOversizedResponseKillsChannel(t *testing.T) {
	t.Parallel()

	q, fw := newQueue(t)
	rec := newRecorder()
	q.Enqueue(rec.request(protocol.KindIcon, "mate"))
	fw.next()
	fw.reply(protocol.MaxDimension+1, 1, nil)

	got := rec.wait(t, 1)
	assert.Nil(t, got[0].result)
	<-q.Done()
	require.ErrorIs(t, q.Err(), protocol.ErrFrameTooLarge)
}

func TestEnqueueFromCallback(t *testing.T) {
	t.Parallel()

	q, fw := newQueue(t)
	rec := newRecorder()

	follow := rec.request(protocol.KindIcon, "follow-up")
	first := rec.request(protocol.KindWidget, "first")
	cb := first.Callback
	first.Callback = func(res *protocol.PixelBuffer, name string) {
		cb(res, name)
		q.Enqueue(follow)
	}
	q.Enqueue(first)
	q.Enqueue(rec.request(protocol.KindWindowDecoration, "second"))

	for range 3 {
		fw.next()
		fw.replyOne()
	}

	rec.wait(t, 3)
	assert.Equal(t, []string{"first", "second", "follow-up"}, rec.names())
}

func TestTrySync(t *testing.T) {
	t.Parallel()

	t.Run("idle channel renders", func(t *testing.T) {
		t.Parallel()

		q, fw := newQueue(t)
		go func() {
			fw.next()
			fw.reply(1, 1, []byte{9, 9, 9, 9})
		}()

		res, err := q.TrySync(t.Context(), protocol.Request{Kind: protocol.KindIcon, IconTheme: "mate"})
		require.NoError(t, err)
		require.NotNil(t, res)
		assert.Equal(t, []byte{9, 9, 9, 9}, res.Pixels)
	})

	t.Run("busy channel returns nil without side effects", func(t *testing.T) {
		t.Parallel()

		q, fw := newQueue(t)
		rec := newRecorder()
		q.Enqueue(rec.request(protocol.KindWidget, "Menta"))
		fw.next()

		res, err := q.TrySync(t.Context(), protocol.Request{Kind: protocol.KindIcon, IconTheme: "mate"})
		require.NoError(t, err)
		assert.Nil(t, res)
		fw.quiet(50 * time.Millisecond)

		fw.replyOne()
		rec.wait(t, 1)
		assert.Equal(t, uint64(1), q.Stats().Dispatched)
	})

	t.Run("from a callback returns nil", func(t *testing.T) {
		t.Parallel()

		q, fw := newQueue(t)
		rec := newRecorder()
		var inner *protocol.PixelBuffer
		var innerErr error
		req := rec.request(protocol.KindWidget, "Menta")
		cb := req.Callback
		req.Callback = func(res *protocol.PixelBuffer, name string) {
			inner, innerErr = q.TrySync(t.Context(), protocol.Request{Kind: protocol.KindIcon})
			cb(res, name)
		}
		q.Enqueue(req)
		fw.next()
		fw.replyOne()

		rec.wait(t, 1)
		require.NoError(t, innerErr)
		assert.Nil(t, inner)
	})

	t.Run("async requests wait behind a sync render", func(t *testing.T) {
		t.Parallel()

		q, fw := newQueue(t)
		rec := newRecorder()

		syncDone := make(chan *protocol.PixelBuffer, 1)
		go func() {
			res, _ := q.TrySync(t.Context(), protocol.Request{Kind: protocol.KindIcon, IconTheme: "sync"})
			syncDone <- res
		}()
		assert.Contains(t, string(fw.next()), "sync")

		q.Enqueue(rec.request(protocol.KindIcon, "async"))
		fw.quiet(50 * time.Millisecond)

		fw.replyOne()
		assert.NotNil(t, <-syncDone)

		assert.Contains(t, string(fw.next()), "async")
		fw.replyOne()
		rec.wait(t, 1)
	})
}

type mapCache struct {
	mu     sync.Mutex
	values map[protocol.Request]*protocol.PixelBuffer
}

func (c *mapCache) Lookup(req protocol.Request) (*protocol.PixelBuffer, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.values[req]
	return v, ok
}

func (c *mapCache) Store(req protocol.Request, res *protocol.PixelBuffer) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.values[req] = res
}

func TestCacheHitsKeepFIFOPosition(t *testing.T) {
	t.Parallel()

	cache := &mapCache{values: map[protocol.Request]*protocol.PixelBuffer{}}
	q, fw := newQueue(t, WithCache(cache))
	rec := newRecorder()

	q.Enqueue(rec.request(protocol.KindIcon, "mate"))
	fw.next()
	fw.replyOne()
	rec.wait(t, 1)

	q.Enqueue(rec.request(protocol.KindWidget, "Menta"))
	q.Enqueue(rec.request(protocol.KindIcon, "mate"))
	q.Enqueue(rec.request(protocol.KindWidget, "Other"))

	fw.next()
	fw.quiet(30 * time.Millisecond)
	fw.replyOne()

	fw.next()
	fw.replyOne()

	rec.wait(t, 4)
	assert.Equal(t, []string{"mate", "Menta", "mate", "Other"}, rec.names())
	assert.Equal(t, uint64(1), q.Stats().CacheHits)
	assert.Equal(t, uint64(3), q.Stats().Dispatched)
}

func TestInvalidRequestResolvesNil(t *testing.T) {
	t.Parallel()

	q, fw := newQueue(t)
	rec := newRecorder()

	bad := rec.request(protocol.KindWidget, "bad")
	bad.WidgetTheme = "bad\x00theme"
	q.Enqueue(bad)
	q.Enqueue(rec.request(protocol.KindIcon, "good"))

	fw.next()
	fw.replyOne()

	got := rec.wait(t, 2)
	assert.Equal(t, "bad", got[0].name)
	assert.Nil(t, got[0].result)
	assert.NotNil(t, got[1].result)
}

func TestClosedQueue(t *testing.T) {
	t.Parallel()

	q := Closed(io.ErrClosedPipe)
	rec := newRecorder()
	q.Enqueue(rec.request(protocol.KindIcon, "mate"))

	got := rec.wait(t, 1)
	assert.Nil(t, got[0].result)
	assert.Equal(t, 1, rec.drops["mate"])
	assert.False(t, q.Alive())
	require.ErrorIs(t, q.Err(), io.ErrClosedPipe)
}
