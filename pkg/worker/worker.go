// Package worker runs the child side of the thumbnail channel: it decodes
// request frames from a byte stream, renders each one and writes back a
// response frame.
package worker

import (
	"context"
	"errors"
	"fmt"
	"image"
	"io"
	"log/slog"
	"time"

	"github.com/docker/go-units"

	"github.com/docker/themethumb/pkg/protocol"
)

const defaultReadSize = 4096

// Renderer draws a preview for one request. Any error or nil image is reported
// to the parent as "no result".
type Renderer interface {
	Render(ctx context.Context, req protocol.Request) (*image.NRGBA, error)
}

// Resolver is implemented by renderers that can fill in fields a request
// leaves empty, such as the parts of a meta theme. The worker resolves a
// request before substituting the default font.
type Resolver interface {
	Resolve(req protocol.Request) protocol.Request
}

// RendererFunc adapts a function to Renderer.
type RendererFunc func(ctx context.Context, req protocol.Request) (*image.NRGBA, error)

func (f RendererFunc) Render(ctx context.Context, req protocol.Request) (*image.NRGBA, error) {
	return f(ctx, req)
}

type Option func(*Worker)

// WithReadSize sets the size of the buffer used for each read from the
// request stream.
func WithReadSize(n int) Option {
	return func(w *Worker) {
		if n > 0 {
			w.readSize = n
		}
	}
}

// WithDefaultFont overrides the font substituted for requests without one.
func WithDefaultFont(font string) Option {
	return func(w *Worker) {
		if font != "" {
			w.defaultFont = font
		}
	}
}

// Worker is the render loop. It is not safe for concurrent use; Serve owns it.
type Worker struct {
	renderer    Renderer
	decoder     protocol.RequestDecoder
	readSize    int
	defaultFont string
	rendered    int
}

func New(renderer Renderer, opts ...Option) *Worker {
	w := &Worker{
		renderer:    renderer,
		readSize:    defaultReadSize,
		defaultFont: protocol.DefaultFont,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Serve reads requests from r and writes responses to out until r reaches
// EOF, which is a clean shutdown and returns nil. Any other read error, a
// write error or a malformed request stream is fatal and returned. Serve
// returns ctx.Err() once ctx is done, without answering further requests;
// a Read blocked at that point is abandoned.
func (w *Worker) Serve(ctx context.Context, r io.Reader, out io.Writer) error {
	slog.Debug("Render worker serving")

	reads := make(chan readResult)
	stop := make(chan struct{})
	defer close(stop)
	go w.readLoop(r, reads, stop)

	for {
		select {
		case <-ctx.Done():
			slog.Debug("Render worker cancelled", "rendered", w.rendered, "error", ctx.Err())
			return ctx.Err()
		case res := <-reads:
			if len(res.data) > 0 {
				if err := w.feed(ctx, res.data, out); err != nil {
					return err
				}
			}
			if res.err != nil {
				if errors.Is(res.err, io.EOF) {
					slog.Debug("Request stream closed, render worker exiting", "rendered", w.rendered)
					return nil
				}
				return fmt.Errorf("reading request stream: %w", res.err)
			}
		}
	}
}

type readResult struct {
	data []byte
	err  error
}

// readLoop forwards chunks of r to reads in order, ending after the first
// error or once stop is closed.
func (w *Worker) readLoop(r io.Reader, reads chan<- readResult, stop <-chan struct{}) {
	for {
		buf := make([]byte, w.readSize)
		n, err := r.Read(buf)
		select {
		case reads <- readResult{data: buf[:n], err: err}:
		case <-stop:
			return
		}
		if err != nil {
			return
		}
	}
}

// feed pushes one chunk through the decoder, answering every frame the chunk
// completes.
func (w *Worker) feed(ctx context.Context, chunk []byte, out io.Writer) error {
	for len(chunk) > 0 {
		if err := ctx.Err(); err != nil {
			return err
		}
		n, done, err := w.decoder.Feed(chunk)
		if err != nil {
			return fmt.Errorf("decoding request: %w", err)
		}
		chunk = chunk[n:]
		if !done {
			continue
		}

		result := w.handle(ctx)
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := protocol.EncodeResponse(out, result); err != nil {
			return fmt.Errorf("writing response: %w", err)
		}
		w.decoder.Reset()
	}
	return nil
}

func (w *Worker) handle(ctx context.Context) *protocol.PixelBuffer {
	req, err := w.decoder.Request()
	if err != nil {
		slog.Warn("Discarding undecodable request", "error", err)
		return nil
	}
	if resolver, ok := w.renderer.(Resolver); ok {
		req = resolver.Resolve(req)
	}
	if req.Font == "" {
		req.Font = w.defaultFont
	}

	start := time.Now()
	img, err := w.render(ctx, req)
	if err != nil {
		slog.Debug("Render failed", "kind", req.Kind, "error", err)
		return nil
	}

	result := protocol.FromImage(img)
	w.rendered++
	slog.Debug("Rendered thumbnail",
		"kind", req.Kind,
		"width", result.Width,
		"height", result.Height,
		"size", units.HumanSize(float64(result.Size())),
		"elapsed", time.Since(start))
	return result
}

// render calls the renderer and turns panics and empty surfaces into errors,
// so that the protocol only ever sees an empty result.
func (w *Worker) render(ctx context.Context, req protocol.Request) (img *image.NRGBA, err error) {
	defer func() {
		if r := recover(); r != nil {
			img, err = nil, fmt.Errorf("renderer panic: %v", r)
		}
	}()

	img, err = w.renderer.Render(ctx, req)
	if err != nil {
		return nil, err
	}
	if img == nil || img.Bounds().Empty() {
		return nil, errors.New("renderer returned no surface")
	}
	if b := img.Bounds(); b.Dx() > protocol.MaxDimension || b.Dy() > protocol.MaxDimension {
		return nil, fmt.Errorf("surface too large: %dx%d", b.Dx(), b.Dy())
	}
	return img, nil
}
