// Package thumbnail is the entry point GUI code uses to obtain theme
// previews. A Service owns one render worker process and serialises every
// request through it; when the worker is gone every request resolves to a nil
// thumbnail.
package thumbnail

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/docker/themethumb/pkg/dispatch"
	"github.com/docker/themethumb/pkg/protocol"
	"github.com/docker/themethumb/pkg/supervisor"
	"github.com/docker/themethumb/pkg/themes"
	"github.com/docker/themethumb/pkg/thumbcache"
	"github.com/docker/themethumb/pkg/userconfig"
)

const tracerName = "github.com/docker/themethumb/pkg/thumbnail"

// ErrNoThumbnail is returned by Render when the worker produced nothing,
// either because rendering failed or because the channel is dead.
var ErrNoThumbnail = errors.New("thumbnail: no thumbnail rendered")

type Option func(*Service)

// WithConfig sets the user configuration. Without it every setting has its
// default value.
func WithConfig(cfg *userconfig.Config) Option {
	return func(s *Service) {
		if cfg != nil {
			s.config = cfg
		}
	}
}

// WithSupervisorOptions is applied after the options derived from the
// configuration, so it can override them.
func WithSupervisorOptions(opts ...supervisor.Option) Option {
	return func(s *Service) {
		s.supervisorOpts = append(s.supervisorOpts, opts...)
	}
}

// WithWorkerLogFile makes the default worker log at debug level to path.
func WithWorkerLogFile(path string) Option {
	return func(s *Service) {
		s.workerLog = path
	}
}

func WithTracer(tracer trace.Tracer) Option {
	return func(s *Service) {
		s.tracer = tracer
	}
}

// Stats is a snapshot of the service.
type Stats struct {
	State supervisor.State
	Pid   int
	Queue dispatch.Stats
	Cache *thumbcache.Stats
}

type Service struct {
	config         *userconfig.Config
	supervisorOpts []supervisor.Option
	workerLog      string
	tracer         trace.Tracer

	sup     *supervisor.Supervisor
	queue   *dispatch.Queue
	cache   *thumbcache.Cache
	watcher *themes.Watcher
}

// New starts the render worker. ctx bounds the worker's lifetime.
//
// When the worker cannot be started New returns the error together with a
// usable Service whose requests all resolve to nil.
func New(ctx context.Context, opts ...Option) (*Service, error) {
	s := &Service{
		config: &userconfig.Config{},
		tracer: otel.Tracer(tracerName),
	}
	for _, opt := range opts {
		opt(s)
	}

	if s.config.CacheEnabled() {
		s.cache = openCache(s.config)
	}

	s.sup = supervisor.New(s.buildSupervisorOptions()...)
	q, err := s.sup.Start(ctx)
	if err != nil {
		slog.Error("Thumbnail worker unavailable, thumbnails disabled", "error", err)
		s.queue = dispatch.Closed(err)
		return s, err
	}
	s.queue = q

	if s.cache != nil && s.config.WatchThemes() {
		s.watchThemes()
	}
	return s, nil
}

func openCache(cfg *userconfig.Config) *thumbcache.Cache {
	opts := []thumbcache.Option{
		thumbcache.WithTTL(cfg.CacheTTL()),
		thumbcache.WithNamespace(cfg.CacheNamespace()),
	}
	if path := cfg.CachePath(); path != "" {
		c, err := thumbcache.New(append(opts, thumbcache.WithPersistentPath(path))...)
		if err == nil {
			return c
		}
		slog.Warn("Persistent thumbnail cache unavailable, using memory only", "path", path, "error", err)
	}
	c, err := thumbcache.New(opts...)
	if err != nil {
		slog.Warn("Thumbnail cache unavailable", "error", err)
		return nil
	}
	return c
}

func (s *Service) buildSupervisorOptions() []supervisor.Option {
	var opts []supervisor.Option

	if command, args := s.config.WorkerCommand(); command != "" {
		opts = append(opts, supervisor.WithCommand(command, args...))
	} else {
		var args []string
		if _, err := os.Stat(s.config.File()); err == nil {
			args = append(args, "--config", s.config.File())
		}
		if s.workerLog != "" {
			args = append(args, "--debug", "--log-file", s.workerLog)
		}
		opts = append(opts, supervisor.WithArgs(args...))
	}

	opts = append(opts, supervisor.WithShutdownTimeout(s.config.ShutdownTimeout()))
	if s.cache != nil {
		opts = append(opts, supervisor.WithQueueOptions(dispatch.WithCache(s.cache)))
	}
	return append(opts, s.supervisorOpts...)
}

// watchThemes drops cached thumbnails of a theme whenever its file changes.
// The worker reloads the file on its own.
func (s *Service) watchThemes() {
	s.watcher = themes.NewWatcher(func(ref string) {
		n, err := s.cache.InvalidateTheme(context.Background(), ref)
		if err != nil {
			slog.Warn("Failed to invalidate cached thumbnails", "theme", ref, "error", err)
			return
		}
		slog.Debug("Invalidated cached thumbnails", "theme", ref, "count", n)
	})
	if err := s.watcher.Watch(s.config.ThemeDirs()...); err != nil {
		slog.Warn("Not watching theme directories", "error", err)
		s.watcher = nil
	}
}

// NewRequest builds the wire request for kind, filling only the fields that
// kind uses. For the single-theme kinds the theme comes from the matching
// name argument, falling back to themeName.
func NewRequest(kind protocol.Kind, themeName, colorScheme, wmThemeName, iconThemeName, font string) protocol.Request {
	req := protocol.Request{Kind: kind}
	switch kind {
	case protocol.KindMeta:
		req.WidgetTheme = themeName
		req.ColorScheme = colorScheme
		req.WMTheme = wmThemeName
		req.IconTheme = iconThemeName
		req.Font = font
	case protocol.KindWidget:
		req.WidgetTheme = themeName
		req.ColorScheme = colorScheme
	case protocol.KindWindowDecoration:
		req.WMTheme = cmp.Or(wmThemeName, themeName)
	case protocol.KindIcon:
		req.IconTheme = cmp.Or(iconThemeName, themeName)
	}
	return req
}

// RequestThumbnail queues a render and returns at once. callback receives
// the thumbnail, or nil, together with themeName. Callbacks run one at a
// time in request order.
func (s *Service) RequestThumbnail(kind protocol.Kind, themeName, colorScheme, wmThemeName, iconThemeName, font string, callback dispatch.Callback) {
	s.RequestThumbnailWithDrop(kind, themeName, colorScheme, wmThemeName, iconThemeName, font, callback, nil)
}

// RequestThumbnailWithDrop is RequestThumbnail with a hook that runs after
// callback when the request is discarded because the worker died.
func (s *Service) RequestThumbnailWithDrop(kind protocol.Kind, themeName, colorScheme, wmThemeName, iconThemeName, font string, callback dispatch.Callback, onDrop func()) {
	req := NewRequest(kind, themeName, colorScheme, wmThemeName, iconThemeName, font)
	id := uuid.NewString()
	span := s.startSpan(id, req)

	slog.Debug("Thumbnail requested", "id", id, "kind", kind, "theme", themeName)

	s.queue.Enqueue(&dispatch.Request{
		Request: req,
		Name:    themeName,
		Callback: func(res *protocol.PixelBuffer, name string) {
			endSpan(span, id, res)
			if callback != nil {
				callback(res, name)
			}
		},
		OnDrop: onDrop,
	})
}

// TrySync renders synchronously when nothing else is queued or in flight.
// Otherwise, or when the worker is gone, it returns nil at once.
func (s *Service) TrySync(ctx context.Context, kind protocol.Kind, themeName, colorScheme, wmThemeName, iconThemeName, font string) *protocol.PixelBuffer {
	req := NewRequest(kind, themeName, colorScheme, wmThemeName, iconThemeName, font)
	id := uuid.NewString()
	span := s.startSpan(id, req, attribute.Bool("thumbnail.sync", true))

	res, err := s.queue.TrySync(ctx, req)
	if err != nil {
		slog.Debug("Synchronous thumbnail abandoned", "id", id, "error", err)
		span.RecordError(err)
	}
	endSpan(span, id, res)
	return res
}

// Render queues a request and waits for it. It returns ErrNoThumbnail when
// the worker produced nothing.
func (s *Service) Render(ctx context.Context, kind protocol.Kind, themeName, colorScheme, wmThemeName, iconThemeName, font string) (*protocol.PixelBuffer, error) {
	done := make(chan *protocol.PixelBuffer, 1)
	s.RequestThumbnail(kind, themeName, colorScheme, wmThemeName, iconThemeName, font, func(res *protocol.PixelBuffer, _ string) {
		done <- res
	})

	select {
	case res := <-done:
		if res != nil {
			return res, nil
		}
		if err := s.queue.Err(); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrNoThumbnail, err)
		}
		return nil, ErrNoThumbnail
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Alive reports whether requests can still reach the worker.
func (s *Service) Alive() bool {
	return s.queue.Alive()
}

// Err returns why the worker channel is dead, or nil.
func (s *Service) Err() error {
	return s.queue.Err()
}

func (s *Service) Stats(ctx context.Context) Stats {
	st := Stats{
		State: s.sup.State(),
		Pid:   s.sup.Pid(),
		Queue: s.queue.Stats(),
	}
	if s.cache != nil {
		cs, err := s.cache.Stats(ctx)
		if err != nil {
			slog.Warn("Failed to read thumbnail cache stats", "error", err)
		}
		st.Cache = &cs
	}
	return st
}

// Close stops the worker. Outstanding requests resolve to nil before Close
// returns.
func (s *Service) Close(ctx context.Context) error {
	if s.watcher != nil {
		s.watcher.Stop()
	}
	var errs []error
	if err := s.sup.Close(ctx); err != nil {
		errs = append(errs, fmt.Errorf("stopping worker: %w", err))
	}
	if s.cache != nil {
		if err := s.cache.Close(); err != nil {
			errs = append(errs, fmt.Errorf("closing thumbnail cache: %w", err))
		}
	}
	return errors.Join(errs...)
}

func (s *Service) startSpan(id string, req protocol.Request, extra ...attribute.KeyValue) trace.Span {
	attrs := append([]attribute.KeyValue{
		attribute.String("thumbnail.id", id),
		attribute.String("thumbnail.kind", req.Kind.String()),
		attribute.String("thumbnail.widget_theme", req.WidgetTheme),
		attribute.String("thumbnail.wm_theme", req.WMTheme),
		attribute.String("thumbnail.icon_theme", req.IconTheme),
	}, extra...)
	_, span := s.tracer.Start(context.Background(), "thumbnail.request", trace.WithAttributes(attrs...))
	return span
}

func endSpan(span trace.Span, id string, res *protocol.PixelBuffer) {
	defer span.End()
	if res == nil {
		slog.Debug("Thumbnail unavailable", "id", id)
		span.SetStatus(codes.Error, "no thumbnail")
		return
	}
	slog.Debug("Thumbnail delivered", "id", id, "width", res.Width, "height", res.Height)
	span.SetAttributes(
		attribute.Int("thumbnail.width", int(res.Width)),
		attribute.Int("thumbnail.height", int(res.Height)),
	)
	span.SetStatus(codes.Ok, "")
}
