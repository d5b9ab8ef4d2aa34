// Package thumbcache keeps rendered thumbnails so that repeated requests do
// not round-trip through the worker. It has an in-memory tier with expiry and
// an optional SQLite tier that survives restarts.
package thumbcache

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/patrickmn/go-cache"

	"github.com/docker/themethumb/pkg/protocol"
	"github.com/docker/themethumb/pkg/sqliteutil"
	"github.com/docker/themethumb/pkg/themes"
)

const (
	DefaultTTL      = 30 * time.Minute
	cleanupInterval = 5 * time.Minute
)

type entry struct {
	req protocol.Request
	res *protocol.PixelBuffer
}

type Option func(*Cache)

// WithTTL sets how long thumbnails stay in memory.
func WithTTL(ttl time.Duration) Option {
	return func(c *Cache) {
		if ttl > 0 {
			c.ttl = ttl
		}
	}
}

// WithPersistentPath enables the SQLite tier at path.
func WithPersistentPath(path string) Option {
	return func(c *Cache) {
		c.path = path
	}
}

// WithNamespace separates entries rendered under different settings, such as
// a different thumbnail scale.
func WithNamespace(ns string) Option {
	return func(c *Cache) {
		c.namespace = ns
	}
}

// Cache implements dispatch.Cache. It is safe for concurrent use.
type Cache struct {
	ttl       time.Duration
	path      string
	namespace string

	mem *cache.Cache
	db  *sql.DB
}

// Stats describes what the cache holds.
type Stats struct {
	MemoryItems     int
	PersistentItems int
	PersistentBytes int64
	Path            string
}

func New(opts ...Option) (*Cache, error) {
	c := &Cache{ttl: DefaultTTL}
	for _, opt := range opts {
		opt(c)
	}
	c.mem = cache.New(c.ttl, cleanupInterval)

	if c.path != "" {
		db, err := sqliteutil.OpenDB(c.path)
		if err != nil {
			return nil, fmt.Errorf("opening thumbnail cache: %w", err)
		}
		if err := migrate(context.Background(), db); err != nil {
			db.Close()
			return nil, fmt.Errorf("migrating thumbnail cache: %w", err)
		}
		c.db = db
	}
	return c, nil
}

func migrate(ctx context.Context, db *sql.DB) error {
	return sqliteutil.Migrate(ctx, db, `
		CREATE TABLE IF NOT EXISTS thumbnails (
			key TEXT PRIMARY KEY,
			kind TEXT NOT NULL,
			widget_theme TEXT NOT NULL,
			wm_theme TEXT NOT NULL,
			icon_theme TEXT NOT NULL,
			width INTEGER NOT NULL,
			height INTEGER NOT NULL,
			pixels BLOB NOT NULL,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS thumbnails_widget ON thumbnails (widget_theme)`,
		`CREATE INDEX IF NOT EXISTS thumbnails_wm ON thumbnails (wm_theme)`,
		`CREATE INDEX IF NOT EXISTS thumbnails_icon ON thumbnails (icon_theme)`,
	)
}

// Key is the cache key for req: a digest of the request frame, so that any
// field difference is a different entry.
func (c *Cache) Key(req protocol.Request) (string, error) {
	frame, err := protocol.AppendRequest([]byte(c.namespace+"\x00"), req)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(frame)
	return hex.EncodeToString(sum[:]), nil
}

// Persistent reports whether the SQLite tier is enabled.
func (c *Cache) Persistent() bool {
	return c.db != nil
}

// Lookup returns the cached thumbnail for req. The caller owns the returned
// buffer.
func (c *Cache) Lookup(req protocol.Request) (*protocol.PixelBuffer, bool) {
	key, err := c.Key(req)
	if err != nil {
		return nil, false
	}
	if v, ok := c.mem.Get(key); ok {
		return v.(*entry).res.Clone(), true
	}
	if c.db == nil {
		return nil, false
	}

	res := &protocol.PixelBuffer{}
	err = c.db.QueryRowContext(context.Background(),
		`SELECT width, height, pixels FROM thumbnails WHERE key = ?`, key,
	).Scan(&res.Width, &res.Height, &res.Pixels)
	if err != nil {
		if !errors.Is(err, sql.ErrNoRows) {
			slog.Warn("Thumbnail cache read failed", "error", err)
		}
		return nil, false
	}
	if uint64(len(res.Pixels)) != uint64(res.Width)*uint64(res.Height)*4 || res.Empty() {
		slog.Warn("Discarding corrupt cached thumbnail", "kind", req.Kind)
		c.deleteKey(key)
		return nil, false
	}

	c.mem.SetDefault(key, &entry{req: req, res: res.Clone()})
	return res, true
}

// Store records a copy of a rendered thumbnail. Empty results are not
// cached.
func (c *Cache) Store(req protocol.Request, res *protocol.PixelBuffer) {
	if res.Empty() {
		return
	}
	key, err := c.Key(req)
	if err != nil {
		return
	}
	c.mem.SetDefault(key, &entry{req: req, res: res.Clone()})

	if c.db == nil {
		return
	}
	_, err = c.db.ExecContext(context.Background(), `
		INSERT OR REPLACE INTO thumbnails (key, kind, widget_theme, wm_theme, icon_theme, width, height, pixels, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, CURRENT_TIMESTAMP)
	`, key, req.Kind.Tag(), req.WidgetTheme, req.WMTheme, req.IconTheme, res.Width, res.Height, res.Pixels)
	if err != nil {
		slog.Warn("Thumbnail cache write failed", "error", err)
	}
}

// InvalidateTheme drops every thumbnail that was rendered from theme ref, in
// any role. It returns how many entries were removed.
func (c *Cache) InvalidateTheme(ctx context.Context, ref string) (int, error) {
	ref = strings.TrimPrefix(ref, themes.UserThemePrefix)
	removed := 0
	for key, item := range c.mem.Items() {
		e := item.Object.(*entry)
		if e.req.WidgetTheme == ref || e.req.WMTheme == ref || e.req.IconTheme == ref {
			c.mem.Delete(key)
			removed++
		}
	}
	if c.db == nil {
		return removed, nil
	}

	res, err := c.db.ExecContext(ctx,
		`DELETE FROM thumbnails WHERE widget_theme = ? OR wm_theme = ? OR icon_theme = ?`, ref, ref, ref)
	if err != nil {
		return removed, fmt.Errorf("invalidating theme %q: %w", ref, err)
	}
	if n, err := res.RowsAffected(); err == nil {
		removed = max(removed, int(n))
	}
	return removed, nil
}

// Purge empties both tiers.
func (c *Cache) Purge(ctx context.Context) error {
	c.mem.Flush()
	if c.db == nil {
		return nil
	}
	if _, err := c.db.ExecContext(ctx, `DELETE FROM thumbnails`); err != nil {
		return fmt.Errorf("purging thumbnail cache: %w", err)
	}
	_, err := c.db.ExecContext(ctx, `VACUUM`)
	return err
}

func (c *Cache) Stats(ctx context.Context) (Stats, error) {
	s := Stats{MemoryItems: c.mem.ItemCount(), Path: c.path}
	if c.db == nil {
		return s, nil
	}
	err := c.db.QueryRowContext(ctx,
		`SELECT COUNT(*), COALESCE(SUM(LENGTH(pixels)), 0) FROM thumbnails`,
	).Scan(&s.PersistentItems, &s.PersistentBytes)
	if err != nil {
		return s, fmt.Errorf("reading thumbnail cache stats: %w", err)
	}
	return s, nil
}

func (c *Cache) Close() error {
	c.mem.Flush()
	if c.db == nil {
		return nil
	}
	return c.db.Close()
}

func (c *Cache) deleteKey(key string) {
	c.mem.Delete(key)
	if c.db != nil {
		_, _ = c.db.ExecContext(context.Background(), `DELETE FROM thumbnails WHERE key = ?`, key)
	}
}
