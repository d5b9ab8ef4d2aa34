package thumbcache

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/docker/themethumb/pkg/protocol"
)

var (
	mentaWidget = protocol.Request{Kind: protocol.KindWidget, WidgetTheme: "Menta", Font: "Sans 10"}
	mateIcon    = protocol.Request{Kind: protocol.KindIcon, IconTheme: "mate", Font: "Sans 10"}
	mentaMeta   = protocol.Request{Kind: protocol.KindMeta, WidgetTheme: "Menta", WMTheme: "Menta", IconTheme: "mate", Font: "Sans 10"}
)

func pixels(w, h uint32, v byte) *protocol.PixelBuffer {
	p := make([]byte, w*h*4)
	for i := range p {
		p[i] = v
	}
	return &protocol.PixelBuffer{Width: w, Height: h, Pixels: p}
}

func TestMemoryTier(t *testing.T) {
	t.Parallel()

	c, err := New()
	require.NoError(t, err)
	defer c.Close()
	assert.False(t, c.Persistent())

	_, ok := c.Lookup(mentaWidget)
	assert.False(t, ok)

	c.Store(mentaWidget, pixels(2, 1, 7))
	got, ok := c.Lookup(mentaWidget)
	require.True(t, ok)
	assert.Equal(t, pixels(2, 1, 7), got)

	// A different font is a different thumbnail.
	other := mentaWidget
	other.Font = "Sans 12"
	_, ok = c.Lookup(other)
	assert.False(t, ok)
}

func TestCachedBuffersAreNotShared(t *testing.T) {
	t.Parallel()

	c, err := New(WithPersistentPath(filepath.Join(t.TempDir(), "thumbs.db")))
	require.NoError(t, err)
	defer c.Close()

	stored := pixels(2, 1, 7)
	c.Store(mentaWidget, stored)
	stored.Pixels[0] = 99

	first, ok := c.Lookup(mentaWidget)
	require.True(t, ok)
	assert.Equal(t, pixels(2, 1, 7), first)

	first.Pixels[0] = 42
	second, ok := c.Lookup(mentaWidget)
	require.True(t, ok)
	assert.Equal(t, pixels(2, 1, 7), second)
}

func TestEmptyResultsAreNotCached(t *testing.T) {
	t.Parallel()

	c, err := New()
	require.NoError(t, err)
	defer c.Close()

	c.Store(mentaWidget, nil)
	c.Store(mateIcon, &protocol.PixelBuffer{})
	_, ok := c.Lookup(mentaWidget)
	assert.False(t, ok)
	_, ok = c.Lookup(mateIcon)
	assert.False(t, ok)
}

func TestInvalidRequestsAreNeverCached(t *testing.T) {
	t.Parallel()

	c, err := New()
	require.NoError(t, err)
	defer c.Close()

	bad := protocol.Request{Kind: protocol.KindWidget, WidgetTheme: "a\x00b"}
	c.Store(bad, pixels(1, 1, 1))
	_, ok := c.Lookup(bad)
	assert.False(t, ok)
}

func TestPersistentTierSurvivesReopen(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "thumbs.db")

	c, err := New(WithPersistentPath(path))
	require.NoError(t, err)
	assert.True(t, c.Persistent())
	c.Store(mentaWidget, pixels(3, 2, 9))
	require.NoError(t, c.Close())

	reopened, err := New(WithPersistentPath(path))
	require.NoError(t, err)
	defer reopened.Close()

	got, ok := reopened.Lookup(mentaWidget)
	require.True(t, ok)
	assert.Equal(t, pixels(3, 2, 9), got)

	stats, err := reopened.Stats(t.Context())
	require.NoError(t, err)
	assert.Equal(t, 1, stats.PersistentItems)
	assert.Equal(t, int64(3*2*4), stats.PersistentBytes)
	assert.Equal(t, 1, stats.MemoryItems, "lookup promotes into memory")
	assert.Equal(t, path, stats.Path)
}

func TestNamespacesAreSeparate(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "thumbs.db")

	small, err := New(WithPersistentPath(path), WithNamespace("scale=1"))
	require.NoError(t, err)
	small.Store(mateIcon, pixels(1, 1, 1))
	require.NoError(t, small.Close())

	big, err := New(WithPersistentPath(path), WithNamespace("scale=2"))
	require.NoError(t, err)
	defer big.Close()
	_, ok := big.Lookup(mateIcon)
	assert.False(t, ok)
}

func TestInvalidateTheme(t *testing.T) {
	t.Parallel()

	c, err := New(WithPersistentPath(filepath.Join(t.TempDir(), "thumbs.db")))
	require.NoError(t, err)
	defer c.Close()

	c.Store(mentaWidget, pixels(1, 1, 1))
	c.Store(mateIcon, pixels(1, 1, 2))
	c.Store(mentaMeta, pixels(1, 1, 3))

	n, err := c.InvalidateTheme(t.Context(), "user:mate")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	_, ok := c.Lookup(mateIcon)
	assert.False(t, ok)
	_, ok = c.Lookup(mentaMeta)
	assert.False(t, ok)
	_, ok = c.Lookup(mentaWidget)
	assert.True(t, ok)
}

func TestPurge(t *testing.T) {
	t.Parallel()

	c, err := New(WithPersistentPath(filepath.Join(t.TempDir(), "thumbs.db")))
	require.NoError(t, err)
	defer c.Close()

	c.Store(mentaWidget, pixels(1, 1, 1))
	c.Store(mateIcon, pixels(1, 1, 2))
	require.NoError(t, c.Purge(t.Context()))

	stats, err := c.Stats(t.Context())
	require.NoError(t, err)
	assert.Zero(t, stats.MemoryItems)
	assert.Zero(t, stats.PersistentItems)
	assert.Zero(t, stats.PersistentBytes)
}

func TestMemoryEntriesExpire(t *testing.T) {
	t.Parallel()

	c, err := New(WithTTL(20 * time.Millisecond))
	require.NoError(t, err)
	defer c.Close()

	c.Store(mentaWidget, pixels(1, 1, 1))
	_, ok := c.Lookup(mentaWidget)
	require.True(t, ok)

	time.Sleep(50 * time.Millisecond)
	_, ok = c.Lookup(mentaWidget)
	assert.False(t, ok)
}
