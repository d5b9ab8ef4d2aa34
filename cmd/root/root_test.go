package root

import (
	"bytes"
	"context"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/docker/themethumb/pkg/protocol"
	"github.com/docker/themethumb/pkg/render"
)

const workerEnv = "THEMETHUMB_CMD_TEST_WORKER"

// TestMain lets the test binary stand in for the themethumb binary when a
// test configures it as the worker command.
func TestMain(m *testing.M) {
	if os.Getenv(workerEnv) != "" {
		err := Execute(context.Background(), os.Stdin, os.Stdout, os.Stderr, "worker")
		if err != nil {
			os.Exit(1)
		}
		os.Exit(0)
	}
	os.Exit(m.Run())
}

func run(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	err := Execute(t.Context(), nil, &stdout, &stderr, args...)
	return stdout.String(), stderr.String(), err
}

// isolate points the user directories at a temp dir and returns a config
// path inside it.
func isolate(t *testing.T) string {
	t.Helper()
	home := t.TempDir()
	t.Setenv("HOME", home)
	t.Setenv("XDG_CACHE_HOME", filepath.Join(home, ".cache"))
	t.Setenv("THEMETHUMB_THEMES_DIR", "")
	return filepath.Join(home, "config.yaml")
}

func TestVersion(t *testing.T) {
	stdout, _, err := run(t, "version")
	require.NoError(t, err)
	assert.Contains(t, stdout, "themethumb version dev")
}

func TestUnknownCommand(t *testing.T) {
	_, stderr, err := run(t, "frobnicate")
	require.Error(t, err)
	assert.Contains(t, stderr, `unknown command "frobnicate"`)
}

func TestWorkerIsHidden(t *testing.T) {
	stdout, _, err := run(t, "--help")
	require.NoError(t, err)
	assert.Contains(t, stdout, "render")
	assert.NotContains(t, stdout, "Serve thumbnail render requests")
}

func TestConfigInitAndShow(t *testing.T) {
	configPath := isolate(t)

	stdout, _, err := run(t, "--config", configPath, "config", "init")
	require.NoError(t, err)
	assert.Contains(t, stdout, "Wrote "+configPath)

	_, _, err = run(t, "--config", configPath, "config", "init")
	require.ErrorContains(t, err, "already exists")

	require.NoError(t, os.WriteFile(configPath, []byte("render:\n  scale: 2\n"), 0o644))
	stdout, _, err = run(t, "--config", configPath, "config", "init")
	require.Error(t, err)
	assert.Contains(t, stdout, "-  scale: 2", "diff against the defaults")

	_, _, err = run(t, "--config", configPath, "config", "init", "--force")
	require.NoError(t, err)

	stdout, _, err = run(t, "--config", configPath, "config", "show")
	require.NoError(t, err)
	assert.Contains(t, stdout, "version: v1")
	assert.Contains(t, stdout, "default_font: Sans 10")

	stdout, _, err = run(t, "--config", configPath, "config", "path")
	require.NoError(t, err)
	assert.Equal(t, configPath+"\n", stdout)
}

func TestInvalidConfigIsReported(t *testing.T) {
	configPath := isolate(t)
	require.NoError(t, os.WriteFile(configPath, []byte("cache:\n  ttl: soon\n"), 0o644))

	_, stderr, err := run(t, "--config", configPath, "themes")
	require.Error(t, err)
	assert.Contains(t, stderr, "cache.ttl")
}

func TestThemesListing(t *testing.T) {
	configPath := isolate(t)

	stdout, _, err := run(t, "--config", configPath, "themes")
	require.NoError(t, err)
	assert.Contains(t, stdout, "Menta")
	assert.Contains(t, stdout, "MATE (icon)")

	stdout, _, err = run(t, "--config", configPath, "themes", "--kind", "icon")
	require.NoError(t, err)
	assert.Contains(t, stdout, "MATE (icon)")
	assert.NotContains(t, stdout, "BlueMenta")

	_, _, err = run(t, "--config", configPath, "themes", "--kind", "gtk")
	require.ErrorIs(t, err, protocol.ErrUnknownKind)

	stdout, _, err = run(t, "themes", "--color-schemes")
	require.NoError(t, err)
	assert.Contains(t, stdout, "style:dracula")
}

func TestCacheCommands(t *testing.T) {
	configPath := isolate(t)
	dbPath := filepath.Join(filepath.Dir(configPath), "thumbs.db")
	require.NoError(t, os.WriteFile(configPath, []byte("cache:\n  path: "+dbPath+"\n"), 0o644))

	stdout, _, err := run(t, "--config", configPath, "cache", "stats")
	require.NoError(t, err)
	assert.Contains(t, stdout, "Persistent cache: "+dbPath)
	assert.Contains(t, stdout, "Thumbnails: 0")

	stdout, _, err = run(t, "--config", configPath, "cache", "invalidate", "Menta")
	require.NoError(t, err)
	assert.Equal(t, "Removed 0 thumbnails of Menta.\n", stdout)

	stdout, _, err = run(t, "--config", configPath, "cache", "purge")
	require.NoError(t, err)
	assert.Equal(t, "Thumbnail cache purged.\n", stdout)

	require.NoError(t, os.WriteFile(configPath, []byte("cache:\n  persistent: false\n"), 0o644))
	_, _, err = run(t, "--config", configPath, "cache", "stats")
	require.ErrorContains(t, err, "disabled")
}

func TestRenderTargets(t *testing.T) {
	t.Parallel()

	targets, err := renderTargets(protocol.KindWidget, "Menta", nil, "menta.png")
	require.NoError(t, err)
	assert.Equal(t, []renderTarget{{theme: "Menta", path: "menta.png"}}, targets)

	targets, err = renderTargets(protocol.KindIcon, "", []string{"mate", "user:Plum", "mate"}, "out")
	require.NoError(t, err)
	assert.Equal(t, []renderTarget{
		{theme: "mate", path: filepath.Join("out", "mate-icon.png")},
		{theme: "user:Plum", path: filepath.Join("out", "user_Plum-icon.png")},
	}, targets)

	targets, err = renderTargets(protocol.KindMeta, "Menta", nil, "")
	require.NoError(t, err)
	assert.Equal(t, []renderTarget{{theme: "Menta", path: "Menta-meta.png"}}, targets)

	_, err = renderTargets(protocol.KindMeta, "", nil, "")
	require.Error(t, err)

	_, err = renderTargets(protocol.KindMeta, "Menta", []string{"BlueMenta"}, "-")
	require.Error(t, err)
}

func TestRenderThroughWorker(t *testing.T) {
	configPath := isolate(t)
	self, err := os.Executable()
	require.NoError(t, err)
	t.Setenv(workerEnv, "1")

	require.NoError(t, os.WriteFile(configPath, []byte(`worker:
  command: `+self+`
  args: ["-test.run=^$"]
cache:
  persistent: false
themes:
  watch: false
`), 0o644))

	outDir := t.TempDir()
	stdout, stderr, err := run(t, "--config", configPath, "render", "--kind", "icon", "mate", "BlueMenta", "-o", outDir, "--stats")
	require.Error(t, err, "BlueMenta has no icons")
	assert.Contains(t, stderr, "dispatched")

	stdout, _, err = run(t, "--config", configPath, "render", "--kind", "icon", "--theme", "mate", "-o", filepath.Join(outDir, "mate.png"))
	require.NoError(t, err)
	assert.Contains(t, stdout, "mate.png 48x48")

	f, err := os.Open(filepath.Join(outDir, "mate.png"))
	require.NoError(t, err)
	defer f.Close()
	img, err := png.Decode(f)
	require.NoError(t, err)
	assert.Equal(t, render.Size(protocol.KindIcon), img.Bounds().Size())

	stdout, _, err = run(t, "--config", configPath, "render", "--theme", "Menta", "-o", filepath.Join(outDir, "menta.png"))
	require.NoError(t, err, "meta is the default kind and Menta names its parts")
	assert.Contains(t, stdout, "menta.png 160x112")

	var stdoutPNG bytes.Buffer
	err = Execute(t.Context(), nil, &stdoutPNG, &bytes.Buffer{}, "--config", configPath, "render", "--kind", "ctk", "--theme", "Menta", "-o", "-")
	require.NoError(t, err)
	decoded, err := png.Decode(&stdoutPNG)
	require.NoError(t, err)
	assert.Equal(t, render.Size(protocol.KindWidget), decoded.Bounds().Size())
}
