package themes

import (
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/goccy/go-yaml"
	orderedmap "github.com/wk8/go-ordered-map/v2"

	"github.com/docker/themethumb/pkg/paths"
	"github.com/docker/themethumb/pkg/protocol"
)

//go:embed builtin/*.yaml
var builtinThemes embed.FS

// DefaultThemeRef is the built-in theme every other theme inherits missing
// colors from.
const DefaultThemeRef = "default"

// UserThemePrefix distinguishes a user theme from a built-in of the same
// name: "user:Menta" is the user's Menta, "Menta" the built-in.
const UserThemePrefix = "user:"

// EnvThemesDir names an extra theme directory searched before the defaults.
const EnvThemesDir = "THEMETHUMB_THEMES_DIR"

const themeGlob = "**/*.{yaml,yml}"

var ErrNotFound = errors.New("themes: theme not found")

// DefaultDirs returns the user theme directories in search order.
func DefaultDirs() []string {
	var dirs []string
	if dir := os.Getenv(EnvThemesDir); dir != "" {
		dirs = append(dirs, dir)
	}
	dirs = append(dirs, filepath.Join(paths.GetDataDir(), "themes"))
	if home := paths.GetHomeDir(); home != "" {
		dirs = append(dirs, filepath.Join(home, ".themes"))
	}
	return dirs
}

type cacheEntry struct {
	theme   *Theme
	modTime time.Time // zero for built-in themes
	path    string    // empty for built-in themes
}

// Catalog resolves theme refs against the built-in set and the user
// directories. Parsed themes are cached; user themes are re-read when their
// file's modTime changes.
type Catalog struct {
	dirs []string

	mu    sync.RWMutex
	cache map[string]*cacheEntry

	builtinOnce sync.Once
	builtinRefs []string
	builtinErr  error
}

func NewCatalog(dirs ...string) *Catalog {
	var clean []string
	for _, d := range dirs {
		if d != "" && !slices.Contains(clean, d) {
			clean = append(clean, d)
		}
	}
	return &Catalog{
		dirs:  clean,
		cache: make(map[string]*cacheEntry),
	}
}

// Dirs returns the user directories the catalog searches.
func (c *Catalog) Dirs() []string {
	return slices.Clone(c.dirs)
}

// Invalidate drops ref from the cache, or everything if ref is empty.
func (c *Catalog) Invalidate(ref string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if ref == "" {
		c.cache = make(map[string]*cacheEntry)
		return
	}
	delete(c.cache, ref)
	delete(c.cache, UserThemePrefix+ref)
}

// Refs lists every available theme ref: the default first, then the other
// built-ins, then user themes. User themes that share a built-in's name are
// listed with UserThemePrefix.
func (c *Catalog) Refs() ([]string, error) {
	builtin, err := c.listBuiltinRefs()
	if err != nil {
		return nil, fmt.Errorf("listing built-in themes: %w", err)
	}

	seen := map[string]bool{DefaultThemeRef: true}
	refs := []string{DefaultThemeRef}
	for _, ref := range builtin {
		if !seen[ref] {
			seen[ref] = true
			refs = append(refs, ref)
		}
	}

	for _, dir := range c.dirs {
		user, err := listThemeRefsFrom(dir)
		if err != nil {
			return nil, fmt.Errorf("listing user themes: %w", err)
		}
		for _, ref := range user {
			name := ref
			if IsBuiltinRef(builtin, ref) {
				name = UserThemePrefix + ref
			}
			if seen[name] {
				continue
			}
			seen[name] = true
			refs = append(refs, name)
		}
	}
	return refs, nil
}

// List loads every theme, keyed by ref in Refs order. Themes that fail to
// load are logged and skipped.
func (c *Catalog) List() (*orderedmap.OrderedMap[string, *Theme], error) {
	refs, err := c.Refs()
	if err != nil {
		return nil, err
	}
	out := orderedmap.New[string, *Theme](len(refs))
	for _, ref := range refs {
		theme, err := c.Load(ref)
		if err != nil {
			slog.Warn("Skipping unreadable theme", "theme", ref, "error", err)
			continue
		}
		out.Set(ref, theme)
	}
	return out, nil
}

// LoadFor loads ref and checks it can be rendered as kind.
func (c *Catalog) LoadFor(kind protocol.Kind, ref string) (*Theme, error) {
	theme, err := c.Load(ref)
	if err != nil {
		return nil, err
	}
	if !theme.Provides(kind) {
		return nil, fmt.Errorf("%w: %s has no %s section", ErrSectionMissing, ref, kind)
	}
	return theme, nil
}

// Load loads a theme by ref. Refs starting with UserThemePrefix only look in
// the user directories; other refs prefer a built-in and fall back to the
// user directories.
func (c *Catalog) Load(ref string) (*Theme, error) {
	if ref == "" {
		return nil, fmt.Errorf("%w: empty theme name", ErrNotFound)
	}

	baseRef, forceUser := strings.CutPrefix(ref, UserThemePrefix)
	if err := validateThemeRef(baseRef); err != nil {
		return nil, err
	}

	builtin, err := c.listBuiltinRefs()
	if err != nil {
		return nil, err
	}
	isBuiltin := !forceUser && IsBuiltinRef(builtin, baseRef)

	var userPath string
	var userModTime time.Time
	if !isBuiltin {
		userPath, userModTime = c.findUserTheme(baseRef)
	}

	c.mu.RLock()
	cached, ok := c.cache[ref]
	c.mu.RUnlock()
	if ok {
		if isBuiltin {
			return cached.theme, nil
		}
		if cached.path == userPath && cached.modTime.Equal(userModTime) {
			return cached.theme, nil
		}
	}

	var entry *cacheEntry
	switch {
	case isBuiltin:
		theme, err := c.loadBuiltin(baseRef)
		if err != nil {
			return nil, err
		}
		entry = &cacheEntry{theme: theme}
	case userPath != "":
		theme, err := c.loadFile(baseRef, userPath)
		if err != nil {
			return nil, err
		}
		entry = &cacheEntry{theme: theme, modTime: userModTime, path: userPath}
	default:
		return nil, fmt.Errorf("%w: %q", ErrNotFound, ref)
	}

	c.mu.Lock()
	c.cache[ref] = entry
	c.mu.Unlock()
	return entry.theme, nil
}

// IsBuiltinRef reports whether ref names one of builtin.
func IsBuiltinRef(builtin []string, ref string) bool {
	return ref == DefaultThemeRef || slices.Contains(builtin, ref)
}

func (c *Catalog) listBuiltinRefs() ([]string, error) {
	c.builtinOnce.Do(func() {
		c.builtinRefs, c.builtinErr = listBuiltinThemeRefs()
	})
	return c.builtinRefs, c.builtinErr
}

func listBuiltinThemeRefs() ([]string, error) {
	entries, err := builtinThemes.ReadDir("builtin")
	if err != nil {
		return nil, fmt.Errorf("reading embedded themes directory: %w", err)
	}
	var refs []string
	for _, entry := range entries {
		if ref, ok := refFromFile(entry.Name()); ok && !entry.IsDir() {
			refs = append(refs, ref)
		}
	}
	return refs, nil
}

// listThemeRefsFrom lists theme refs anywhere below dir. A missing directory
// has no themes.
func listThemeRefsFrom(dir string) ([]string, error) {
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		return nil, nil
	}
	matches, err := doublestar.Glob(os.DirFS(dir), themeGlob, doublestar.WithFilesOnly())
	if err != nil {
		return nil, err
	}
	var refs []string
	for _, m := range matches {
		if ref, ok := refFromFile(path.Base(m)); ok && !slices.Contains(refs, ref) {
			refs = append(refs, ref)
		}
	}
	slices.Sort(refs)
	return refs, nil
}

// findUserTheme returns the first file defining ref in the user directories.
func (c *Catalog) findUserTheme(ref string) (string, time.Time) {
	pattern := "**/" + ref + ".{yaml,yml}"
	for _, dir := range c.dirs {
		matches, err := doublestar.Glob(os.DirFS(dir), pattern, doublestar.WithFilesOnly())
		if err != nil || len(matches) == 0 {
			continue
		}
		slices.Sort(matches)
		p := filepath.Join(dir, filepath.FromSlash(matches[0]))
		if info, err := os.Stat(p); err == nil {
			return p, info.ModTime()
		}
	}
	return "", time.Time{}
}

func (c *Catalog) defaultTheme() (*Theme, error) {
	c.mu.RLock()
	cached, ok := c.cache[DefaultThemeRef]
	c.mu.RUnlock()
	if ok {
		return cached.theme, nil
	}

	data, err := builtinThemes.ReadFile("builtin/" + DefaultThemeRef + ".yaml")
	if err != nil {
		return nil, fmt.Errorf("reading embedded default theme: %w", err)
	}
	theme, err := parseTheme(DefaultThemeRef, data, nil)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.cache[DefaultThemeRef] = &cacheEntry{theme: theme}
	c.mu.Unlock()
	return theme, nil
}

func (c *Catalog) loadBuiltin(ref string) (*Theme, error) {
	if ref == DefaultThemeRef {
		return c.defaultTheme()
	}
	data, err := fs.ReadFile(builtinThemes, "builtin/"+ref+".yaml")
	if err != nil {
		data, err = fs.ReadFile(builtinThemes, "builtin/"+ref+".yml")
	}
	if err != nil {
		return nil, fmt.Errorf("%w: built-in %q", ErrNotFound, ref)
	}
	base, err := c.defaultTheme()
	if err != nil {
		return nil, err
	}
	return parseTheme(ref, data, base)
}

func (c *Catalog) loadFile(ref, p string) (*Theme, error) {
	data, err := os.ReadFile(p)
	if err != nil {
		return nil, fmt.Errorf("reading theme file: %w", err)
	}
	base, err := c.defaultTheme()
	if err != nil {
		return nil, err
	}
	theme, err := parseTheme(ref, data, base)
	if err != nil {
		return nil, err
	}
	theme.Path = p
	return theme, nil
}

func parseTheme(ref string, data []byte, base *Theme) (*Theme, error) {
	var override Theme
	if err := yaml.Unmarshal(data, &override); err != nil {
		return nil, fmt.Errorf("parsing theme %q: %w", ref, err)
	}

	theme := mergeTheme(base, &override)
	theme.Ref = ref
	if theme.Name == "" {
		theme.Name = ref
	}
	if err := theme.Validate(); err != nil {
		return nil, err
	}
	return theme, nil
}

func refFromFile(name string) (string, bool) {
	if ref, ok := strings.CutSuffix(name, ".yaml"); ok {
		return ref, true
	}
	if ref, ok := strings.CutSuffix(name, ".yml"); ok {
		return ref, true
	}
	return "", false
}

// validateThemeRef rejects refs that could escape the theme directories or
// be read as a glob.
func validateThemeRef(ref string) error {
	if ref == "" || strings.ContainsAny(ref, `/\*?[]{}`) || strings.Contains(ref, "..") {
		return fmt.Errorf("invalid theme ref %q: must not contain path separators, globs or traversal", ref)
	}
	return nil
}
