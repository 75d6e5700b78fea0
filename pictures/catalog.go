package pictures

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// DefaultPictures is the catalog served when no assets directory is set.
var DefaultPictures = []string{
	"mountain-lake.jpg",
	"city_skyline.jpg",
	"desert-dunes.jpg",
	"forest-path.jpg",
}

var imageExts = map[string]bool{
	".png":  true,
	".jpg":  true,
	".jpeg": true,
	".gif":  true,
	".webp": true,
	".svg":  true,
}

// Catalog is the ordered list of selectable pictures.
type Catalog struct {
	dir string

	mu      sync.RWMutex
	options []DropDownOption
}

// NewStaticCatalog builds a catalog from file names.
func NewStaticCatalog(names ...string) *Catalog {
	c := &Catalog{}
	c.set(names)
	return c
}

// NewDirCatalog builds a catalog from the image files in dir.
func NewDirCatalog(dir string) (*Catalog, error) {
	c := &Catalog{dir: dir}
	if err := c.Reload(); err != nil {
		return nil, err
	}
	return c, nil
}

// Options returns a snapshot of the options.
func (c *Catalog) Options() []DropDownOption {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]DropDownOption, len(c.options))
	copy(out, c.options)
	return out
}

// Len reports the number of pictures.
func (c *Catalog) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.options)
}

// Reload rescans the assets directory. It is a no-op for static catalogs.
func (c *Catalog) Reload() error {
	if c.dir == "" {
		return nil
	}
	entries, err := os.ReadDir(c.dir)
	if err != nil {
		return fmt.Errorf("failed to read assets directory: %w", err)
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() || !imageExts[strings.ToLower(filepath.Ext(e.Name()))] {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)
	c.set(names)
	return nil
}

func (c *Catalog) set(names []string) {
	opts := make([]DropDownOption, len(names))
	for i, name := range names {
		opts[i] = DropDownOption{Index: i, Label: Label(name), Value: name}
	}
	c.mu.Lock()
	c.options = opts
	c.mu.Unlock()
}

// Watch reloads the catalog whenever the assets directory changes and calls
// onChange afterwards. Bursts of events are coalesced. It blocks until ctx is
// done.
func (c *Catalog) Watch(ctx context.Context, log *slog.Logger, onChange func()) error {
	if c.dir == "" {
		<-ctx.Done()
		return nil
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	defer w.Close()

	if err := w.Add(c.dir); err != nil {
		return fmt.Errorf("failed to watch %s: %w", c.dir, err)
	}

	const settle = 100 * time.Millisecond
	var timer *time.Timer
	var fire <-chan time.Time

	for {
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return nil
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Remove) && !ev.Has(fsnotify.Rename) {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(settle)
			} else {
				timer.Reset(settle)
			}
			fire = timer.C
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			log.Warn("pictures.catalog.watch_error", slog.String("err", err.Error()))
		case <-fire:
			fire = nil
			if err := c.Reload(); err != nil {
				log.Error("pictures.catalog.reload_fail", slog.String("err", err.Error()))
				continue
			}
			log.Info("pictures.catalog.reload", slog.Int("count", c.Len()))
			if onChange != nil {
				onChange()
			}
		}
	}
}

// Label turns a file name such as "city_skyline.jpg" into "City Skyline".
func Label(name string) string {
	base := strings.TrimSuffix(filepath.Base(name), filepath.Ext(name))
	base = strings.NewReplacer("-", " ", "_", " ", ".", " ").Replace(base)
	// Casers are stateful, so each call gets its own.
	return cases.Title(language.English).String(strings.Join(strings.Fields(base), " "))
}
