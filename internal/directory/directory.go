// Package directory seeds business profiles from a YAML file and keeps
// them in sync while the server runs.
package directory

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/ziadkadry99/voicedesk/internal/business"
	"github.com/ziadkadry99/voicedesk/internal/calls"
)

// Upserter is the slice of calls.Store the directory writes through.
type Upserter interface {
	UpsertBusiness(ctx context.Context, p business.Profile) (*business.Profile, error)
}

// File is the on-disk layout:
//
//	businesses:
//	  - name: Bright Smile Dental
//	    phone_number: "+15551234567"
//	    hours: {open: "09:00", close: "17:00", days: [1, 2, 3, 4, 5]}
type File struct {
	Businesses []business.Profile `yaml:"businesses"`
}

// Load reads and validates a directory file.
func Load(path string) ([]business.Profile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading directory %s: %w", path, err)
	}
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parsing directory %s: %w", path, err)
	}

	seen := make(map[string]int, len(f.Businesses))
	var errs []error
	for i, p := range f.Businesses {
		if err := validate(p); err != nil {
			errs = append(errs, fmt.Errorf("business %d (%s): %w", i+1, p.Name, err))
			continue
		}
		num := calls.NormalizeNumber(p.PhoneNumber)
		if j, dup := seen[num]; dup {
			errs = append(errs, fmt.Errorf("business %d (%s): phone number %s already used by business %d", i+1, p.Name, num, j+1))
			continue
		}
		seen[num] = i
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return f.Businesses, nil
}

func validate(p business.Profile) error {
	if p.Name == "" {
		return errors.New("name is required")
	}
	if calls.NormalizeNumber(p.PhoneNumber) == "" {
		return errors.New("phone_number is required")
	}
	if p.Timezone != "" {
		if _, err := time.LoadLocation(p.Timezone); err != nil {
			return fmt.Errorf("timezone: %w", err)
		}
	}
	if _, err := p.Hours.IsOpen(time.Time{}, time.UTC); err != nil {
		return fmt.Errorf("hours: %w", err)
	}
	known := make(map[business.Capability]bool, len(business.AllCapabilities))
	for _, c := range business.AllCapabilities {
		known[c] = true
	}
	for _, c := range p.Capabilities {
		if !known[c] {
			return fmt.Errorf("unknown capability %q", c)
		}
	}
	return nil
}

// Import upserts every profile and returns how many were written.
func Import(ctx context.Context, store Upserter, profiles []business.Profile) (int, error) {
	for i, p := range profiles {
		if _, err := store.UpsertBusiness(ctx, p); err != nil {
			return i, fmt.Errorf("importing %s: %w", p.Name, err)
		}
	}
	return len(profiles), nil
}

// Directory binds a file to a store.
type Directory struct {
	path     string
	store    Upserter
	logger   *zap.Logger
	debounce time.Duration

	// OnImport, when set, observes every import attempt made by Watch.
	OnImport func(n int, err error)
}

// New creates a directory for the file at path.
func New(path string, store Upserter, logger *zap.Logger) *Directory {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Directory{
		path:     path,
		store:    store,
		logger:   logger,
		debounce: 250 * time.Millisecond,
	}
}

// Import loads the file and upserts its profiles.
func (d *Directory) Import(ctx context.Context) (int, error) {
	profiles, err := Load(d.path)
	if err != nil {
		return 0, err
	}
	n, err := Import(ctx, d.store, profiles)
	if err != nil {
		return n, err
	}
	d.logger.Info("imported business directory", zap.String("path", d.path), zap.Int("businesses", n))
	return n, nil
}

// Watch re-imports the file whenever it changes, until ctx is done. The
// parent directory is watched so editors that replace the file by rename
// are still seen. Import errors are logged and the previous rows kept.
func (d *Directory) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating watcher: %w", err)
	}
	defer watcher.Close()

	abs, err := filepath.Abs(d.path)
	if err != nil {
		return fmt.Errorf("resolving %s: %w", d.path, err)
	}
	if err := watcher.Add(filepath.Dir(abs)); err != nil {
		return fmt.Errorf("watching %s: %w", filepath.Dir(abs), err)
	}

	var (
		timer   *time.Timer
		pending <-chan time.Time
	)
	for {
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return nil
		case evt, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(evt.Name) != abs {
				continue
			}
			if evt.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			if timer != nil {
				timer.Stop()
			}
			timer = time.NewTimer(d.debounce)
			pending = timer.C
		case <-pending:
			pending = nil
			n, err := d.Import(ctx)
			if err != nil {
				d.logger.Error("reloading business directory", zap.String("path", d.path), zap.Error(err))
			}
			if d.OnImport != nil {
				d.OnImport(n, err)
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			d.logger.Warn("directory watcher error", zap.Error(err))
		}
	}
}
