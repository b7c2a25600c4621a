package inventory

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"sync"

	"github.com/oshokin/alarm-sink/internal/config"
	domain "github.com/oshokin/alarm-sink/internal/domain/alarm"
	"github.com/oshokin/alarm-sink/internal/wire"
)

// FileRepository persists the whole inventory as one JSON file on disk.
// JSON is produced and consumed via protobuf JSON (protojson) so the file
// matches the show-alarms response of the API.
type FileRepository struct {
	// path is the filesystem location of the JSON inventory file.
	path string
	// alarms caches the file contents, keyed by Key.String().
	alarms map[string]*domain.Alarm
	// loaded is set once the file has been read.
	loaded bool
	// mu protects the cache and the file.
	mu sync.Mutex
}

// NewFileRepository creates a repository that reads/writes JSON at the provided path.
func NewFileRepository(path string) *FileRepository {
	return &FileRepository{
		path:   filepath.Clean(path),
		alarms: make(map[string]*domain.Alarm),
	}
}

// LoadAll reads the inventory from disk.
func (r *FileRepository) LoadAll(_ context.Context) ([]*domain.Alarm, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.read(); err != nil {
		return nil, err
	}

	result := make([]*domain.Alarm, 0, len(r.alarms))
	for _, a := range r.alarms {
		result = append(result, a.Clone())
	}

	return result, nil
}

// Save stores the alarm and rewrites the file.
func (r *FileRepository) Save(_ context.Context, alarm *domain.Alarm) error {
	if err := alarm.Key.Validate(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.ensureLoaded(); err != nil {
		return err
	}

	id := alarm.Key.String()
	previous, existed := r.alarms[id]
	r.alarms[id] = alarm.Clone()

	if err := r.write(); err != nil {
		if existed {
			r.alarms[id] = previous
		} else {
			delete(r.alarms, id)
		}

		return err
	}

	return nil
}

// Delete removes the alarms and rewrites the file.
func (r *FileRepository) Delete(_ context.Context, keys []domain.Key) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.ensureLoaded(); err != nil {
		return err
	}

	removed := make(map[string]*domain.Alarm, len(keys))

	for _, key := range keys {
		id := key.String()
		if a, ok := r.alarms[id]; ok {
			removed[id] = a
			delete(r.alarms, id)
		}
	}

	if len(removed) == 0 {
		return nil
	}

	if err := r.write(); err != nil {
		for id, a := range removed {
			r.alarms[id] = a
		}

		return err
	}

	return nil
}

// ensureLoaded reads the file once so a Save never drops alarms written by an earlier run.
func (r *FileRepository) ensureLoaded() error {
	if r.loaded {
		return nil
	}

	if err := r.read(); err != nil && !errors.Is(err, ErrNotFound) {
		return err
	}

	r.loaded = true

	return nil
}

func (r *FileRepository) read() error {
	contents, err := os.ReadFile(r.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return ErrNotFound
		}

		return fmt.Errorf("read inventory file: %w", err)
	}

	msg, err := wire.Unmarshal(contents)
	if err != nil {
		return fmt.Errorf("decode inventory file: %w", err)
	}

	_, alarms, err := wire.InventoryFromStruct(msg)
	if err != nil {
		return fmt.Errorf("decode inventory file: %w", err)
	}

	r.alarms = make(map[string]*domain.Alarm, len(alarms))
	for _, a := range alarms {
		r.alarms[a.Key.String()] = a
	}

	r.loaded = true

	return nil
}

// write replaces the file through a temporary file so readers never see a partial snapshot.
func (r *FileRepository) write() error {
	alarms := make([]*domain.Alarm, 0, len(r.alarms))
	active := 0

	for _, a := range r.alarms {
		alarms = append(alarms, a)

		if !a.IsCleared {
			active++
		}
	}

	slices.SortFunc(alarms, func(a, b *domain.Alarm) int {
		return cmp.Compare(a.Key.String(), b.Key.String())
	})

	data, err := wire.Marshal(wire.InventoryToStruct(active, alarms, true))
	if err != nil {
		return fmt.Errorf("encode inventory: %w", err)
	}

	tmp := r.path + ".tmp"
	if err = os.WriteFile(tmp, data, config.DefaultFilePermissions); err != nil {
		return fmt.Errorf("write inventory file: %w", err)
	}

	if err = os.Rename(tmp, r.path); err != nil {
		return fmt.Errorf("replace inventory file: %w", err)
	}

	return nil
}
