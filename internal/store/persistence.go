package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/OrlandoBitencourt/gatekeep/internal/domain"
)

// ErrNoSnapshot is returned by LoadSnapshot when the backend holds no
// persisted state yet.
var ErrNoSnapshot = errors.New("no snapshot persisted")

const snapshotFile = "snapshot.json"

// Persistence is the pluggable durable backing for the store. The store
// guarantees only read-after-write within the process; persistence exists
// so state survives restarts.
type Persistence interface {
	SaveSnapshot(ctx context.Context, snapshot domain.Snapshot) error
	LoadSnapshot(ctx context.Context) (domain.Snapshot, error)
	Close() error
}

// DiskPersistence writes the snapshot as a single JSON file under dir.
type DiskPersistence struct {
	dir string
	mu  sync.Mutex
}

// NewDiskPersistence creates dir if needed.
func NewDiskPersistence(dir string) (*DiskPersistence, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, err
	}
	return &DiskPersistence{dir: dir}, nil
}

func (d *DiskPersistence) SaveSnapshot(ctx context.Context, snapshot domain.Snapshot) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	data, err := json.MarshalIndent(snapshot, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal snapshot: %w", err)
	}

	// Write-then-rename so a crash mid-write never corrupts the snapshot.
	file := filepath.Join(d.dir, snapshotFile)
	tmp := file + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("failed to write snapshot: %w", err)
	}
	if err := os.Rename(tmp, file); err != nil {
		return fmt.Errorf("failed to install snapshot: %w", err)
	}

	return nil
}

func (d *DiskPersistence) LoadSnapshot(ctx context.Context) (domain.Snapshot, error) {
	select {
	case <-ctx.Done():
		return domain.Snapshot{}, ctx.Err()
	default:
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	data, err := os.ReadFile(filepath.Join(d.dir, snapshotFile))
	if err != nil {
		if os.IsNotExist(err) {
			return domain.Snapshot{}, ErrNoSnapshot
		}
		return domain.Snapshot{}, fmt.Errorf("failed to read snapshot: %w", err)
	}

	var snapshot domain.Snapshot
	if err := json.Unmarshal(data, &snapshot); err != nil {
		return domain.Snapshot{}, fmt.Errorf("failed to decode snapshot: %w", err)
	}

	return snapshot, nil
}

func (d *DiskPersistence) Close() error { return nil }
