// Package store owns the authoritative in-memory flag and brand state.
//
// Reads are lock-free: records are stored as immutable snapshots in
// concurrent maps and the current/preview brand live behind atomic
// pointers. All mutation funnels through the control plane, which installs
// freshly cloned records and never modifies one in place.
package store

import (
	"context"
	"sort"
	"sync/atomic"

	"github.com/puzpuzpuz/xsync/v4"

	"github.com/OrlandoBitencourt/gatekeep/internal/domain"
)

// Store is the single source of truth for flag and brand records.
type Store struct {
	flags  *xsync.Map[string, *domain.FeatureFlag]
	brands *xsync.Map[string, *domain.BrandRecord]

	current atomic.Pointer[domain.BrandRecord]
	preview atomic.Pointer[domain.BrandRecord]

	persistence Persistence
}

// New creates an empty store. persistence may be nil for a purely in-memory
// store.
func New(persistence Persistence) *Store {
	return &Store{
		flags:       xsync.NewMap[string, *domain.FeatureFlag](),
		brands:      xsync.NewMap[string, *domain.BrandRecord](),
		persistence: persistence,
	}
}

// GetFlag retrieves a flag by id. The returned record is a shared snapshot
// and must not be modified.
func (s *Store) GetFlag(id string) (*domain.FeatureFlag, error) {
	flag, ok := s.flags.Load(id)
	if !ok {
		return nil, domain.NewNotFoundError("flag", id)
	}
	return flag, nil
}

// ListFlags returns all flags ordered by id.
func (s *Store) ListFlags() []*domain.FeatureFlag {
	var flags []*domain.FeatureFlag
	s.flags.Range(func(_ string, f *domain.FeatureFlag) bool {
		flags = append(flags, f)
		return true
	})
	sort.Slice(flags, func(i, j int) bool { return flags[i].ID < flags[j].ID })
	return flags
}

// ListFlagsByCategory returns all flags sharing the category, ordered by id.
func (s *Store) ListFlagsByCategory(category string) []*domain.FeatureFlag {
	var flags []*domain.FeatureFlag
	s.flags.Range(func(_ string, f *domain.FeatureFlag) bool {
		if f.Category == category {
			flags = append(flags, f)
		}
		return true
	})
	sort.Slice(flags, func(i, j int) bool { return flags[i].ID < flags[j].ID })
	return flags
}

// UpsertFlag installs a flag record. The store takes ownership of the
// record; callers must not retain and mutate it.
func (s *Store) UpsertFlag(flag *domain.FeatureFlag) {
	s.flags.Store(flag.ID, flag)
}

// FlagCount returns the number of registered flags.
func (s *Store) FlagCount() int {
	return s.flags.Size()
}

// GetBrand retrieves a brand record by id.
func (s *Store) GetBrand(id string) (*domain.BrandRecord, error) {
	brand, ok := s.brands.Load(id)
	if !ok {
		return nil, domain.NewNotFoundError("brand", id)
	}
	return brand, nil
}

// ListBrands returns all brand records ordered by id.
func (s *Store) ListBrands() []*domain.BrandRecord {
	var brands []*domain.BrandRecord
	s.brands.Range(func(_ string, b *domain.BrandRecord) bool {
		brands = append(brands, b)
		return true
	})
	sort.Slice(brands, func(i, j int) bool { return brands[i].ID < brands[j].ID })
	return brands
}

// DefaultBrand returns the record holding the default marker, or nil when
// no brand is registered yet.
func (s *Store) DefaultBrand() *domain.BrandRecord {
	var def *domain.BrandRecord
	s.brands.Range(func(_ string, b *domain.BrandRecord) bool {
		if b.IsDefault {
			def = b
			return false
		}
		return true
	})
	return def
}

// UpsertBrand installs a brand record.
func (s *Store) UpsertBrand(brand *domain.BrandRecord) {
	s.brands.Store(brand.ID, brand)
}

// CurrentBrand returns the brand currently in effect, nil before bootstrap.
func (s *Store) CurrentBrand() *domain.BrandRecord {
	return s.current.Load()
}

// SetCurrentBrand atomically installs the current brand. Concurrent readers
// observe either the previous or the new record, never a partial one.
func (s *Store) SetCurrentBrand(brand *domain.BrandRecord) {
	s.current.Store(brand)
}

// PreviewBrand returns the candidate brand under preview, or nil.
func (s *Store) PreviewBrand() *domain.BrandRecord {
	return s.preview.Load()
}

// SetPreviewBrand installs or clears (nil) the preview pointer.
func (s *Store) SetPreviewBrand(brand *domain.BrandRecord) {
	s.preview.Store(brand)
}

// Snapshot captures the full persistent state.
func (s *Store) Snapshot() domain.Snapshot {
	snap := domain.Snapshot{
		Flags:  make(map[string]domain.FeatureFlag),
		Brands: make(map[string]domain.BrandRecord),
	}
	s.flags.Range(func(id string, f *domain.FeatureFlag) bool {
		snap.Flags[id] = *f.Clone()
		return true
	})
	s.brands.Range(func(id string, b *domain.BrandRecord) bool {
		snap.Brands[id] = *b
		return true
	})
	if cur := s.current.Load(); cur != nil {
		snap.CurrentBrandID = cur.ID
	}
	return snap
}

// Restore replaces the store contents with the snapshot. The preview
// pointer is cleared; previews do not survive a restore.
func (s *Store) Restore(snap domain.Snapshot) {
	s.flags.Clear()
	s.brands.Clear()
	for id := range snap.Flags {
		f := snap.Flags[id]
		s.flags.Store(id, &f)
	}
	for id := range snap.Brands {
		b := snap.Brands[id]
		s.brands.Store(id, &b)
	}
	s.preview.Store(nil)
	s.current.Store(nil)
	if snap.CurrentBrandID != "" {
		if cur, ok := s.brands.Load(snap.CurrentBrandID); ok {
			s.current.Store(cur)
		}
	}
}

// Flush writes the current snapshot through the configured persistence.
// No-op without persistence.
func (s *Store) Flush(ctx context.Context) error {
	if s.persistence == nil {
		return nil
	}
	return s.persistence.SaveSnapshot(ctx, s.Snapshot())
}

// LoadPersisted restores the store from persisted state. Returns
// ErrNoSnapshot when persistence is configured but holds nothing yet.
func (s *Store) LoadPersisted(ctx context.Context) error {
	if s.persistence == nil {
		return nil
	}
	snap, err := s.persistence.LoadSnapshot(ctx)
	if err != nil {
		return err
	}
	s.Restore(snap)
	return nil
}

// Close flushes and releases the persistence backend.
func (s *Store) Close(ctx context.Context) error {
	if s.persistence == nil {
		return nil
	}
	if err := s.Flush(ctx); err != nil {
		return err
	}
	return s.persistence.Close()
}
