package spatial

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/dhconnelly/rtreego"
	"github.com/paulmach/orb"

	"fieldmap/internal/projection"
)

// point features get a tiny extent; the r-tree requires non-zero dimensions
const pointEpsilon = 1e-9

type indexedFeature struct {
	feature Feature
	bound   orb.Bound
}

// Bounds implements rtreego.Spatial interface.
func (f *indexedFeature) Bounds() rtreego.Rect {
	return boundToRect(f.bound)
}

func boundToRect(b orb.Bound) rtreego.Rect {
	point := rtreego.Point{b.Min.X(), b.Min.Y()}
	lengths := []float64{b.Max.X() - b.Min.X(), b.Max.Y() - b.Min.Y()}
	for i := range lengths {
		if lengths[i] < pointEpsilon {
			lengths[i] = pointEpsilon
		}
	}
	rect, _ := rtreego.NewRect(point, lengths)
	return rect
}

// queryRect pads the envelope so features touching its edges are found.
func queryRect(b orb.Bound) rtreego.Rect {
	point := rtreego.Point{b.Min.X() - pointEpsilon, b.Min.Y() - pointEpsilon}
	lengths := []float64{
		b.Max.X() - b.Min.X() + 2*pointEpsilon,
		b.Max.Y() - b.Min.Y() + 2*pointEpsilon,
	}
	rect, _ := rtreego.NewRect(point, lengths)
	return rect
}

type memTable struct {
	table    Table
	rtree    *rtreego.Rtree
	features map[int64]*indexedFeature
}

// MemoryStore keeps features in memory behind an r-tree per table.
type MemoryStore struct {
	mu     sync.RWMutex
	tables map[string]*memTable
	order  []string
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{tables: make(map[string]*memTable)}
}

// CreateTable adds an empty table. A nil style gets the default style.
func (s *MemoryStore) CreateTable(t Table) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if t.SRID == 0 {
		t.SRID = projection.WGS84
	}
	if t.Style == nil {
		t.Style = DefaultStyle(t.Name)
	}
	if _, ok := s.tables[t.Name]; !ok {
		s.order = append(s.order, t.Name)
	}
	s.tables[t.Name] = &memTable{
		table:    t,
		rtree:    rtreego.NewTree(2, 25, 50),
		features: make(map[int64]*indexedFeature),
	}
}

// Insert adds or replaces a feature, keyed by its id.
func (s *MemoryStore) Insert(table string, f Feature) error {
	if f.Geometry == nil {
		return fmt.Errorf("feature %d has no geometry", f.ID)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tables[table]
	if !ok {
		return fmt.Errorf("%s: %w", table, ErrUnknownTable)
	}
	if old, ok := t.features[f.ID]; ok {
		t.rtree.Delete(old)
	}

	idx := &indexedFeature{feature: f, bound: f.Geometry.Bound()}
	t.rtree.Insert(idx)
	t.features[f.ID] = idx
	if len(t.features) == 1 {
		t.table.Bound = idx.bound
	} else {
		t.table.Bound = t.table.Bound.Union(idx.bound)
	}
	return nil
}

// Delete removes a feature and reports whether it existed.
func (s *MemoryStore) Delete(table string, id int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tables[table]
	if !ok {
		return false
	}
	idx, ok := t.features[id]
	if !ok {
		return false
	}
	t.rtree.Delete(idx)
	delete(t.features, id)
	return true
}

// SetStyle replaces the style of a table.
func (s *MemoryStore) SetStyle(table string, style *Style) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tables[table]
	if !ok {
		return fmt.Errorf("%s: %w", table, ErrUnknownTable)
	}
	t.table.Style = style
	return nil
}

func (s *MemoryStore) Tables(ctx context.Context) ([]Table, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Table, 0, len(s.order))
	for _, name := range s.order {
		out = append(out, s.tables[name].table)
	}
	sortTables(out)
	return out, nil
}

func (s *MemoryStore) QueryByEnvelope(ctx context.Context, table string, env orb.Bound, srid projection.SRID) ([]Feature, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	t, ok := s.tables[table]
	if !ok {
		return nil, fmt.Errorf("%s: %w", table, ErrUnknownTable)
	}

	env, err := toTableSRID(env, srid, t.table.SRID)
	if err != nil {
		return nil, err
	}

	hits := t.rtree.SearchIntersect(queryRect(env))
	out := make([]Feature, 0, len(hits))
	for _, h := range hits {
		idx := h.(*indexedFeature)
		if !idx.bound.Intersects(env) {
			continue
		}
		out = append(out, idx.feature)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *MemoryStore) Style(ctx context.Context, table, themeKey string) (*Style, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	t, ok := s.tables[table]
	if !ok {
		return nil, fmt.Errorf("%s: %w", table, ErrUnknownTable)
	}
	if themeKey == "" {
		return t.table.Style, nil
	}
	return t.table.Style.Resolve(themeKey), nil
}

func (s *MemoryStore) Close() error {
	return nil
}
