// Package memory provides an in-memory fees.Store (for testing/dev).
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/warp/fee-engine/fees"
	"github.com/warp/fee-engine/generic"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

type Memory struct {
	mu           sync.RWMutex
	categories   map[fees.CategoryID]fees.FeeCategory
	versions     map[fees.VersionID]fees.FeeVersion
	students     map[generic.StudentID]fees.Student
	profiles     map[generic.StudentID][]fees.StudentFeeProfile
	overrides    map[generic.StudentID][]fees.StudentFeeOverride
	scholarships map[generic.StudentID][]fees.Scholarship
	components   map[fees.ComponentID]fees.MonthlyFeeComponent
	byKey        map[fees.ComponentKey]fees.ComponentID
	runs         map[fees.RunID]fees.GenerationRun
}

var _ fees.Store = (*Memory)(nil)

func New() *Memory {
	return &Memory{
		categories:   make(map[fees.CategoryID]fees.FeeCategory),
		versions:     make(map[fees.VersionID]fees.FeeVersion),
		students:     make(map[generic.StudentID]fees.Student),
		profiles:     make(map[generic.StudentID][]fees.StudentFeeProfile),
		overrides:    make(map[generic.StudentID][]fees.StudentFeeOverride),
		scholarships: make(map[generic.StudentID][]fees.Scholarship),
		components:   make(map[fees.ComponentID]fees.MonthlyFeeComponent),
		byKey:        make(map[fees.ComponentKey]fees.ComponentID),
		runs:         make(map[fees.RunID]fees.GenerationRun),
	}
}

// =============================================================================
// FEE SCHEDULE
// =============================================================================

func (m *Memory) ListVersions(_ context.Context, schoolID generic.SchoolID, key fees.ScopeKey, cycle fees.Cycle) ([]fees.FeeVersion, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []fees.FeeVersion
	for _, v := range m.versions {
		if v.SchoolID == schoolID && v.Key == key && v.Cycle == cycle {
			out = append(out, v)
		}
	}
	fees.SortChain(out)
	return out, nil
}

func (m *Memory) ListScopeVersions(_ context.Context, schoolID generic.SchoolID, kind fees.ScopeKind, scopeID string) ([]fees.FeeVersion, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []fees.FeeVersion
	for _, v := range m.versions {
		if v.SchoolID == schoolID && v.Key.Kind == kind && v.Key.ScopeID == scopeID {
			out = append(out, v)
		}
	}
	fees.SortChain(out)
	return out, nil
}

func (m *Memory) GetVersion(_ context.Context, id fees.VersionID) (*fees.FeeVersion, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	v, ok := m.versions[id]
	if !ok {
		return nil, generic.ErrVersionNotFound
	}
	return &v, nil
}

func (m *Memory) ApplyHike(_ context.Context, prev *fees.FeeVersion, next fees.FeeVersion) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if prev != nil {
		stored, ok := m.versions[prev.ID]
		if !ok {
			return generic.ErrVersionNotFound
		}
		if !stored.IsCurrent || stored.EffectiveTo != nil {
			return generic.ErrConcurrentModification
		}
		stored.EffectiveTo = prev.EffectiveTo
		stored.IsCurrent = false
		m.versions[prev.ID] = stored
	} else {
		for _, v := range m.versions {
			if v.SchoolID == next.SchoolID && v.Key == next.Key && v.Cycle == next.Cycle && v.IsCurrent {
				return generic.ErrConcurrentModification
			}
		}
	}
	m.versions[next.ID] = next
	return nil
}

// SaveVersion stores a version as is. Used by seeding.
func (m *Memory) SaveVersion(_ context.Context, v fees.FeeVersion) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.versions[v.ID] = v
	return nil
}

func (m *Memory) GetCategory(_ context.Context, id fees.CategoryID) (*fees.FeeCategory, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	c, ok := m.categories[id]
	if !ok {
		return nil, nil
	}
	return &c, nil
}

func (m *Memory) ListCategories(_ context.Context, schoolID generic.SchoolID) ([]fees.FeeCategory, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []fees.FeeCategory
	for _, c := range m.categories {
		if c.SchoolID == schoolID {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *Memory) SaveCategory(_ context.Context, c fees.FeeCategory) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.categories[c.ID] = c
	return nil
}

// =============================================================================
// STUDENTS, PROFILES, OVERRIDES
// =============================================================================

func (m *Memory) GetStudent(_ context.Context, schoolID generic.SchoolID, id generic.StudentID) (*fees.Student, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s, ok := m.students[id]
	if !ok || s.SchoolID != schoolID {
		return nil, generic.ErrStudentNotFound
	}
	return &s, nil
}

func (m *Memory) ListStudents(_ context.Context, schoolID generic.SchoolID, offset, limit int) ([]fees.Student, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var all []fees.Student
	for _, s := range m.students {
		if s.SchoolID == schoolID {
			all = append(all, s)
		}
	}
	sort.Slice(all, func(i, j int) bool { return all[i].ID < all[j].ID })
	if offset >= len(all) {
		return nil, nil
	}
	end := min(offset+limit, len(all))
	return all[offset:end], nil
}

func (m *Memory) SaveStudent(_ context.Context, s fees.Student) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.students[s.ID] = s
	return nil
}

func (m *Memory) GetProfile(_ context.Context, studentID generic.StudentID, asOf generic.TimePoint) (*fees.StudentFeeProfile, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var best *fees.StudentFeeProfile
	for i := range m.profiles[studentID] {
		p := m.profiles[studentID][i]
		if !p.Covers(asOf) {
			continue
		}
		if best == nil || p.EffectiveFrom.After(best.EffectiveFrom) {
			best = &p
		}
	}
	return best, nil
}

func (m *Memory) SaveProfile(_ context.Context, p fees.StudentFeeProfile) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	list := m.profiles[p.StudentID]
	for i := range list {
		if list[i].EffectiveFrom.Equal(p.EffectiveFrom) {
			list[i] = p
			return nil
		}
	}
	m.profiles[p.StudentID] = append(list, p)
	return nil
}

func (m *Memory) ListOverrides(_ context.Context, studentID generic.StudentID) ([]fees.StudentFeeOverride, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]fees.StudentFeeOverride(nil), m.overrides[studentID]...), nil
}

func (m *Memory) SaveOverride(_ context.Context, o fees.StudentFeeOverride) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.overrides[o.StudentID] = append(m.overrides[o.StudentID], o)
	return nil
}

func (m *Memory) ListScholarships(_ context.Context, studentID generic.StudentID) ([]fees.Scholarship, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]fees.Scholarship(nil), m.scholarships[studentID]...), nil
}

func (m *Memory) SaveScholarship(_ context.Context, s fees.Scholarship) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.scholarships[s.StudentID] = append(m.scholarships[s.StudentID], s)
	return nil
}

// =============================================================================
// LEDGER
// =============================================================================

func (m *Memory) FindComponent(_ context.Context, key fees.ComponentKey) (*fees.MonthlyFeeComponent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	id, ok := m.byKey[key]
	if !ok {
		return nil, nil
	}
	c := m.components[id]
	return &c, nil
}

func (m *Memory) InsertComponent(_ context.Context, c fees.MonthlyFeeComponent) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := c.Key()
	if _, exists := m.byKey[key]; exists {
		return generic.ErrDuplicateComponent
	}
	m.components[c.ID] = c
	m.byKey[key] = c.ID
	return nil
}

func (m *Memory) UpdateComponentAmounts(_ context.Context, c fees.MonthlyFeeComponent, expected int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	stored, ok := m.components[c.ID]
	if !ok {
		return generic.ErrComponentNotFound
	}
	if stored.RowVersion != expected {
		return generic.ErrConcurrentModification
	}

	stored.FeeName = c.FeeName
	stored.TransportRoute = c.TransportRoute
	stored.Cycle = c.Cycle
	stored.VersionID = c.VersionID
	stored.BaseAmount = c.BaseAmount
	stored.DiscountAmount = c.DiscountAmount
	stored.FeeAmount = c.FeeAmount
	stored.PendingAmount = c.PendingAmount
	stored.Status = c.Status
	stored.DueDate = c.DueDate
	stored.UpdatedAt = c.UpdatedAt
	stored.RowVersion = expected + 1
	m.components[c.ID] = stored
	return nil
}

func (m *Memory) GetComponent(_ context.Context, id fees.ComponentID) (*fees.MonthlyFeeComponent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	c, ok := m.components[id]
	if !ok {
		return nil, generic.ErrComponentNotFound
	}
	return &c, nil
}

func (m *Memory) ListComponents(_ context.Context, studentID generic.StudentID, fromYear, toYear int) ([]fees.MonthlyFeeComponent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []fees.MonthlyFeeComponent
	for _, c := range m.components {
		if c.StudentID == studentID && c.Year >= fromYear && c.Year <= toYear {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Year != out[j].Year {
			return out[i].Year < out[j].Year
		}
		if out[i].Month != out[j].Month {
			return out[i].Month < out[j].Month
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (m *Memory) ApplyPayment(_ context.Context, id fees.ComponentID, amount generic.Money) (*fees.MonthlyFeeComponent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	c, ok := m.components[id]
	if !ok {
		return nil, generic.ErrComponentNotFound
	}
	if err := fees.ApplyPaymentTo(&c, amount); err != nil {
		return nil, err
	}
	c.RowVersion++
	c.UpdatedAt = time.Now().UTC()
	m.components[id] = c
	return &c, nil
}

// =============================================================================
// RUNS
// =============================================================================

func (m *Memory) SaveRun(_ context.Context, run fees.GenerationRun) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.runs[run.ID] = run
	return nil
}

func (m *Memory) GetRun(_ context.Context, id fees.RunID) (*fees.GenerationRun, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	r, ok := m.runs[id]
	if !ok {
		return nil, generic.ErrRunNotFound
	}
	return &r, nil
}

func (m *Memory) ListRuns(_ context.Context, schoolID generic.SchoolID, limit int) ([]fees.GenerationRun, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []fees.GenerationRun
	for _, r := range m.runs {
		if r.SchoolID == schoolID {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.After(out[j].StartedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
