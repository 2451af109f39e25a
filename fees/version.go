package fees

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/warp/fee-engine/generic"
)

// =============================================================================
// VERSION RESOLVER - Which version is in force on a date
// =============================================================================

// VersionResolver picks versions out of chains. Generation always resolves
// with a date inside the billed month, never "today".
type VersionResolver struct {
	Store VersionStore
}

func NewVersionResolver(store VersionStore) *VersionResolver {
	return &VersionResolver{Store: store}
}

// Resolve returns the version of key/cycle active on asOf, or nil.
// No matching version is not an error.
func (r *VersionResolver) Resolve(ctx context.Context, schoolID generic.SchoolID, key ScopeKey, cycle Cycle, asOf generic.TimePoint) (*FeeVersion, error) {
	chain, err := r.Store.ListVersions(ctx, schoolID, key, cycle)
	if err != nil {
		return nil, fmt.Errorf("load versions for %s: %w", key, err)
	}
	return SelectVersion(chain, asOf), nil
}

// Chain returns the versions of key/cycle ordered by version number.
func (r *VersionResolver) Chain(ctx context.Context, schoolID generic.SchoolID, key ScopeKey, cycle Cycle) ([]FeeVersion, error) {
	chain, err := r.Store.ListVersions(ctx, schoolID, key, cycle)
	if err != nil {
		return nil, fmt.Errorf("load versions for %s: %w", key, err)
	}
	SortChain(chain)
	return chain, nil
}

// SelectVersion returns the highest-numbered version active on asOf.
func SelectVersion(chain []FeeVersion, asOf generic.TimePoint) *FeeVersion {
	var best *FeeVersion
	for i := range chain {
		v := &chain[i]
		if !v.ActiveOn(asOf) {
			continue
		}
		if best == nil || v.VersionNumber > best.VersionNumber {
			best = v
		}
	}
	if best == nil {
		return nil
	}
	out := *best
	return &out
}

// ChainStart is the earliest effective_from among active versions.
func ChainStart(chain []FeeVersion) (generic.TimePoint, bool) {
	var start generic.TimePoint
	found := false
	for _, v := range chain {
		if !v.IsActive {
			continue
		}
		if !found || v.EffectiveFrom.Before(start) {
			start = v.EffectiveFrom
			found = true
		}
	}
	return start, found
}

// SortChain orders versions by ascending version number.
func SortChain(chain []FeeVersion) {
	sort.Slice(chain, func(i, j int) bool {
		return chain[i].VersionNumber < chain[j].VersionNumber
	})
}

// chainKey groups a scope's versions into chains.
type chainKey struct {
	Key   ScopeKey
	Cycle Cycle
}

// groupChains splits versions by (key, cycle), each chain sorted, and
// returns the keys in a stable order.
func groupChains(versions []FeeVersion) ([]chainKey, map[chainKey][]FeeVersion) {
	chains := make(map[chainKey][]FeeVersion)
	var keys []chainKey
	for _, v := range versions {
		k := chainKey{Key: v.Key, Cycle: v.Cycle}
		if _, ok := chains[k]; !ok {
			keys = append(keys, k)
		}
		chains[k] = append(chains[k], v)
	}
	for _, k := range keys {
		SortChain(chains[k])
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].Key.String() != keys[j].Key.String() {
			return keys[i].Key.String() < keys[j].Key.String()
		}
		return keys[i].Cycle < keys[j].Cycle
	})
	return keys, chains
}

// =============================================================================
// VERSION MANAGER - Hikes
// =============================================================================

// HikeRequest appends a new version to a chain.
type HikeRequest struct {
	SchoolID      generic.SchoolID
	Key           ScopeKey
	Cycle         Cycle
	Amount        generic.Money
	EffectiveFrom generic.TimePoint
	Optional      *bool // nil inherits from the current version
	Notes         string
}

// HikeResult reports the closed and the new version.
type HikeResult struct {
	Closed *FeeVersion
	New    FeeVersion
}

type VersionManager struct {
	Store VersionStore
	Log   logrus.FieldLogger
	Now   func() time.Time
}

func NewVersionManager(store VersionStore, log logrus.FieldLogger) *VersionManager {
	return &VersionManager{Store: store, Log: log, Now: time.Now}
}

// Hike closes the current version the day before req.EffectiveFrom and
// appends version max+1. On an empty chain it creates version 1.
func (m *VersionManager) Hike(ctx context.Context, req HikeRequest) (*HikeResult, error) {
	if req.Amount.IsNegative() {
		return nil, fmt.Errorf("%w: %s", generic.ErrInvalidAmount, req.Amount)
	}
	if !req.Cycle.Valid() {
		return nil, fmt.Errorf("invalid cycle %q", req.Cycle)
	}
	if req.EffectiveFrom.IsZero() {
		return nil, generic.ErrInvalidEffectiveDate
	}

	chain, err := m.Store.ListVersions(ctx, req.SchoolID, req.Key, req.Cycle)
	if err != nil {
		return nil, fmt.Errorf("load versions for %s: %w", req.Key, err)
	}
	SortChain(chain)

	maxNumber := 0
	var current *FeeVersion
	for i := range chain {
		v := chain[i]
		if v.VersionNumber > maxNumber {
			maxNumber = v.VersionNumber
		}
		if v.EffectiveTo == nil && v.IsCurrent {
			current = &v
		}
	}

	next := FeeVersion{
		ID:            VersionID(uuid.NewString()),
		SchoolID:      req.SchoolID,
		Key:           req.Key,
		Cycle:         req.Cycle,
		Amount:        req.Amount.Round(),
		VersionNumber: maxNumber + 1,
		EffectiveFrom: req.EffectiveFrom,
		IsActive:      true,
		IsCurrent:     true,
		Notes:         req.Notes,
		CreatedAt:     m.Now().UTC(),
	}
	if current != nil {
		next.Optional = current.Optional
	}
	if req.Optional != nil {
		next.Optional = *req.Optional
	}

	var closed *FeeVersion
	if current != nil {
		if !req.EffectiveFrom.After(current.EffectiveFrom) {
			return nil, fmt.Errorf("%w: %s is not after %s", generic.ErrInvalidEffectiveDate,
				req.EffectiveFrom, current.EffectiveFrom)
		}
		c := *current
		end := req.EffectiveFrom.AddDays(-1)
		c.EffectiveTo = &end
		c.IsCurrent = false
		closed = &c
	}

	if err := m.Store.ApplyHike(ctx, closed, next); err != nil {
		return nil, fmt.Errorf("apply hike on %s: %w", req.Key, err)
	}

	m.Log.WithFields(logrus.Fields{
		"component": "version_manager",
		"school_id": req.SchoolID,
		"scope":     req.Key.String(),
		"cycle":     req.Cycle,
		"version":   next.VersionNumber,
		"amount":    next.Amount.String(),
		"from":      next.EffectiveFrom.String(),
	}).Info("fee version created")

	return &HikeResult{Closed: closed, New: next}, nil
}
