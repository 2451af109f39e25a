package fees_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/require"
	"github.com/warp/fee-engine/fees"
	"github.com/warp/fee-engine/generic"
	"github.com/warp/fee-engine/store/memory"
)

// =============================================================================
// TEST SETUP
// =============================================================================

const (
	school   generic.SchoolID  = "sch-1"
	class5                     = "grade-5"
	tuition  fees.CategoryID   = "cat-tuition"
	lab      fees.CategoryID   = "cat-lab"
	annual   fees.CategoryID   = "cat-annual"
	student1 generic.StudentID = "stu-1"
)

type fixture struct {
	t     *testing.T
	ctx   context.Context
	store *memory.Memory
	gen   *fees.Generator
	log   *logrus.Logger
	hook  *test.Hook
	ids   int
}

func newFixture(t *testing.T, today string) *fixture {
	t.Helper()
	logger, hook := test.NewNullLogger()
	logger.SetLevel(logrus.DebugLevel)

	store := memory.New()
	gen := fees.NewGenerator(store, nil, fees.NewCalculator(fees.DiscountableCustomAmount{}), logger)
	gen.Clock = generic.FixedClock{Day: generic.MustDate(today)}

	f := &fixture{t: t, ctx: context.Background(), store: store, gen: gen, log: logger, hook: hook}
	f.category(tuition, "Tuition", fees.KindTuition)
	f.category(lab, "Lab Fee", fees.KindCustom)
	f.category(annual, "Annual Charges", fees.KindCustom)
	return f
}

func (f *fixture) nextID(prefix string) string {
	f.ids++
	return fmt.Sprintf("%s-%d", prefix, f.ids)
}

func (f *fixture) category(id fees.CategoryID, name string, kind fees.CategoryKind) {
	require.NoError(f.t, f.store.SaveCategory(f.ctx, fees.FeeCategory{
		ID: id, SchoolID: school, Name: name, Kind: kind, IsActive: true,
	}))
}

// version seeds the head of a chain directly.
func (f *fixture) version(key fees.ScopeKey, cycle fees.Cycle, amount int64, from string) fees.FeeVersion {
	v := fees.FeeVersion{
		ID:            fees.VersionID(f.nextID("ver")),
		SchoolID:      school,
		Key:           key,
		Cycle:         cycle,
		Amount:        generic.NewMoney(amount),
		VersionNumber: 1,
		EffectiveFrom: generic.MustDate(from),
		IsActive:      true,
		IsCurrent:     true,
	}
	require.NoError(f.t, f.store.SaveVersion(f.ctx, v))
	return v
}

func (f *fixture) hike(key fees.ScopeKey, cycle fees.Cycle, amount int64, from string) *fees.HikeResult {
	res, err := fees.NewVersionManager(f.store, f.log).Hike(f.ctx, fees.HikeRequest{
		SchoolID:      school,
		Key:           key,
		Cycle:         cycle,
		Amount:        generic.NewMoney(amount),
		EffectiveFrom: generic.MustDate(from),
	})
	require.NoError(f.t, err)
	return res
}

func (f *fixture) student(id generic.StudentID, admitted string) {
	require.NoError(f.t, f.store.SaveStudent(f.ctx, fees.Student{
		ID: id, SchoolID: school, Name: string(id), ClassID: class5,
		AdmissionDate: generic.MustDate(admitted), IsActive: true,
	}))
}

func (f *fixture) profile(p fees.StudentFeeProfile) {
	require.NoError(f.t, f.store.SaveProfile(f.ctx, p))
}

func (f *fixture) ledger(id generic.StudentID) []fees.MonthlyFeeComponent {
	rows, err := f.store.ListComponents(f.ctx, id, 2000, 2100)
	require.NoError(f.t, err)
	return rows
}

func (f *fixture) ensure(id generic.StudentID) fees.RunStats {
	stats, err := f.gen.EnsureExists(f.ctx, id, school)
	require.NoError(f.t, err)
	return stats
}

func money(s string) generic.Money { return generic.MustParseMoney(s) }

func moneyPtr(v int64) *generic.Money {
	m := generic.NewMoney(v)
	return &m
}

func catPtr(id fees.CategoryID) *fees.CategoryID { return &id }

func ym(year int, month time.Month) generic.YearMonth { return generic.NewYearMonth(year, month) }
