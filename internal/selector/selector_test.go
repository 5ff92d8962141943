package selector

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/deusflow/linkpost/internal/deadline"
	"github.com/deusflow/linkpost/internal/links"
	"github.com/deusflow/linkpost/internal/liveness"
	"github.com/deusflow/linkpost/internal/scraper"
)

type stubCollector struct {
	pools scraper.Pools
	// honorDeadline returns empty pools when the deadline has already passed.
	honorDeadline bool
	calls         int
}

func (s *stubCollector) Collect(_ context.Context, _ int, dl *deadline.Deadline) scraper.Pools {
	s.calls++
	if s.honorDeadline && dl.Passed() {
		return scraper.Pools{}
	}
	return s.pools
}

type stubChecker struct {
	dead    map[string]bool
	checked []string
	// onCheck runs after every check; tests use it to move the clock.
	onCheck func()
}

func (s *stubChecker) Check(_ context.Context, link string) liveness.Verdict {
	s.checked = append(s.checked, link)
	if s.onCheck != nil {
		s.onCheck()
	}
	if s.dead[link] {
		return liveness.Verdict{Reason: &links.StatusError{Code: 404}}
	}
	return liveness.Verdict{Alive: true}
}

func gf(id string) string { return "https://gofile.io/d/" + id }

func tw(id string) string {
	return fmt.Sprintf("https://video.twimg.com/ext_tw_video/%s/vid/x.mp4?tag=12", id)
}

func newEngine(c PoolCollector, chk LivenessChecker) *Engine {
	return &Engine{Collector: c, Checker: chk, PrimaryCap: 3, MaxChecks: 15}
}

func assertInvariants(t *testing.T, res Result, req Request, primaryCap int) {
	t.Helper()
	if !res.Empty() {
		assert.GreaterOrEqual(t, len(res.Links), req.MinPost)
	}
	assert.LessOrEqual(t, len(res.Links), req.Want)
	assert.LessOrEqual(t, res.CountKind(links.Primary), min(primaryCap, req.Want))

	seen := map[string]bool{}
	secondarySeen := false
	for _, l := range res.Links {
		n := links.Normalize(l.URL)
		assert.False(t, seen[n], "duplicate %s", n)
		seen[n] = true
		assert.False(t, req.AlreadySeen.Has(n), "already seen %s", n)
		if l.Kind == links.Secondary {
			secondarySeen = true
		} else {
			assert.False(t, secondarySeen, "primary after secondary")
		}
	}
}

func TestSelect_PrimaryCapThenSecondaryFill(t *testing.T) {
	col := &stubCollector{pools: scraper.Pools{
		PrimaryEarly: []string{gf("a"), gf("b"), gf("c"), gf("d"), gf("e")},
		Secondary:    []string{tw("1"), tw("2"), tw("3")},
	}}
	chk := &stubChecker{}
	e := newEngine(col, chk)
	req := Request{Want: 5, NumPages: 3, MinPost: 3}

	res := e.Select(context.Background(), req)

	assert.Equal(t, []string{gf("a"), gf("b"), gf("c"), tw("1"), tw("2")}, res.URLs())
	assert.Equal(t, 3, res.CountKind(links.Primary))
	assert.Equal(t, 2, res.CountKind(links.Secondary))
	assert.Equal(t, []string{gf("a"), gf("b"), gf("c")}, chk.checked, "checks stop once the cap is reached")
	assertInvariants(t, res, req, e.PrimaryCap)
}

func TestSelect_AllPrimaryDead(t *testing.T) {
	col := &stubCollector{pools: scraper.Pools{
		PrimaryEarly: []string{gf("a"), gf("b")},
		PrimaryLate:  []string{gf("c")},
		Secondary:    []string{tw("1"), tw("2"), tw("3"), tw("4"), tw("5"), tw("6")},
	}}
	chk := &stubChecker{dead: map[string]bool{gf("a"): true, gf("b"): true, gf("c"): true}}
	e := newEngine(col, chk)
	req := Request{Want: 5, MinPost: 3}

	res := e.Select(context.Background(), req)

	assert.Equal(t, []string{tw("1"), tw("2"), tw("3"), tw("4"), tw("5")}, res.URLs())
	assert.Zero(t, res.CountKind(links.Primary))
	assert.Len(t, chk.checked, 3)
	assertInvariants(t, res, req, e.PrimaryCap)
}

func TestSelect_BelowMinPostIsEmpty(t *testing.T) {
	col := &stubCollector{pools: scraper.Pools{
		PrimaryEarly: []string{gf("a")},
		Secondary:    []string{tw("1")},
	}}
	e := newEngine(col, &stubChecker{})

	res := e.Select(context.Background(), Request{Want: 5, MinPost: 3})
	assert.True(t, res.Empty())
	assert.Empty(t, res.URLs())
}

func TestSelect_SkipsAlreadySeenAndRunDuplicates(t *testing.T) {
	col := &stubCollector{pools: scraper.Pools{
		PrimaryEarly: []string{gf("a"), gf("b")},
		PrimaryLate:  []string{gf("b"), gf("c")},
		Secondary:    []string{tw("1"), "http://video.twimg.com/ext_tw_video/1/vid/x.mp4?tag=12/", tw("2")},
	}}
	chk := &stubChecker{dead: map[string]bool{gf("b"): true}}
	e := newEngine(col, chk)
	req := Request{
		AlreadySeen: NewSeenSet("http://gofile.io/d/a/"),
		Want:        5,
		MinPost:     1,
	}

	res := e.Select(context.Background(), req)

	assert.Equal(t, []string{gf("c"), tw("1"), tw("2")}, res.URLs())
	assert.Equal(t, []string{gf("b"), gf("c")}, chk.checked, "seen and already checked links are not checked again")
	assertInvariants(t, res, req, e.PrimaryCap)
}

func TestSelect_LatePoolContinuesSharedCheckBudget(t *testing.T) {
	col := &stubCollector{pools: scraper.Pools{
		PrimaryEarly: []string{gf("a"), gf("b")},
		PrimaryLate:  []string{gf("c"), gf("d"), gf("e")},
		Secondary:    []string{tw("1"), tw("2"), tw("3"), tw("4")},
	}}
	chk := &stubChecker{dead: map[string]bool{gf("a"): true, gf("b"): true}}
	e := newEngine(col, chk)
	e.MaxChecks = 3
	req := Request{Want: 5, MinPost: 3}

	res := e.Select(context.Background(), req)

	assert.Equal(t, []string{gf("a"), gf("b"), gf("c")}, chk.checked)
	assert.Equal(t, []string{gf("c"), tw("1"), tw("2"), tw("3"), tw("4")}, res.URLs())
	assertInvariants(t, res, req, e.PrimaryCap)
}

func TestSelect_ZeroMaxChecksSkipsPrimary(t *testing.T) {
	col := &stubCollector{pools: scraper.Pools{
		PrimaryEarly: []string{gf("a")},
		Secondary:    []string{tw("1"), tw("2"), tw("3")},
	}}
	chk := &stubChecker{}
	e := newEngine(col, chk)
	e.MaxChecks = 0

	res := e.Select(context.Background(), Request{Want: 3, MinPost: 3})
	assert.Empty(t, chk.checked)
	assert.Equal(t, []string{tw("1"), tw("2"), tw("3")}, res.URLs())
}

func TestSelect_WantSmallerThanCap(t *testing.T) {
	col := &stubCollector{pools: scraper.Pools{
		PrimaryEarly: []string{gf("a"), gf("b"), gf("c")},
		Secondary:    []string{tw("1")},
	}}
	e := newEngine(col, &stubChecker{})
	req := Request{Want: 2, MinPost: 1}

	res := e.Select(context.Background(), req)
	assert.Equal(t, []string{gf("a"), gf("b")}, res.URLs())
	assertInvariants(t, res, req, e.PrimaryCap)
}

func TestSelect_NonPositiveWant(t *testing.T) {
	col := &stubCollector{pools: scraper.Pools{Secondary: []string{tw("1")}}}
	e := newEngine(col, &stubChecker{})

	assert.True(t, e.Select(context.Background(), Request{Want: 0}).Empty())
	assert.Zero(t, col.calls)
}

func TestSelect_DeadlinePassedBeforeCollection(t *testing.T) {
	col := &stubCollector{
		pools:         scraper.Pools{PrimaryEarly: []string{gf("a")}, Secondary: []string{tw("1")}},
		honorDeadline: true,
	}
	chk := &stubChecker{}
	e := newEngine(col, chk)
	start := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	calls := 0
	e.Now = func() time.Time {
		calls++
		if calls == 1 {
			return start
		}
		return start.Add(time.Hour)
	}

	res := e.Select(context.Background(), Request{Want: 5, MinPost: 0, Budget: time.Second})
	assert.True(t, res.Empty())
	assert.Empty(t, chk.checked)
}

func TestSelect_DeadlineDuringChecksKeepsGathered(t *testing.T) {
	col := &stubCollector{pools: scraper.Pools{
		PrimaryEarly: []string{gf("a"), gf("b"), gf("c")},
		Secondary:    []string{tw("1"), tw("2")},
	}}
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	chk := &stubChecker{onCheck: func() { now = now.Add(time.Minute) }}
	e := newEngine(col, chk)
	e.Now = func() time.Time { return now }

	res := e.Select(context.Background(), Request{Want: 5, MinPost: 1, Budget: 90 * time.Second})

	require.Len(t, chk.checked, 2)
	assert.Equal(t, []string{gf("a"), gf("b")}, res.URLs(), "secondary fill stops on the passed deadline")
}

func TestSeenSet_NormalizesMembers(t *testing.T) {
	s := NewSeenSet("http://gofile.io/d/x/", "", "  ")
	assert.Len(t, s, 1)
	assert.True(t, s.Has("https://gofile.io/d/x"))

	other := NewSeenSet(gf("y"))
	s.Union(other)
	assert.True(t, s.Has(gf("y")))
}
