package service

import (
	"cmp"
	"log/slog"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/abdo90-dev/ecole-v2/internal/domain"
	"github.com/abdo90-dev/ecole-v2/internal/metrics"
)

// JoinGap is a weak reference that resolved to nothing.
type JoinGap struct {
	StudentID string
	Ref       string // "profile" or "specialty"
	Key       string
}

// Enrich returns copies of students with Profile and Specialty attached.
// A reference with no match leaves the field nil and is reported as a gap.
func Enrich(students []domain.Student, users map[string]domain.User, specialties map[string]domain.Specialty) ([]domain.Student, []JoinGap) {
	out := make([]domain.Student, len(students))
	var gaps []JoinGap

	for i, s := range students {
		s.Profile, s.Specialty = nil, nil

		if u, ok := users[s.ProfileID]; ok {
			s.Profile = &u
		} else {
			gaps = append(gaps, JoinGap{StudentID: s.ID, Ref: "profile", Key: s.ProfileID})
		}
		if sp, ok := specialties[s.SpecialtyID]; ok {
			s.Specialty = &sp
		} else {
			gaps = append(gaps, JoinGap{StudentID: s.ID, Ref: "specialty", Key: s.SpecialtyID})
		}
		out[i] = s
	}
	return out, gaps
}

// ComputeStats aggregates students from scratch. Specialty and status buckets
// follow first appearance over students ordered by id; year buckets are
// ascending. Students with year 0 or an empty status are left out of those
// groupings.
func ComputeStats(students []domain.Student, specialties map[string]domain.Specialty, now time.Time) domain.DashboardStats {
	ordered := slices.Clone(students)
	slices.SortFunc(ordered, func(a, b domain.Student) int { return cmp.Compare(a.ID, b.ID) })

	monthStart := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, now.Location())

	stats := domain.DashboardStats{
		TotalStudents:       len(ordered),
		TotalSpecialties:    len(specialties),
		StudentsBySpecialty: make([]domain.SpecialtyCount, 0),
		StudentsByYear:      make([]domain.YearCount, 0),
		StudentsByStatus:    make([]domain.StatusCount, 0),
	}

	bySpecialty := make(map[string]int)
	byStatus := make(map[domain.StudentStatus]int)
	byYear := make(map[int]int)

	for _, s := range ordered {
		if s.Status == domain.StudentStatusActive {
			stats.ActiveStudents++
		}
		if !s.CreatedAt.IsZero() && !s.CreatedAt.Before(monthStart) {
			stats.NewStudentsThisMonth++
		}

		name := domain.UnknownSpecialty
		if sp, ok := specialties[s.SpecialtyID]; ok {
			name = sp.Name
		}
		if i, ok := bySpecialty[name]; ok {
			stats.StudentsBySpecialty[i].Count++
		} else {
			bySpecialty[name] = len(stats.StudentsBySpecialty)
			stats.StudentsBySpecialty = append(stats.StudentsBySpecialty, domain.SpecialtyCount{Name: name, Count: 1})
		}

		if s.Year != 0 {
			byYear[s.Year]++
		}

		if s.Status != "" {
			if i, ok := byStatus[s.Status]; ok {
				stats.StudentsByStatus[i].Count++
			} else {
				byStatus[s.Status] = len(stats.StudentsByStatus)
				stats.StudentsByStatus = append(stats.StudentsByStatus, domain.StatusCount{Status: string(s.Status), Count: 1})
			}
		}
	}

	for _, year := range slices.Sorted(maps.Keys(byYear)) {
		stats.StudentsByYear = append(stats.StudentsByYear, domain.YearCount{Year: year, Count: byYear[year]})
	}
	return stats
}

// StatsEngine joins the three mirrors and republishes enriched students and
// dashboard stats whenever any of them changes.
type StatsEngine struct {
	students    *StudentRepository
	specialties *SpecialtyRepository
	users       *Users
	now         func() time.Time

	// recomputeMu orders recomputation and publication.
	recomputeMu sync.Mutex

	mu        sync.RWMutex
	enriched  []domain.Student
	stats     *domain.DashboardStats
	listeners []*statsListener
	removes   []func()
	stopped   bool
}

type statsListener struct {
	fn func(domain.DashboardStats)
}

// StatsOption configures a StatsEngine.
type StatsOption func(*StatsEngine)

// WithClock sets the clock used for the new-this-month count.
func WithClock(now func() time.Time) StatsOption {
	return func(e *StatsEngine) { e.now = now }
}

// NewStatsEngine starts listening to the mirrors and computes once.
func NewStatsEngine(students *StudentRepository, specialties *SpecialtyRepository, users *Users, opts ...StatsOption) *StatsEngine {
	e := &StatsEngine{
		students:    students,
		specialties: specialties,
		users:       users,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}

	e.removes = []func(){
		students.OnChange(e.Refresh),
		specialties.OnChange(e.Refresh),
		users.OnChange(e.Refresh),
	}
	e.Refresh()
	return e
}

// Refresh recomputes from the current mirrors. Nothing is published until
// the student mirror has a snapshot, and stats wait for the specialty mirror
// too.
func (e *StatsEngine) Refresh() {
	e.recomputeMu.Lock()
	defer e.recomputeMu.Unlock()

	e.mu.RLock()
	stopped := e.stopped
	e.mu.RUnlock()
	if stopped || !e.students.Ready() {
		return
	}

	specialties := e.specialties.Index()
	enriched, gaps := Enrich(e.students.State().Items, e.users.Index(), specialties)
	for _, g := range gaps {
		slog.Debug("join resolution gap", "student_id", g.StudentID, "ref", g.Ref, "key", g.Key)
		metrics.JoinGaps.WithLabelValues(g.Ref).Inc()
	}

	e.mu.Lock()
	e.enriched = enriched
	e.mu.Unlock()

	if !e.specialties.Ready() {
		return
	}

	stats := ComputeStats(enriched, specialties, e.now())
	metrics.StatsRecomputed.Inc()

	e.mu.Lock()
	e.stats = &stats
	listeners := slices.Clone(e.listeners)
	e.mu.Unlock()

	metrics.StatsPublished.Inc()
	for _, l := range listeners {
		l.fn(stats)
	}
}

// Stats returns the last published stats, or false before both the student
// and specialty mirrors have delivered a snapshot.
func (e *StatsEngine) Stats() (domain.DashboardStats, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.stats == nil {
		return domain.DashboardStats{}, false
	}
	return cloneStats(*e.stats), true
}

// Students returns the enriched students, ordered by id, or false before the
// student mirror is ready.
func (e *StatsEngine) Students() ([]domain.Student, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.enriched == nil {
		return nil, false
	}
	return slices.Clone(e.enriched), true
}

// Subscribe registers fn for every published stats snapshot. fn runs while
// the engine holds its recompute lock and must not call Refresh.
func (e *StatsEngine) Subscribe(fn func(domain.DashboardStats)) (unsubscribe func()) {
	l := &statsListener{fn: fn}

	e.mu.Lock()
	e.listeners = append(e.listeners, l)
	e.mu.Unlock()

	return func() {
		e.mu.Lock()
		defer e.mu.Unlock()
		e.listeners = slices.DeleteFunc(e.listeners, func(existing *statsListener) bool {
			return existing == l
		})
	}
}

// Stop detaches the engine from the mirrors. The mirrors stay open.
func (e *StatsEngine) Stop() {
	e.mu.Lock()
	if e.stopped {
		e.mu.Unlock()
		return
	}
	e.stopped = true
	removes := e.removes
	e.removes = nil
	e.listeners = nil
	e.mu.Unlock()

	for _, remove := range removes {
		remove()
	}
}

func cloneStats(s domain.DashboardStats) domain.DashboardStats {
	s.StudentsBySpecialty = slices.Clone(s.StudentsBySpecialty)
	s.StudentsByYear = slices.Clone(s.StudentsByYear)
	s.StudentsByStatus = slices.Clone(s.StudentsByStatus)
	return s
}
