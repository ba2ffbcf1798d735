package service_test

import (
	"context"
	"testing"
	"time"

	"github.com/abdo90-dev/ecole-v2/internal/service"
)

func TestScheduler_NextRunIsMonthStart(t *testing.T) {
	db := newTestDB(t)
	store := db.Documents()
	ctx := context.Background()

	users := service.OpenUsers(ctx, store)
	students := service.NewStudentRepository(ctx, store, users)
	specialties := service.NewSpecialtyRepository(ctx, store)
	engine := service.NewStatsEngine(students, specialties, users)
	t.Cleanup(func() {
		engine.Stop()
		students.Close()
		specialties.Close()
		users.Close()
	})

	loc := time.FixedZone("CET", 3600)
	s := service.NewScheduler(engine, loc)
	if err := s.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(s.Stop)

	next := s.Next().In(loc)
	if next.IsZero() {
		t.Fatal("expected a scheduled run")
	}
	if next.Day() != 1 || next.Hour() != 0 || next.Minute() != 0 || next.Second() != 0 {
		t.Fatalf("expected next run at the first instant of a month, got %v", next)
	}

	now := time.Now().In(loc)
	want := time.Date(now.Year(), now.Month()+1, 1, 0, 0, 0, 0, loc)
	if !next.Equal(want) {
		t.Fatalf("expected next run %v, got %v", want, next)
	}
}
