package view_test

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/abdo90-dev/ecole-v2/internal/domain"
	"github.com/abdo90-dev/ecole-v2/internal/view"
)

func TestStatsFragment(t *testing.T) {
	stats := domain.DashboardStats{
		TotalStudents:        3,
		ActiveStudents:       2,
		TotalSpecialties:     1,
		NewStudentsThisMonth: 1,
		StudentsBySpecialty:  []domain.SpecialtyCount{{Name: "<CS>", Count: 3}},
		StudentsByYear:       []domain.YearCount{{Year: 1, Count: 3}},
		StudentsByStatus:     []domain.StatusCount{{Status: "active", Count: 2}},
	}

	var buf bytes.Buffer
	if err := view.StatsFragment(stats).Render(context.Background(), &buf); err != nil {
		t.Fatalf("Render: %v", err)
	}
	html := buf.String()

	if !strings.HasPrefix(html, `<div id="dashboard-stats">`) {
		t.Fatalf("fragment must be rooted at the stats element, got %q", html[:40])
	}
	for _, want := range []string{"&lt;CS&gt;", "Année 1", "active", `<span class="value">3</span>`} {
		if !strings.Contains(html, want) {
			t.Errorf("expected %q in fragment", want)
		}
	}
	if strings.Contains(html, "<CS>") {
		t.Error("specialty name was not escaped")
	}
}

func TestStatsFragment_Empty(t *testing.T) {
	var buf bytes.Buffer
	if err := view.StatsFragment(domain.DashboardStats{}).Render(context.Background(), &buf); err != nil {
		t.Fatalf("Render: %v", err)
	}
	if n := strings.Count(buf.String(), "Aucune donnée"); n != 3 {
		t.Fatalf("expected 3 empty tables, got %d", n)
	}
}

func TestDashboardPage(t *testing.T) {
	var buf bytes.Buffer
	if err := view.DashboardPage("Ada Admin", nil).Render(context.Background(), &buf); err != nil {
		t.Fatalf("Render: %v", err)
	}
	html := buf.String()

	for _, want := range []string{"<!doctype html>", "Ada Admin", "@get('/dashboard/stream')", `class="loading"`, "datastar.js"} {
		if !strings.Contains(html, want) {
			t.Errorf("expected %q in page", want)
		}
	}
}

func TestErrorPage(t *testing.T) {
	var buf bytes.Buffer
	if err := view.ErrorPage(403, "Accès refusé", "<script>").Render(context.Background(), &buf); err != nil {
		t.Fatalf("Render: %v", err)
	}
	html := buf.String()
	if strings.Contains(html, "<script>") {
		t.Fatal("message was not escaped")
	}
	for _, want := range []string{"<title>Accès refusé</title>", `<p class="status">403</p>`, "&lt;script&gt;"} {
		if !strings.Contains(html, want) {
			t.Errorf("expected %q in page", want)
		}
	}
}
