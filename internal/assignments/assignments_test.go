package assignments

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestMemoryReaderGet(t *testing.T) {
	r := NewMemoryReader()
	r.Put(&ShiftAssignment{ID: "asg_1", WorkerID: "wkr_1", Amount: 10000, Currency: "USD", Status: StatusBooked})

	got, err := r.Get(context.Background(), "asg_1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.WorkerID != "wkr_1" || got.Amount != 10000 {
		t.Errorf("unexpected assignment: %+v", got)
	}

	if _, err := r.Get(context.Background(), "asg_missing"); !errors.Is(err, ErrAssignmentNotFound) {
		t.Errorf("expected ErrAssignmentNotFound, got %v", err)
	}
}

func TestMemoryReaderCompletedSince(t *testing.T) {
	r := NewMemoryReader()
	old := time.Now().Add(-2 * time.Hour)
	recent := time.Now().Add(-5 * time.Minute)
	r.Put(&ShiftAssignment{ID: "asg_old", Status: StatusCompleted, CompletedAt: &old})
	r.Put(&ShiftAssignment{ID: "asg_new", Status: StatusCompleted, CompletedAt: &recent})
	r.Put(&ShiftAssignment{ID: "asg_open", Status: StatusBooked})

	out, err := r.CompletedSince(context.Background(), time.Now().Add(-time.Hour), 10)
	if err != nil {
		t.Fatalf("CompletedSince: %v", err)
	}
	if len(out) != 1 || out[0].ID != "asg_new" {
		t.Errorf("expected only asg_new, got %+v", out)
	}
}

func TestHTTPReaderGet(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer tok_staffing" {
			t.Errorf("unexpected auth header %q", got)
		}
		switch r.URL.Path {
		case "/assignments/asg_1":
			json.NewEncoder(w).Encode(ShiftAssignment{
				ID: "asg_1", WorkerID: "wkr_1", BusinessID: "biz_1",
				Amount: 25000, Currency: "USD", Status: StatusCompleted,
			})
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	reader := NewHTTPReader(srv.URL, "tok_staffing")

	got, err := reader.Get(context.Background(), "asg_1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Amount != 25000 || got.Status != StatusCompleted {
		t.Errorf("unexpected assignment: %+v", got)
	}

	if _, err := reader.Get(context.Background(), "asg_missing"); !errors.Is(err, ErrAssignmentNotFound) {
		t.Errorf("expected ErrAssignmentNotFound, got %v", err)
	}
}

func TestHTTPReaderCompletedSince(t *testing.T) {
	cutoff := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if q.Get("status") != "completed" {
			t.Errorf("expected status=completed, got %q", q.Get("status"))
		}
		if q.Get("completedAfter") != cutoff.Format(time.RFC3339) {
			t.Errorf("unexpected completedAfter %q", q.Get("completedAfter"))
		}
		if q.Get("limit") != "50" {
			t.Errorf("unexpected limit %q", q.Get("limit"))
		}
		json.NewEncoder(w).Encode(map[string]any{
			"assignments": []ShiftAssignment{
				{ID: "asg_1", Status: StatusCompleted},
				{ID: "asg_2", Status: StatusCompleted},
			},
		})
	}))
	defer srv.Close()

	reader := NewHTTPReader(srv.URL, "")

	out, err := reader.CompletedSince(context.Background(), cutoff, 50)
	if err != nil {
		t.Fatalf("CompletedSince: %v", err)
	}
	if len(out) != 2 {
		t.Fatalf("expected 2 assignments, got %d", len(out))
	}
}

func TestHTTPReaderServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	reader := NewHTTPReader(srv.URL, "")
	if _, err := reader.Get(context.Background(), "asg_1"); err == nil {
		t.Fatal("expected error on 500")
	}
}
