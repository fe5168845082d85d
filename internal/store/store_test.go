package store

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

// newTestStore creates a Store in a temporary directory.
func newTestStore(t *testing.T) *Store {
	t.Helper()

	s, err := New(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	t.Cleanup(func() {
		s.Close()
	})

	return s
}

func TestNewStore_CreatesDatabase(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "nested", "dir", "test.db")

	s, err := New(dbPath)
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	defer s.Close()

	if _, err := os.Stat(dbPath); os.IsNotExist(err) {
		t.Fatal("database file should exist after creating store")
	}
	if s.Path() != dbPath {
		t.Errorf("Path() = %q, want %q", s.Path(), dbPath)
	}
}

func TestNewStore_RunsMigrations(t *testing.T) {
	s := newTestStore(t)

	for _, table := range []string{"sessions", "settings"} {
		var name string
		err := s.DB().QueryRow(
			"SELECT name FROM sqlite_master WHERE type='table' AND name=?",
			table,
		).Scan(&name)
		if err != nil {
			t.Errorf("table %q should exist after migrations: %v", table, err)
		}
	}

	var idx string
	err := s.DB().QueryRow(
		"SELECT name FROM sqlite_master WHERE type='index' AND name='idx_sessions_started_at'",
	).Scan(&idx)
	if err != nil {
		t.Errorf("index should exist after migrations: %v", err)
	}
}

func TestNewStore_Reopen(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "test.db")

	s, err := New(dbPath)
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	if err := s.Sessions().Create(&Session{Locator: "tcp://a:1", Capacity: 2}); err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	s.Close()

	s, err = New(dbPath)
	if err != nil {
		t.Fatalf("reopening store: %v", err)
	}
	defer s.Close()

	list, err := s.Sessions().List(0)
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(list) != 1 {
		t.Errorf("List() returned %d sessions after reopen, want 1", len(list))
	}
}

func TestStore_Close(t *testing.T) {
	s, err := New(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}

	if err := s.Close(); err != nil {
		t.Errorf("close should not return error: %v", err)
	}

	if _, err := s.DB().Exec("SELECT 1"); err == nil {
		t.Error("DB operations should fail after close")
	}
}

func TestSessionRepository_CreateAndGet(t *testing.T) {
	s := newTestStore(t)
	repo := s.Sessions()

	sess := &Session{Locator: "tcp://192.168.1.254:9998", Capacity: 2}
	if err := repo.Create(sess); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	if sess.ID == "" {
		t.Error("Create() should assign an ID")
	}
	if sess.StartedAt.IsZero() {
		t.Error("Create() should set StartedAt")
	}
	if sess.Attempt != 1 {
		t.Errorf("Attempt = %d, want 1", sess.Attempt)
	}

	got, err := repo.Get(sess.ID)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.Locator != sess.Locator || got.Capacity != 2 {
		t.Errorf("Get() = %+v, want locator %q capacity 2", got, sess.Locator)
	}
	if got.Reason != "running" {
		t.Errorf("Reason = %q, want running", got.Reason)
	}
	if got.EndedAt != nil {
		t.Error("EndedAt should be nil for a running session")
	}
}

func TestSessionRepository_Finish(t *testing.T) {
	s := newTestStore(t)
	repo := s.Sessions()

	sess := &Session{Locator: "tcp://cam:9998", Capacity: 200, Attempt: 3}
	if err := repo.Create(sess); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	ended := time.Now().Add(time.Minute)
	err := repo.Finish(sess.ID, SessionResult{
		Reason:    "end_of_stream",
		Captured:  120,
		Delivered: 90,
		Dropped:   30,
		EndedAt:   ended,
	})
	if err != nil {
		t.Fatalf("Finish() error = %v", err)
	}

	got, err := repo.Get(sess.ID)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.Reason != "end_of_stream" {
		t.Errorf("Reason = %q, want end_of_stream", got.Reason)
	}
	if got.Captured != 120 || got.Delivered != 90 || got.Dropped != 30 {
		t.Errorf("counters = %d/%d/%d, want 120/90/30", got.Captured, got.Delivered, got.Dropped)
	}
	if got.Attempt != 3 {
		t.Errorf("Attempt = %d, want 3", got.Attempt)
	}
	if got.EndedAt == nil || !got.EndedAt.Equal(ended) {
		t.Errorf("EndedAt = %v, want %v", got.EndedAt, ended)
	}
}

func TestSessionRepository_FinishRejectsUnknownReason(t *testing.T) {
	s := newTestStore(t)
	repo := s.Sessions()

	sess := &Session{Locator: "tcp://cam:9998", Capacity: 2}
	if err := repo.Create(sess); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	if err := repo.Finish(sess.ID, SessionResult{Reason: "exploded"}); err == nil {
		t.Error("Finish() with an unknown reason should fail")
	}
}

func TestSessionRepository_NotFound(t *testing.T) {
	s := newTestStore(t)
	repo := s.Sessions()

	if _, err := repo.Get("missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get() error = %v, want ErrNotFound", err)
	}
	if err := repo.Finish("missing", SessionResult{Reason: "cancelled"}); !errors.Is(err, ErrNotFound) {
		t.Errorf("Finish() error = %v, want ErrNotFound", err)
	}
}

func TestSessionRepository_List(t *testing.T) {
	s := newTestStore(t)
	repo := s.Sessions()

	base := time.Now().Add(-time.Hour)
	for i := 0; i < 5; i++ {
		sess := &Session{
			Locator:   "tcp://cam:9998",
			Capacity:  2,
			Attempt:   i + 1,
			StartedAt: base.Add(time.Duration(i) * time.Minute),
		}
		if err := repo.Create(sess); err != nil {
			t.Fatalf("Create() error = %v", err)
		}
	}

	all, err := repo.List(0)
	if err != nil {
		t.Fatalf("List(0) error = %v", err)
	}
	if len(all) != 5 {
		t.Fatalf("List(0) returned %d sessions, want 5", len(all))
	}
	if all[0].Attempt != 5 || all[4].Attempt != 1 {
		t.Errorf("List() should be newest first, got attempts %d..%d", all[0].Attempt, all[4].Attempt)
	}

	limited, err := repo.List(2)
	if err != nil {
		t.Fatalf("List(2) error = %v", err)
	}
	if len(limited) != 2 {
		t.Errorf("List(2) returned %d sessions, want 2", len(limited))
	}
}

func TestSessionRepository_ListEmpty(t *testing.T) {
	s := newTestStore(t)

	list, err := s.Sessions().List(10)
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if list == nil || len(list) != 0 {
		t.Errorf("List() = %v, want empty non-nil slice", list)
	}
}

func TestSettingsRepository(t *testing.T) {
	s := newTestStore(t)
	repo := s.Settings()

	if _, err := repo.Get("preview_enabled"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get() on missing key error = %v, want ErrNotFound", err)
	}
	if got := repo.Bool("preview_enabled", true); !got {
		t.Error("Bool() on missing key should return the default")
	}

	if err := repo.SetBool("preview_enabled", false); err != nil {
		t.Fatalf("SetBool() error = %v", err)
	}
	if got := repo.Bool("preview_enabled", true); got {
		t.Error("Bool() should return the stored false")
	}

	if err := repo.Set("preview_enabled", "maybe"); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	if got := repo.Bool("preview_enabled", true); !got {
		t.Error("Bool() should fall back to the default for unparseable values")
	}
}
