// ABOUTME: Tests for the SQLite principal store
// ABOUTME: Covers CRUD, filtering, duplicate detection, and not-found errors

package store

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLiteStore(":memory:")
	if err != nil {
		t.Fatalf("NewSQLiteStore failed: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func testPrincipal(id string) *Principal {
	return &Principal{
		ID:          id,
		Type:        PrincipalTypeClient,
		DisplayName: "Test Client",
		Status:      PrincipalStatusApproved,
		CreatedAt:   time.Now().UTC().Truncate(time.Second),
	}
}

func TestNewSQLiteStore(t *testing.T) {
	tmpDir := t.TempDir()
	dbPath := filepath.Join(tmpDir, "test.db")

	s, err := NewSQLiteStore(dbPath)
	if err != nil {
		t.Fatalf("NewSQLiteStore failed: %v", err)
	}
	defer s.Close()

	// Verify the database file was created
	if _, err := os.Stat(dbPath); os.IsNotExist(err) {
		t.Error("database file was not created")
	}
}

func TestNewSQLiteStore_CreatesDirectory(t *testing.T) {
	tmpDir := t.TempDir()
	dbPath := filepath.Join(tmpDir, "subdir", "nested", "test.db")

	s, err := NewSQLiteStore(dbPath)
	if err != nil {
		t.Fatalf("NewSQLiteStore failed: %v", err)
	}
	defer s.Close()

	if _, err := os.Stat(dbPath); os.IsNotExist(err) {
		t.Error("database file was not created in nested directory")
	}
}

func TestCreateAndGetPrincipal(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	want := testPrincipal("principal-1")
	if err := s.CreatePrincipal(ctx, want); err != nil {
		t.Fatalf("CreatePrincipal failed: %v", err)
	}

	got, err := s.GetPrincipal(ctx, "principal-1")
	if err != nil {
		t.Fatalf("GetPrincipal failed: %v", err)
	}

	if got.ID != want.ID {
		t.Errorf("ID = %q, want %q", got.ID, want.ID)
	}
	if got.Type != want.Type {
		t.Errorf("Type = %q, want %q", got.Type, want.Type)
	}
	if got.DisplayName != want.DisplayName {
		t.Errorf("DisplayName = %q, want %q", got.DisplayName, want.DisplayName)
	}
	if got.Status != want.Status {
		t.Errorf("Status = %q, want %q", got.Status, want.Status)
	}
	if !got.CreatedAt.Equal(want.CreatedAt) {
		t.Errorf("CreatedAt = %v, want %v", got.CreatedAt, want.CreatedAt)
	}
}

func TestCreatePrincipal_Duplicate(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.CreatePrincipal(ctx, testPrincipal("dup")); err != nil {
		t.Fatalf("CreatePrincipal failed: %v", err)
	}

	err := s.CreatePrincipal(ctx, testPrincipal("dup"))
	if !errors.Is(err, ErrDuplicatePrincipal) {
		t.Errorf("CreatePrincipal error = %v, want ErrDuplicatePrincipal", err)
	}
}

func TestGetPrincipal_NotFound(t *testing.T) {
	s := newTestStore(t)

	_, err := s.GetPrincipal(context.Background(), "missing")
	if !errors.Is(err, ErrPrincipalNotFound) {
		t.Errorf("GetPrincipal error = %v, want ErrPrincipalNotFound", err)
	}
}

func TestListPrincipals_Filter(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	approved := testPrincipal("approved-client")
	pending := testPrincipal("pending-client")
	pending.Status = PrincipalStatusPending
	service := testPrincipal("service-1")
	service.Type = PrincipalTypeService

	for _, p := range []*Principal{approved, pending, service} {
		if err := s.CreatePrincipal(ctx, p); err != nil {
			t.Fatalf("CreatePrincipal(%s) failed: %v", p.ID, err)
		}
	}

	all, err := s.ListPrincipals(ctx, PrincipalFilter{})
	if err != nil {
		t.Fatalf("ListPrincipals failed: %v", err)
	}
	if len(all) != 3 {
		t.Errorf("len(all) = %d, want 3", len(all))
	}

	clients, err := s.ListPrincipals(ctx, PrincipalFilter{Type: PrincipalTypeClient})
	if err != nil {
		t.Fatalf("ListPrincipals(clients) failed: %v", err)
	}
	if len(clients) != 2 {
		t.Errorf("len(clients) = %d, want 2", len(clients))
	}

	pendingOnly, err := s.ListPrincipals(ctx, PrincipalFilter{Status: PrincipalStatusPending})
	if err != nil {
		t.Fatalf("ListPrincipals(pending) failed: %v", err)
	}
	if len(pendingOnly) != 1 || pendingOnly[0].ID != "pending-client" {
		t.Errorf("pending filter returned %v, want [pending-client]", pendingOnly)
	}
}

func TestCountPrincipals(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	count, err := s.CountPrincipals(ctx, PrincipalFilter{})
	if err != nil {
		t.Fatalf("CountPrincipals failed: %v", err)
	}
	if count != 0 {
		t.Errorf("count = %d, want 0", count)
	}

	for _, id := range []string{"a", "b", "c"} {
		if err := s.CreatePrincipal(ctx, testPrincipal(id)); err != nil {
			t.Fatalf("CreatePrincipal(%s) failed: %v", id, err)
		}
	}

	count, err = s.CountPrincipals(ctx, PrincipalFilter{})
	if err != nil {
		t.Fatalf("CountPrincipals failed: %v", err)
	}
	if count != 3 {
		t.Errorf("count = %d, want 3", count)
	}
}

func TestUpdatePrincipalStatus(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.CreatePrincipal(ctx, testPrincipal("p1")); err != nil {
		t.Fatalf("CreatePrincipal failed: %v", err)
	}

	if err := s.UpdatePrincipalStatus(ctx, "p1", PrincipalStatusRevoked); err != nil {
		t.Fatalf("UpdatePrincipalStatus failed: %v", err)
	}

	got, err := s.GetPrincipal(ctx, "p1")
	if err != nil {
		t.Fatalf("GetPrincipal failed: %v", err)
	}
	if got.Status != PrincipalStatusRevoked {
		t.Errorf("Status = %q, want revoked", got.Status)
	}

	err = s.UpdatePrincipalStatus(ctx, "missing", PrincipalStatusApproved)
	if !errors.Is(err, ErrPrincipalNotFound) {
		t.Errorf("UpdatePrincipalStatus error = %v, want ErrPrincipalNotFound", err)
	}
}

func TestDeletePrincipal(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.CreatePrincipal(ctx, testPrincipal("p1")); err != nil {
		t.Fatalf("CreatePrincipal failed: %v", err)
	}

	if err := s.DeletePrincipal(ctx, "p1"); err != nil {
		t.Fatalf("DeletePrincipal failed: %v", err)
	}

	if _, err := s.GetPrincipal(ctx, "p1"); !errors.Is(err, ErrPrincipalNotFound) {
		t.Errorf("GetPrincipal after delete error = %v, want ErrPrincipalNotFound", err)
	}

	if err := s.DeletePrincipal(ctx, "p1"); !errors.Is(err, ErrPrincipalNotFound) {
		t.Errorf("DeletePrincipal twice error = %v, want ErrPrincipalNotFound", err)
	}
}
