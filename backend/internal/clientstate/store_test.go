package clientstate

import (
	"path/filepath"
	"testing"
)

func TestStorePersistsAcrossOpen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.toml")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if _, ok := s.Get("ws_notify_url"); ok {
		t.Fatalf("expected empty store")
	}
	if err := s.Set("ws_notify_url", "ws://127.0.0.1:8000/ws/notifications"); err != nil {
		t.Fatalf("set: %v", err)
	}
	if err := s.SetAuth(Auth{Token: "tok", UserID: "7", Username: "alice", Role: "annotator"}); err != nil {
		t.Fatalf("set auth: %v", err)
	}

	reopened, err := Open(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	v, ok := reopened.Get("ws_notify_url")
	if !ok || v != "ws://127.0.0.1:8000/ws/notifications" {
		t.Fatalf("sticky endpoint not persisted: %q %v", v, ok)
	}
	if a := reopened.Auth(); a.Token != "tok" || a.Username != "alice" {
		t.Fatalf("auth not persisted: %+v", a)
	}
}

func TestStoreDeleteAndClearAuth(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.toml")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	_ = s.Set("k", "v")
	_ = s.SetAuth(Auth{Token: "tok"})
	if err := s.Delete("k"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if err := s.Delete("missing"); err != nil {
		t.Fatalf("delete missing: %v", err)
	}
	if err := s.ClearAuth(); err != nil {
		t.Fatalf("clear auth: %v", err)
	}

	reopened, _ := Open(path)
	if _, ok := reopened.Get("k"); ok {
		t.Fatalf("deleted key came back")
	}
	if reopened.Auth().Token != "" {
		t.Fatalf("auth not cleared")
	}
}
