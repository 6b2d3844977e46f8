package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

func TestLoadCollabDefaultsAndDurations(t *testing.T) {
	path := filepath.Join(t.TempDir(), "collab.yaml")
	writeFile(t, path, `
Collab:
  lockTTL: "5m"
Auth:
  users:
    - id: "1"
      username: "alice"
      role: "annotator"
      password: "pw"
`)
	cfg, _, err := LoadCollab(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Collab.LockTTL != 5*time.Minute {
		t.Fatalf("lockTTL = %s", cfg.Collab.LockTTL)
	}
	if cfg.Collab.PresenceTTL != 30*time.Second || cfg.Collab.MirrorTTL != 20*time.Second || cfg.Running.Port != 8080 {
		t.Fatalf("defaults not applied: %+v", cfg.Collab)
	}
	if len(cfg.Auth.Users) != 1 || cfg.Auth.Users[0].Username != "alice" || cfg.Auth.Users[0].Password != "pw" {
		t.Fatalf("users = %+v", cfg.Auth.Users)
	}
}

func TestLoadClientDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "client.yaml")
	writeFile(t, path, `
Session:
  maxReconnectAttempts: 3
`)
	cfg, err := LoadClient(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Session.MaxReconnectAttempts != 3 || cfg.Session.ReconnectDelay != 3*time.Second || cfg.Session.HeartbeatInterval != 30*time.Second {
		t.Fatalf("session = %+v", cfg.Session)
	}
	if len(cfg.Server.WSCandidates) != 2 {
		t.Fatalf("candidates = %v", cfg.Server.WSCandidates)
	}

	if _, err := LoadClient(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatalf("explicit missing file must fail")
	}
}

func TestWatchCollabAppliesChanges(t *testing.T) {
	path := filepath.Join(t.TempDir(), "collab.yaml")
	writeFile(t, path, "Collab:\n  lockTTL: \"5m\"\n")
	_, v, err := LoadCollab(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	got := make(chan time.Duration, 4)
	WatchCollab(v, func(cfg *CollabConfig) { got <- cfg.Collab.LockTTL })

	writeFile(t, path, "Collab:\n  lockTTL: \"10m\"\n")
	deadline := time.After(3 * time.Second)
	for {
		select {
		case ttl := <-got:
			if ttl == 10*time.Minute {
				return
			}
		case <-deadline:
			t.Fatalf("config change not applied")
		}
	}
}
