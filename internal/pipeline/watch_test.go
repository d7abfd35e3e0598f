package pipeline

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writePipeline(t *testing.T, path, tierName string) {
	t.Helper()
	doc := "name: ci\ntiers:\n  - name: " + tierName + "\n    jobs:\n      - name: j\n        command: \"true\"\n"
	if err := os.WriteFile(path, []byte(doc), 0644); err != nil {
		t.Fatalf("write pipeline: %v", err)
	}
}

func TestWatcher_Reload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ci.yaml")
	writePipeline(t, path, "first")

	w, err := NewWatcher(path)
	if err != nil {
		t.Fatalf("NewWatcher() error = %v", err)
	}
	first := w.Current()
	if first.Tiers[0].Name != "first" {
		t.Fatalf("initial tier = %q", first.Tiers[0].Name)
	}

	reloaded := make(chan *Config, 4)
	w.OnReload = func(c *Config) { reloaded <- c }

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.Run(ctx)

	// Invalid content is rejected and the old snapshot stays.
	if err := os.WriteFile(path, []byte("name: ci\n"), 0644); err != nil {
		t.Fatal(err)
	}
	writePipeline(t, path, "second")

	deadline := time.After(5 * time.Second)
	for {
		select {
		case c := <-reloaded:
			if c.Tiers[0].Name != "second" {
				continue
			}
			if w.Current() != c {
				t.Error("Current() should return the reloaded snapshot")
			}
			if first.Tiers[0].Name != "first" {
				t.Error("earlier snapshot must not change")
			}
			return
		case <-deadline:
			t.Fatal("timed out waiting for reload")
		}
	}
}
