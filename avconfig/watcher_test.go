package avconfig

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"
)

func TestWatcherReloadsOnWrite(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "avalon.toml")
	if err := os.WriteFile(path, []byte(minimalValidTOML), 0o644); err != nil {
		t.Fatalf("writing initial fixture: %v", err)
	}

	w, err := NewWatcher(path, nil)
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}

	var mu sync.Mutex
	var reloaded *Config
	done := make(chan struct{}, 1)
	w.OnChange(func(cfg *Config) {
		mu.Lock()
		reloaded = cfg
		mu.Unlock()
		select {
		case done <- struct{}{}:
		default:
		}
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.Start(ctx)

	// Give fsnotify time to register the watch before writing.
	time.Sleep(50 * time.Millisecond)
	changed := minimalValidTOML + "\n[rate_limit]\nenabled = true\nmax_requests = 5\n"
	if err := os.WriteFile(path, []byte(changed), 0o644); err != nil {
		t.Fatalf("writing changed fixture: %v", err)
	}

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("OnChange was not invoked within 2s of a write")
	}

	mu.Lock()
	defer mu.Unlock()
	if reloaded == nil || !reloaded.RateLimit.Enabled {
		t.Fatalf("expected the reloaded config to reflect the file change")
	}
}

func TestWatcherKeepsPriorGenerationOnInvalidReload(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "avalon.toml")
	if err := os.WriteFile(path, []byte(minimalValidTOML), 0o644); err != nil {
		t.Fatalf("writing initial fixture: %v", err)
	}

	w, err := NewWatcher(path, nil)
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}

	called := make(chan struct{}, 1)
	w.OnChange(func(cfg *Config) {
		select {
		case called <- struct{}{}:
		default:
		}
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.Start(ctx)

	time.Sleep(50 * time.Millisecond)
	if err := os.WriteFile(path, []byte("not valid toml [[["), 0o644); err != nil {
		t.Fatalf("writing broken fixture: %v", err)
	}

	select {
	case <-called:
		t.Fatalf("OnChange must not be invoked for a reload that fails validation")
	case <-time.After(500 * time.Millisecond):
	}
}
