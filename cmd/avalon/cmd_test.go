package main

import (
	"os"
	"path/filepath"
	"sort"
	"testing"

	"github.com/neomody77/avalon-sub001/avconfig"
)

const validTOML = `
[[pools]]
id = "web"
policy = "round_robin"
  [[pools.servers]]
  address = "10.0.0.1:8080"

[[servers]]
name = "default"
listen = [":8080", ":8443"]

  [[servers.routes]]
  priority = 10
    [servers.routes.match]
    host = ["example.com", "*.wild.example.com", "example.com"]
    path_prefix = "/"
    [servers.routes.handler]
    kind = "reverse_proxy"
    pool = "web"

  [[servers.routes]]
  priority = 5
    [servers.routes.match]
    host = ["other.example.com"]
    path_prefix = "/api"
    [servers.routes.handler]
    kind = "reverse_proxy"
    pool = "web"
`

func writeFixture(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "avalon.toml")
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	return path
}

func TestRouteDomainsDedupesAndSkipsWildcards(t *testing.T) {
	path := writeFixture(t, validTOML)
	cfg, err := avconfig.Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	domains := routeDomains(cfg)
	sort.Strings(domains)

	want := []string{"example.com", "other.example.com"}
	if len(domains) != len(want) {
		t.Fatalf("got %v, want %v", domains, want)
	}
	for i := range want {
		if domains[i] != want[i] {
			t.Fatalf("got %v, want %v", domains, want)
		}
	}
}

const sharedListenerTOML = `
[[pools]]
id = "web"
policy = "round_robin"
  [[pools.servers]]
  address = "10.0.0.1:8080"

[[servers]]
name = "a"
listen = [":9090"]
  [[servers.routes]]
  priority = 10
    [servers.routes.match]
    path_prefix = "/a"
    [servers.routes.handler]
    kind = "reverse_proxy"
    pool = "web"

[[servers]]
name = "b"
listen = [":9090"]
  [[servers.routes]]
  priority = 10
    [servers.routes.match]
    path_prefix = "/b"
    [servers.routes.handler]
    kind = "reverse_proxy"
    pool = "web"
`

func TestBuildListenersDedupesSharedAddresses(t *testing.T) {
	path := writeFixture(t, sharedListenerTOML)
	cfg, err := avconfig.Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	servers := buildListeners(cfg, nil, nil, nil)
	if len(servers) != 1 {
		t.Fatalf("got %d listeners, want 1 for two server blocks sharing an address", len(servers))
	}
}

func TestRunValidateSucceedsOnGoodConfig(t *testing.T) {
	path := writeFixture(t, validTOML)
	if err := runValidate(path); err != nil {
		t.Fatalf("runValidate: %v", err)
	}
}

func TestRunValidateFailsWithExitCode3(t *testing.T) {
	path := writeFixture(t, "not valid toml [[[")
	err := runValidate(path)
	if err == nil {
		t.Fatalf("expected an error for invalid config")
	}
	exit, ok := err.(*exitError)
	if !ok {
		t.Fatalf("got error type %T, want *exitError", err)
	}
	if exit.code != 3 {
		t.Fatalf("got exit code %d, want 3", exit.code)
	}
}

func TestRunValidateFailsOnMissingFile(t *testing.T) {
	err := runValidate(filepath.Join(t.TempDir(), "nope.toml"))
	exit, ok := err.(*exitError)
	if !ok {
		t.Fatalf("got error type %T, want *exitError", err)
	}
	if exit.code != 3 {
		t.Fatalf("got exit code %d, want 3", exit.code)
	}
}
