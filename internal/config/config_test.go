package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestDefault(t *testing.T) {
	cfg := Default()
	if cfg.TicketAutoCloseAfter() != 2*time.Hour {
		t.Fatalf("auto close = %v", cfg.TicketAutoCloseAfter())
	}
	if cfg.SessionTTL() != 8*time.Hour {
		t.Fatalf("session ttl = %v", cfg.SessionTTL())
	}
	if cfg.Server.Listen != ":8080" || cfg.Server.BasePath != "/v1" {
		t.Fatalf("server = %+v", cfg.Server)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
}

func TestFromYAML(t *testing.T) {
	cfg, err := FromYAML([]byte(`
tickets:
  auto_close_after: 30m
sessions:
  ttl: 1h
server:
  listen: "127.0.0.1:9000"
  base_path: /api
webhooks:
  - url: https://example.com/hook
    events: ["ticket.submitted"]
    timeout_seconds: 3
`))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if cfg.TicketAutoCloseAfter() != 30*time.Minute {
		t.Fatalf("auto close = %v", cfg.TicketAutoCloseAfter())
	}
	if cfg.SessionTTL() != time.Hour {
		t.Fatalf("ttl = %v", cfg.SessionTTL())
	}
	if len(cfg.Webhooks) != 1 || cfg.Webhooks[0].URL != "https://example.com/hook" {
		t.Fatalf("webhooks = %+v", cfg.Webhooks)
	}
}

func TestDurationDefaultsWhenUnset(t *testing.T) {
	cfg, err := FromYAML([]byte(`server: {listen: ":8080"}`))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.TicketAutoCloseAfter() != 2*time.Hour || cfg.SessionTTL() != 8*time.Hour {
		t.Fatalf("defaults = %v / %v", cfg.TicketAutoCloseAfter(), cfg.SessionTTL())
	}
}

func TestValidateRejects(t *testing.T) {
	cases := []struct {
		name string
		yaml string
		want string
	}{
		{"bad duration", "tickets: {auto_close_after: soon}", "auto_close_after"},
		{"negative duration", "sessions: {ttl: -1h}", "must be positive"},
		{"base path", "server: {base_path: api}", "must start with /"},
		{"webhook url", "webhooks: [{secret: s}]", "url is required"},
		{"webhook timeout", "webhooks: [{url: \"https://x\", timeout_seconds: -1}]", "timeout_seconds"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := FromYAML([]byte(tc.yaml))
			if err == nil || !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("err = %v, want %q", err, tc.want)
			}
		})
	}
}

func TestLoadOptional(t *testing.T) {
	dir := t.TempDir()

	cfg, err := LoadOptional(dir)
	if err != nil {
		t.Fatalf("missing file: %v", err)
	}
	if cfg.Server.Listen != ":8080" {
		t.Fatalf("expected defaults, got %+v", cfg.Server)
	}

	if err := os.WriteFile(filepath.Join(dir, "controltower.yml"),
		[]byte("server: {listen: \":7000\"}\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err = LoadOptional(dir)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Server.Listen != ":7000" {
		t.Fatalf("listen = %q", cfg.Server.Listen)
	}
}

func TestLoadMissingFileErrors(t *testing.T) {
	if _, err := Load(t.TempDir()); err == nil {
		t.Fatal("expected error for missing config")
	}
}
