package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(t.TempDir())
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Server.Addr != "127.0.0.1:8080" || cfg.Server.BasePath != "/v0" || cfg.Log.Level != "info" {
		t.Fatalf("defaults %+v", cfg)
	}
}

func TestLoadOverridesDefaults(t *testing.T) {
	workspace := t.TempDir()
	raw := []byte("server:\n  addr: \"0.0.0.0:9000\"\nlog:\n  level: debug\n")
	if err := os.WriteFile(filepath.Join(workspace, "tasktrail.yml"), raw, 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	cfg, err := Load(workspace)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Server.Addr != "0.0.0.0:9000" {
		t.Fatalf("addr %q", cfg.Server.Addr)
	}
	if cfg.Log.Level != "debug" {
		t.Fatalf("level %q", cfg.Log.Level)
	}
	// untouched fields keep their defaults
	if cfg.Server.BasePath != "/v0" {
		t.Fatalf("base path %q", cfg.Server.BasePath)
	}
}

func TestFromYAMLRejectsBadValues(t *testing.T) {
	cases := []struct {
		name string
		raw  string
	}{
		{"bad base path", "server:\n  base_path: v0\n"},
		{"bad log level", "log:\n  level: verbose\n"},
		{"not yaml", ": definitely not yaml\n"},
	}
	for _, tc := range cases {
		if _, err := FromYAML([]byte(tc.raw)); err == nil {
			t.Errorf("%s: accepted", tc.name)
		}
	}
}
