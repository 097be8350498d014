package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func validConfig() *Config {
	cfg := DefaultConfig()
	cfg.Calendars = []CalendarConfig{
		{Name: "work", URL: "https://example.com/work.ics", Color: "#FEE29B"},
		{Name: "home", URL: "https://example.com/home.ics", Color: "blue"},
	}
	return cfg
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{name: "valid", mutate: func(*Config) {}},
		{name: "empty window", mutate: func(c *Config) { c.HourStart = 9; c.HourEnd = 9 }, wantErr: true},
		{name: "inverted window", mutate: func(c *Config) { c.HourStart = 18; c.HourEnd = 8 }, wantErr: true},
		{name: "hour start out of range", mutate: func(c *Config) { c.HourStart = -1 }, wantErr: true},
		{name: "hour end out of range", mutate: func(c *Config) { c.HourEnd = 25 }, wantErr: true},
		{name: "bad rotation", mutate: func(c *Config) { c.Rotation = 45 }, wantErr: true},
		{name: "rotation 270", mutate: func(c *Config) { c.Rotation = 270 }},
		{name: "missing calendar name", mutate: func(c *Config) { c.Calendars[0].Name = "" }, wantErr: true},
		{name: "missing calendar url", mutate: func(c *Config) { c.Calendars[1].URL = "" }, wantErr: true},
		{name: "missing calendar color", mutate: func(c *Config) { c.Calendars[0].Color = "" }, wantErr: true},
		{name: "unresolvable color", mutate: func(c *Config) { c.Calendars[0].Color = "not-a-color" }, wantErr: true},
		{name: "bad grid color", mutate: func(c *Config) { c.GridColor = "#zz0000" }, wantErr: true},
		{name: "bad display", mutate: func(c *Config) { c.Display = "hdmi" }, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected validation error, got nil")
				}
				var cerr *Error
				if !errors.As(err, &cerr) {
					t.Fatalf("expected *config.Error, got %T: %v", err, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected validation error: %v", err)
			}
		})
	}
}

func TestLoadCreatesDefault(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "sub", "config.yaml")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.HourStart >= cfg.HourEnd {
		t.Errorf("default window invalid: [%d,%d)", cfg.HourStart, cfg.HourEnd)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("default config was not written: %v", err)
	}
	if perm := info.Mode().Perm(); perm != 0o600 {
		t.Errorf("config perms = %o, want 600", perm)
	}
}

func TestLoadSaveRoundtrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")

	want := validConfig()
	want.Timezone = "Europe/Berlin"
	want.HourStart = 8
	want.HourEnd = 18
	want.Rotation = 90
	want.Calendars[0].Exclude = []string{"declined"}

	if err := Save(path, want); err != nil {
		t.Fatalf("Save: %v", err)
	}
	got, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if got.Timezone != want.Timezone {
		t.Errorf("Timezone = %q, want %q", got.Timezone, want.Timezone)
	}
	if got.HourStart != 8 || got.HourEnd != 18 {
		t.Errorf("window = [%d,%d), want [8,18)", got.HourStart, got.HourEnd)
	}
	if got.Rotation != 90 {
		t.Errorf("Rotation = %d, want 90", got.Rotation)
	}
	if len(got.Calendars) != 2 {
		t.Fatalf("Calendars len = %d, want 2", len(got.Calendars))
	}
	if got.Calendars[0].Exclude[0] != "declined" {
		t.Errorf("Exclude not preserved: %v", got.Calendars[0].Exclude)
	}
}

func TestLoadRejectsInvalid(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	bad := "hour_start: 20\nhour_end: 8\n"
	if err := os.WriteFile(path, []byte(bad), 0o600); err != nil {
		t.Fatal(err)
	}

	if _, err := Load(path); err == nil {
		t.Fatal("expected error for inverted hour window")
	}
}
