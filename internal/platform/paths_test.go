package platform

import (
	"path/filepath"
	"testing"
)

func TestPathsForLinuxXDG(t *testing.T) {
	env := map[string]string{
		"XDG_CONFIG_HOME": "/home/u/.config-custom",
		"XDG_DATA_HOME":   "/home/u/.data-custom",
	}
	p, err := PathsFor("linux", env, "/home/u/.config", "/home/u/.local/share", "flode")
	if err != nil {
		t.Fatalf("PathsFor: %v", err)
	}
	if p.ConfigPath != filepath.Join("/home/u/.config-custom", "flode", "config.toml") {
		t.Fatalf("config path = %q", p.ConfigPath)
	}
	if p.DBPath != filepath.Join("/home/u/.data-custom", "flode", "flode.db") {
		t.Fatalf("db path = %q", p.DBPath)
	}
}

func TestPathsForLinuxWithoutXDGFallsBack(t *testing.T) {
	p, err := PathsFor("linux", map[string]string{}, "/home/u/.config", "/home/u/.local/share", "flode")
	if err != nil {
		t.Fatalf("PathsFor: %v", err)
	}
	if p.ConfigPath != filepath.Join("/home/u/.config", "flode", "config.toml") {
		t.Fatalf("config path = %q", p.ConfigPath)
	}
	if p.DataDir != filepath.Join("/home/u/.local/share", "flode") {
		t.Fatalf("data dir = %q", p.DataDir)
	}
}

func TestPathsForWindows(t *testing.T) {
	env := map[string]string{
		"APPDATA":      `C:\Users\u\AppData\Roaming`,
		"LOCALAPPDATA": `C:\Users\u\AppData\Local`,
	}
	p, err := PathsFor("windows", env, `C:\fallback`, `C:\fallback`, "flode")
	if err != nil {
		t.Fatalf("PathsFor: %v", err)
	}
	if p.ConfigPath != filepath.Join(`C:\Users\u\AppData\Roaming`, "flode", "config.toml") {
		t.Fatalf("config path = %q", p.ConfigPath)
	}
	if p.DBPath != filepath.Join(`C:\Users\u\AppData\Local`, "flode", "flode.db") {
		t.Fatalf("db path = %q", p.DBPath)
	}
}

func TestPathsForRejectsEmptyInputs(t *testing.T) {
	if _, err := PathsFor("linux", nil, "", "/data", "flode"); err == nil {
		t.Fatal("expected error for empty config dir")
	}
	if _, err := PathsFor("linux", nil, "/config", "/data", "  "); err == nil {
		t.Fatal("expected error for empty app name")
	}
}
