package app

import (
	"os"
	"path/filepath"
	"testing"

	"biblfs/internal/config"
)

func TestGetDefaults(t *testing.T) {
	t.Run("uses env vars when set", func(t *testing.T) {
		t.Setenv("BIBLFS_CONFIG_PATH", "/custom/config.toml")
		t.Setenv("BIBLFS_HOME", "/custom/biblfs")

		defaults, err := GetDefaults()
		if err != nil {
			t.Fatalf("GetDefaults() error = %v", err)
		}

		if defaults["config_path"] != "/custom/config.toml" {
			t.Errorf("config_path = %q, want %q", defaults["config_path"], "/custom/config.toml")
		}
		if defaults["base_dir"] != "/custom/biblfs" {
			t.Errorf("base_dir = %q, want %q", defaults["base_dir"], "/custom/biblfs")
		}
		if defaults["log_dir"] != "/custom/biblfs/log" {
			t.Errorf("log_dir = %q, want %q", defaults["log_dir"], "/custom/biblfs/log")
		}
	})

	t.Run("falls back to home dir defaults", func(t *testing.T) {
		t.Setenv("BIBLFS_CONFIG_PATH", "")
		t.Setenv("BIBLFS_HOME", "")

		defaults, err := GetDefaults()
		if err != nil {
			t.Fatalf("GetDefaults() error = %v", err)
		}

		homeDir, _ := os.UserHomeDir()

		wantConfig := filepath.Join(homeDir, ".config", "biblfs.toml")
		if defaults["config_path"] != wantConfig {
			t.Errorf("config_path = %q, want %q", defaults["config_path"], wantConfig)
		}

		wantBase := filepath.Join(homeDir, ".local", "share", "biblfs")
		if defaults["base_dir"] != wantBase {
			t.Errorf("base_dir = %q, want %q", defaults["base_dir"], wantBase)
		}

		wantLog := filepath.Join(wantBase, "log")
		if defaults["log_dir"] != wantLog {
			t.Errorf("log_dir = %q, want %q", defaults["log_dir"], wantLog)
		}
	})
}

func TestLoadConfig(t *testing.T) {
	t.Run("missing file yields defaults", func(t *testing.T) {
		cfg, err := LoadConfig(filepath.Join(t.TempDir(), "absent.toml"), "library.db")
		if err != nil {
			t.Fatalf("LoadConfig() error = %v", err)
		}
		if cfg.Database.Path != "library.db" {
			t.Errorf("Database.Path = %q, want %q", cfg.Database.Path, "library.db")
		}
		if cfg.Mount.FsName != "bibliothecula" {
			t.Errorf("Mount.FsName = %q, want %q", cfg.Mount.FsName, "bibliothecula")
		}
	})

	t.Run("reads an existing file", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "biblfs.toml")
		want := config.NewConfig("/data/library.db")
		want.XAttr.NeverReplaceCommonTags = true
		if err := config.Init(path, want); err != nil {
			t.Fatalf("Init() error = %v", err)
		}

		cfg, err := LoadConfig(path, "ignored.db")
		if err != nil {
			t.Fatalf("LoadConfig() error = %v", err)
		}
		if cfg.Database.Path != "/data/library.db" {
			t.Errorf("Database.Path = %q, want %q", cfg.Database.Path, "/data/library.db")
		}
		if !cfg.XAttr.NeverReplaceCommonTags {
			t.Error("XAttr.NeverReplaceCommonTags = false, want true")
		}
	})
}
