package config

import (
	"os"
	"path/filepath"
	"testing"
)

func setTempConfigHome(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", dir)
	t.Setenv("HOME", dir)
	t.Setenv("APPDATA", dir)
	return dir
}

func TestLoadDefaults(t *testing.T) {
	setTempConfigHome(t)

	cfg, err := Load()
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Engine.RingBufferMillis != 100 {
		t.Errorf("ring buffer millis %d, want 100", cfg.Engine.RingBufferMillis)
	}
	if cfg.Engine.FramesPerBuffer != 512 {
		t.Errorf("frames per buffer %d, want 512", cfg.Engine.FramesPerBuffer)
	}
	freqs := cfg.EQFrequencies()
	if freqs != [3]float64{200, 1000, 3500} {
		t.Errorf("EQ frequencies %v", freqs)
	}
}

func TestSaveAndLoadRoundTrip(t *testing.T) {
	setTempConfigHome(t)

	cfg, err := Load()
	if err != nil {
		t.Fatal(err)
	}
	cfg.Device.SourceUID = "virtual-source"
	cfg.Device.OutputUID = "speakers"
	cfg.Engine.RingBufferMillis = 250
	cfg.EQ.MidPeakHz = 1200
	cfg.Alias = map[string][]string{"com.example.app": {"com.example.app.helper"}}

	if err := cfg.Save(); err != nil {
		t.Fatal(err)
	}

	loaded, err := Load()
	if err != nil {
		t.Fatal(err)
	}
	if loaded.Device.SourceUID != "virtual-source" || loaded.Device.OutputUID != "speakers" {
		t.Errorf("device config %+v", loaded.Device)
	}
	if loaded.Engine.RingBufferMillis != 250 {
		t.Errorf("ring buffer millis %d, want 250", loaded.Engine.RingBufferMillis)
	}
	if loaded.EQ.MidPeakHz != 1200 {
		t.Errorf("mid peak %f, want 1200", loaded.EQ.MidPeakHz)
	}
	if helpers := loaded.Alias["com.example.app"]; len(helpers) != 1 || helpers[0] != "com.example.app.helper" {
		t.Errorf("aliases %v", loaded.Alias)
	}
}

func TestLoadCorruptFileFails(t *testing.T) {
	dir := setTempConfigHome(t)

	path := filepath.Join(dir, "mixbus", "config.json")
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte("{not json"), 0644); err != nil {
		t.Fatal(err)
	}

	if _, err := Load(); err == nil {
		t.Fatal("expected error loading corrupt config")
	}
}
