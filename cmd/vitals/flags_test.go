package main

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/banshee-data/vitals.report/internal/serialmux"
)

func TestFlagDefaults(t *testing.T) {
	if *listen != ":8080" {
		t.Errorf("expected listen default :8080, got %q", *listen)
	}
	if *baudRate != serialmux.DefaultBaudRate {
		t.Errorf("expected baud default %d, got %d", serialmux.DefaultBaudRate, *baudRate)
	}
	if *devMode {
		t.Error("expected dev mode to be off by default")
	}
	if *natsURL != "" || *redisAddr != "" {
		t.Error("expected publishers to be disabled by default")
	}
}

func TestChooseSource(t *testing.T) {
	tests := []struct {
		name   string
		dev    bool
		serial string
		want   sourceMode
	}{
		{"default is tcp bridge", false, "", sourceTCP},
		{"serial path selects uart", false, "/dev/ttyUSB0", sourceSerial},
		{"dev wins over serial", true, "/dev/ttyUSB0", sourceSimulator},
		{"dev alone", true, "", sourceSimulator},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := chooseSource(tt.dev, tt.serial); got != tt.want {
				t.Errorf("chooseSource(%v, %q) = %v, want %v", tt.dev, tt.serial, got, tt.want)
			}
		})
	}
}

func TestRunMigrate(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vitals.db")
	if code := runMigrate([]string{"-db", path, "up"}); code != 0 {
		t.Fatalf("migrate up exit code = %d", code)
	}
	if code := runMigrate([]string{"-db", path, "status"}); code != 0 {
		t.Fatalf("migrate status exit code = %d", code)
	}
	if code := runMigrate([]string{"-db", path}); code != 2 {
		t.Errorf("migrate without command exit code = %d, want 2", code)
	}
	if code := runMigrate([]string{"-db", path, "sideways"}); code == 0 {
		t.Error("expected unknown migrate command to fail")
	}
}

func TestLoadTuningDefaults(t *testing.T) {
	cfg, err := loadTuning()
	if err != nil {
		t.Fatalf("loadTuning: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if got := cfg.GetCommitEverySamples(); got != 100 {
		t.Errorf("commit every = %d, want 100", got)
	}
	if got := cfg.PipelineConfig().FlatDebounce; got != 2*time.Second {
		t.Errorf("flat debounce = %v, want 2s", got)
	}
}
