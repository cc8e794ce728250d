package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/banshee-data/vitals.report/internal/vitals"
)

func writeConfig(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(body), 0644); err != nil {
		t.Fatalf("Failed to write test config: %v", err)
	}
	return path
}

func TestEmptyTuningConfig_Defaults(t *testing.T) {
	cfg := EmptyTuningConfig()

	if got := cfg.GetSampleRateHz(); got != 80 {
		t.Errorf("GetSampleRateHz() = %v, want 80", got)
	}
	if got := cfg.GetFlatDebounce(); got != 2*time.Second {
		t.Errorf("GetFlatDebounce() = %v, want 2s", got)
	}
	if got := cfg.GetHRPendingTimeout(); got != 15*time.Second {
		t.Errorf("GetHRPendingTimeout() = %v, want 15s", got)
	}
	if got := cfg.GetRecordQueueSize(); got != 64 {
		t.Errorf("GetRecordQueueSize() = %d, want 64", got)
	}

	// An empty tuning file yields exactly the pipeline defaults.
	if diff := cmp.Diff(vitals.DefaultConfig(), cfg.PipelineConfig()); diff != "" {
		t.Errorf("PipelineConfig mismatch (-want +got):\n%s", diff)
	}
}

func TestMustLoadDefaultConfig_MatchesBuiltinDefaults(t *testing.T) {
	cfg := MustLoadDefaultConfig()
	if diff := cmp.Diff(vitals.DefaultConfig(), cfg.PipelineConfig()); diff != "" {
		t.Errorf("defaults file drifted from vitals.DefaultConfig (-want +got):\n%s", diff)
	}
	if cfg.GetWaveformEvery() != 1 {
		t.Errorf("GetWaveformEvery() = %d, want 1", cfg.GetWaveformEvery())
	}
}

func TestLoadTuningConfig(t *testing.T) {
	path := writeConfig(t, "test_config.json", `{
  "commit_every_samples": 80,
  "flat_debounce": "3s",
  "hr_bounds": {"min": 30, "max": 220},
  "alert_spo2_low": 92
}`)

	cfg, err := LoadTuningConfig(path)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	pc := cfg.PipelineConfig()
	if pc.CommitEvery != 80 {
		t.Errorf("CommitEvery = %d, want 80", pc.CommitEvery)
	}
	if pc.FlatDebounce != 3*time.Second {
		t.Errorf("FlatDebounce = %v, want 3s", pc.FlatDebounce)
	}
	if diff := cmp.Diff(vitals.Bounds{Min: 30, Max: 220}, pc.HRBounds); diff != "" {
		t.Errorf("HRBounds mismatch (-want +got):\n%s", diff)
	}
	want := vitals.DefaultAlertThresholds()
	want.SpO2Low = 92
	if diff := cmp.Diff(want, pc.Alerts); diff != "" {
		t.Errorf("Alerts mismatch (-want +got):\n%s", diff)
	}
	// Omitted fields keep defaults.
	if pc.RRBounds != (vitals.Bounds{Min: 6, Max: 40}) {
		t.Errorf("RRBounds = %+v, want default", pc.RRBounds)
	}
}

func TestLoadTuningConfig_Errors(t *testing.T) {
	tests := []struct {
		name    string
		file    string
		body    string
		wantErr string
	}{
		{"wrong extension", "cfg.yaml", `{}`, ".json extension"},
		{"bad json", "cfg.json", `{`, "failed to parse"},
		{"bad duration", "cfg.json", `{"flat_debounce": "soon"}`, "invalid flat_debounce"},
		{"zero sample rate", "cfg.json", `{"sample_rate_hz": 0}`, "sample_rate_hz"},
		{"high pass above nyquist", "cfg.json", `{"ppg_high_pass_hz": 45}`, "ppg_high_pass_hz"},
		{"inverted bounds", "cfg.json", `{"rr_bounds": {"min": 40, "max": 6}}`, "rr_bounds"},
		{"commit every zero", "cfg.json", `{"commit_every_samples": 0}`, "commit_every_samples"},
		{"spo2 alpha", "cfg.json", `{"spo2_ema_alpha": 1.5}`, "spo2_ema_alpha"},
		{"queue size", "cfg.json", `{"record_queue_size": 0}`, "record_queue_size"},
		{"zero flat threshold", "cfg.json", `{"flat_std_threshold": 0}`, "flat_std_threshold"},
		{"zero amplitude threshold", "cfg.json", `{"presence_amplitude_threshold": 0}`, "presence_amplitude_threshold"},
		{"zero ramp step", "cfg.json", `{"hr_ramp_step": 0}`, "hr_ramp_step"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeConfig(t, tt.file, tt.body)
			_, err := LoadTuningConfig(path)
			if err == nil {
				t.Fatal("expected an error")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error %q does not mention %q", err, tt.wantErr)
			}
		})
	}
}

func TestLoadTuningConfig_Missing(t *testing.T) {
	if _, err := LoadTuningConfig(filepath.Join(t.TempDir(), "nope.json")); err == nil {
		t.Error("expected an error for a missing file")
	}
}

func TestLoadTuningConfig_TooLarge(t *testing.T) {
	big := `{"sample_rate_hz": 80` + strings.Repeat(" ", 1024*1024) + `}`
	path := writeConfig(t, "big.json", big)
	_, err := LoadTuningConfig(path)
	if err == nil || !strings.Contains(err.Error(), "too large") {
		t.Errorf("err = %v, want too large", err)
	}
}
