package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/banshee-data/vitals.report/internal/vitals"
)

// DefaultConfigPath is the path to the canonical tuning defaults file.
const DefaultConfigPath = "config/tuning.defaults.json"

// TuningConfig represents the root configuration for tuning parameters.
// Every field is optional; the Get* accessors supply defaults for omitted
// fields, so partial files are safe.
type TuningConfig struct {
	// Sampling and commit cadence
	SampleRateHz       *float64 `json:"sample_rate_hz,omitempty"`
	CommitEverySamples *int     `json:"commit_every_samples,omitempty"`

	// Presence params
	PresenceAmplitudeThreshold *uint32  `json:"presence_amplitude_threshold,omitempty"`
	FlatStdThreshold           *float64 `json:"flat_std_threshold,omitempty"`
	FlatDebounce               *string  `json:"flat_debounce,omitempty"` // duration string like "2s"
	FlatWindow                 *int     `json:"flat_window,omitempty"`

	// Conditioning params
	PPGHighPassHz *float64 `json:"ppg_high_pass_hz,omitempty"`
	BCGHighPassHz *float64 `json:"bcg_high_pass_hz,omitempty"`

	// Rate params
	HRBounds           *vitals.Bounds `json:"hr_bounds,omitempty"`
	RRBounds           *vitals.Bounds `json:"rr_bounds,omitempty"`
	HROutlierThreshold *int           `json:"hr_outlier_threshold,omitempty"`
	HRMaxStep          *int           `json:"hr_max_step,omitempty"`
	HRConfirmTolerance *int           `json:"hr_confirm_tolerance,omitempty"`
	HRRampStep         *int           `json:"hr_ramp_step,omitempty"`
	HRPendingTimeout   *string        `json:"hr_pending_timeout,omitempty"` // duration string like "15s"

	// SpO2 params
	SpO2Window   *int     `json:"spo2_window,omitempty"`
	SpO2EMAAlpha *float64 `json:"spo2_ema_alpha,omitempty"`

	// Alert thresholds
	AlertHRHigh  *int `json:"alert_hr_high,omitempty"`
	AlertHRLow   *int `json:"alert_hr_low,omitempty"`
	AlertRRHigh  *int `json:"alert_rr_high,omitempty"`
	AlertRRLow   *int `json:"alert_rr_low,omitempty"`
	AlertSpO2Low *int `json:"alert_spo2_low,omitempty"`

	// Host params
	RecordQueueSize *int `json:"record_queue_size,omitempty"`
	WaveformEvery   *int `json:"waveform_every,omitempty"`
}

// EmptyTuningConfig returns a TuningConfig with all fields set to nil.
func EmptyTuningConfig() *TuningConfig {
	return &TuningConfig{}
}

// LoadTuningConfig loads a TuningConfig from a JSON file.
// The file is validated to ensure it has a .json extension and is under the max file size.
func LoadTuningConfig(path string) (*TuningConfig, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	// Check file size for safety (max 1MB)
	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	const maxFileSize = 1 * 1024 * 1024 // 1MB
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := EmptyTuningConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// MustLoadDefaultConfig loads the canonical tuning defaults from DefaultConfigPath.
// It searches for the file in the current directory and common parent directories.
// Panics if the file cannot be loaded, intended for test setup.
func MustLoadDefaultConfig() *TuningConfig {
	candidates := []string{
		DefaultConfigPath,
		"../" + DefaultConfigPath,
		"../../" + DefaultConfigPath,    // from internal/config/
		"../../../" + DefaultConfigPath, // deeper packages
	}
	for _, path := range candidates {
		if cfg, err := LoadTuningConfig(path); err == nil {
			return cfg
		}
	}
	panic("cannot find " + DefaultConfigPath + " - run tests from repository root")
}

// Validate checks that the configuration values are valid.
func (c *TuningConfig) Validate() error {
	if c.SampleRateHz != nil && *c.SampleRateHz <= 0 {
		return fmt.Errorf("sample_rate_hz must be positive, got %f", *c.SampleRateHz)
	}
	if c.CommitEverySamples != nil && *c.CommitEverySamples < 1 {
		return fmt.Errorf("commit_every_samples must be at least 1, got %d", *c.CommitEverySamples)
	}
	if c.FlatWindow != nil && *c.FlatWindow < 2 {
		return fmt.Errorf("flat_window must be at least 2, got %d", *c.FlatWindow)
	}
	// The pipeline treats zero as unset, so zero thresholds are rejected
	// rather than silently replaced by the defaults.
	if c.FlatStdThreshold != nil && *c.FlatStdThreshold <= 0 {
		return fmt.Errorf("flat_std_threshold must be positive, got %f", *c.FlatStdThreshold)
	}
	if c.PresenceAmplitudeThreshold != nil && *c.PresenceAmplitudeThreshold == 0 {
		return fmt.Errorf("presence_amplitude_threshold must be positive")
	}

	for name, v := range map[string]*string{
		"flat_debounce":      c.FlatDebounce,
		"hr_pending_timeout": c.HRPendingTimeout,
	} {
		if v == nil || *v == "" {
			continue
		}
		if _, err := time.ParseDuration(*v); err != nil {
			return fmt.Errorf("invalid %s '%s': %w", name, *v, err)
		}
	}

	sampleRate := c.GetSampleRateHz()
	for name, v := range map[string]*float64{
		"ppg_high_pass_hz": c.PPGHighPassHz,
		"bcg_high_pass_hz": c.BCGHighPassHz,
	} {
		if v != nil && (*v <= 0 || *v >= sampleRate/2) {
			return fmt.Errorf("%s must be between 0 and %.1f Hz, got %f", name, sampleRate/2, *v)
		}
	}

	for name, b := range map[string]*vitals.Bounds{"hr_bounds": c.HRBounds, "rr_bounds": c.RRBounds} {
		if b != nil && (b.Min <= 0 || b.Max <= b.Min) {
			return fmt.Errorf("%s must satisfy 0 < min < max, got [%d, %d]", name, b.Min, b.Max)
		}
	}

	for name, v := range map[string]*int{
		"hr_max_step":          c.HRMaxStep,
		"hr_confirm_tolerance": c.HRConfirmTolerance,
		"hr_ramp_step":         c.HRRampStep,
	} {
		if v != nil && *v < 1 {
			return fmt.Errorf("%s must be at least 1, got %d", name, *v)
		}
	}
	if c.SpO2Window != nil && *c.SpO2Window < 3 {
		return fmt.Errorf("spo2_window must be at least 3, got %d", *c.SpO2Window)
	}
	if c.SpO2EMAAlpha != nil && (*c.SpO2EMAAlpha <= 0 || *c.SpO2EMAAlpha > 1) {
		return fmt.Errorf("spo2_ema_alpha must be in (0, 1], got %f", *c.SpO2EMAAlpha)
	}
	if c.RecordQueueSize != nil && *c.RecordQueueSize < 1 {
		return fmt.Errorf("record_queue_size must be at least 1, got %d", *c.RecordQueueSize)
	}
	if c.WaveformEvery != nil && *c.WaveformEvery < 1 {
		return fmt.Errorf("waveform_every must be at least 1, got %d", *c.WaveformEvery)
	}
	return nil
}

func durationOr(s *string, def time.Duration) time.Duration {
	if s == nil || *s == "" {
		return def
	}
	d, err := time.ParseDuration(*s)
	if err != nil {
		return def
	}
	return d
}

// GetSampleRateHz returns the sample_rate_hz value or the default.
func (c *TuningConfig) GetSampleRateHz() float64 {
	if c.SampleRateHz == nil {
		return 80
	}
	return *c.SampleRateHz
}

// GetCommitEverySamples returns the commit_every_samples value or the default.
func (c *TuningConfig) GetCommitEverySamples() int {
	if c.CommitEverySamples == nil {
		return 100
	}
	return *c.CommitEverySamples
}

// GetPresenceAmplitudeThreshold returns the presence_amplitude_threshold value or the default.
func (c *TuningConfig) GetPresenceAmplitudeThreshold() uint32 {
	if c.PresenceAmplitudeThreshold == nil {
		return 20000
	}
	return *c.PresenceAmplitudeThreshold
}

// GetFlatStdThreshold returns the flat_std_threshold value or the default.
func (c *TuningConfig) GetFlatStdThreshold() float64 {
	if c.FlatStdThreshold == nil {
		return 10
	}
	return *c.FlatStdThreshold
}

// GetFlatDebounce parses and returns the FlatDebounce as a time.Duration.
func (c *TuningConfig) GetFlatDebounce() time.Duration {
	return durationOr(c.FlatDebounce, 2*time.Second)
}

// GetFlatWindow returns the flat_window value or the default.
func (c *TuningConfig) GetFlatWindow() int {
	if c.FlatWindow == nil {
		return 50
	}
	return *c.FlatWindow
}

// GetPPGHighPassHz returns the ppg_high_pass_hz value or the default.
func (c *TuningConfig) GetPPGHighPassHz() float64 {
	if c.PPGHighPassHz == nil {
		return 0.7
	}
	return *c.PPGHighPassHz
}

// GetBCGHighPassHz returns the bcg_high_pass_hz value or the default.
func (c *TuningConfig) GetBCGHighPassHz() float64 {
	if c.BCGHighPassHz == nil {
		return 0.1
	}
	return *c.BCGHighPassHz
}

// GetHRBounds returns the hr_bounds value or the default.
func (c *TuningConfig) GetHRBounds() vitals.Bounds {
	if c.HRBounds == nil {
		return vitals.Bounds{Min: 40, Max: 200}
	}
	return *c.HRBounds
}

// GetRRBounds returns the rr_bounds value or the default.
func (c *TuningConfig) GetRRBounds() vitals.Bounds {
	if c.RRBounds == nil {
		return vitals.Bounds{Min: 6, Max: 40}
	}
	return *c.RRBounds
}

// GetHROutlierThreshold returns the hr_outlier_threshold value or the default.
func (c *TuningConfig) GetHROutlierThreshold() int {
	if c.HROutlierThreshold == nil {
		return 15
	}
	return *c.HROutlierThreshold
}

// GetHRMaxStep returns the hr_max_step value or the default.
func (c *TuningConfig) GetHRMaxStep() int {
	if c.HRMaxStep == nil {
		return 5
	}
	return *c.HRMaxStep
}

// GetHRConfirmTolerance returns the hr_confirm_tolerance value or the default.
func (c *TuningConfig) GetHRConfirmTolerance() int {
	if c.HRConfirmTolerance == nil {
		return 5
	}
	return *c.HRConfirmTolerance
}

// GetHRRampStep returns the hr_ramp_step value or the default.
func (c *TuningConfig) GetHRRampStep() int {
	if c.HRRampStep == nil {
		return 10
	}
	return *c.HRRampStep
}

// GetHRPendingTimeout parses and returns the HRPendingTimeout as a time.Duration.
func (c *TuningConfig) GetHRPendingTimeout() time.Duration {
	return durationOr(c.HRPendingTimeout, 15*time.Second)
}

// GetSpO2Window returns the spo2_window value or the default.
func (c *TuningConfig) GetSpO2Window() int {
	if c.SpO2Window == nil {
		return 160
	}
	return *c.SpO2Window
}

// GetSpO2EMAAlpha returns the spo2_ema_alpha value or the default.
func (c *TuningConfig) GetSpO2EMAAlpha() float64 {
	if c.SpO2EMAAlpha == nil {
		return 0.2
	}
	return *c.SpO2EMAAlpha
}

// GetAlertThresholds returns the alert thresholds, defaulting each omitted one.
func (c *TuningConfig) GetAlertThresholds() vitals.AlertThresholds {
	th := vitals.DefaultAlertThresholds()
	if c.AlertHRHigh != nil {
		th.HRHigh = *c.AlertHRHigh
	}
	if c.AlertHRLow != nil {
		th.HRLow = *c.AlertHRLow
	}
	if c.AlertRRHigh != nil {
		th.RRHigh = *c.AlertRRHigh
	}
	if c.AlertRRLow != nil {
		th.RRLow = *c.AlertRRLow
	}
	if c.AlertSpO2Low != nil {
		th.SpO2Low = *c.AlertSpO2Low
	}
	return th
}

// GetRecordQueueSize returns the record_queue_size value or the default.
func (c *TuningConfig) GetRecordQueueSize() int {
	if c.RecordQueueSize == nil {
		return 64
	}
	return *c.RecordQueueSize
}

// GetWaveformEvery returns the waveform_every value or the default.
func (c *TuningConfig) GetWaveformEvery() int {
	if c.WaveformEvery == nil {
		return 1
	}
	return *c.WaveformEvery
}

// PipelineConfig builds the pipeline configuration. Parameters that are not
// exposed in the tuning file keep their vitals.DefaultConfig values.
func (c *TuningConfig) PipelineConfig() vitals.Config {
	cfg := vitals.DefaultConfig()
	cfg.SampleRateHz = c.GetSampleRateHz()
	cfg.CommitEvery = c.GetCommitEverySamples()
	cfg.PresenceAmplitudeThreshold = c.GetPresenceAmplitudeThreshold()
	cfg.FlatStdThreshold = c.GetFlatStdThreshold()
	cfg.FlatDebounce = c.GetFlatDebounce()
	cfg.FlatWindow = c.GetFlatWindow()
	cfg.PPGHighPassHz = c.GetPPGHighPassHz()
	cfg.BCGHighPassHz = c.GetBCGHighPassHz()
	cfg.HRBounds = c.GetHRBounds()
	cfg.RRBounds = c.GetRRBounds()
	cfg.HROutlierThreshold = c.GetHROutlierThreshold()
	cfg.HRMaxStep = c.GetHRMaxStep()
	cfg.HRConfirmTolerance = c.GetHRConfirmTolerance()
	cfg.HRRampStep = c.GetHRRampStep()
	cfg.HRPendingTimeout = c.GetHRPendingTimeout()
	cfg.SpO2Window = c.GetSpO2Window()
	cfg.SpO2EMAAlpha = c.GetSpO2EMAAlpha()
	cfg.Alerts = c.GetAlertThresholds()
	return cfg
}
