package vitals

import (
	"math"
	"time"
)

// RawSample is one frame from the sensor front end.
type RawSample struct {
	ECG   int16  `json:"ecg"`
	BCG   int16  `json:"bcg"`
	Red   uint32 `json:"red"`
	IR    uint32 `json:"ir"`
	Temp1 uint16 `json:"temp1"`
	Temp2 uint16 `json:"temp2"`
}

// VitalsRecord is the set of vitals committed on one commit tick. Zero
// HeartRate, BreathRate or SpO2 means the value is not known yet.
type VitalsRecord struct {
	SessionID  string    `json:"session_id,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
	HeartRate  int       `json:"heart_rate"`
	BreathRate int       `json:"breath_rate"`
	T1         float64   `json:"t1"`
	T2         float64   `json:"t2"`
	SpO2       int       `json:"spo2"`
}

// Waveform is the filtered display sample emitted for every processed
// sample.
type Waveform struct {
	Timestamp time.Time `json:"timestamp"`
	ECG       int16     `json:"ecg"`
	BCG       int16     `json:"bcg"`
	PPG       uint32    `json:"ppg"`
}

// Temperature converts a raw temperature-channel reading to degrees Celsius
// rounded to one decimal.
func Temperature(raw uint32) float64 {
	return round1(float64(raw)*0.02 - 273.15)
}

func round1(v float64) float64 {
	return math.RoundToEven(v*10) / 10
}

func clampInt16(v float64) int16 {
	v = math.RoundToEven(v)
	switch {
	case v < math.MinInt16:
		return math.MinInt16
	case v > math.MaxInt16:
		return math.MaxInt16
	}
	return int16(v)
}

func clampUint32(v float64) uint32 {
	v = math.RoundToEven(v)
	switch {
	case v < 0:
		return 0
	case v > math.MaxUint32:
		return math.MaxUint32
	}
	return uint32(v)
}
