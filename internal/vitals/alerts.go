package vitals

// AlertThresholds bound the vitals considered normal. Values strictly outside
// the range raise an alert.
type AlertThresholds struct {
	HRHigh  int `json:"hr_high"`
	HRLow   int `json:"hr_low"`
	RRHigh  int `json:"rr_high"`
	RRLow   int `json:"rr_low"`
	SpO2Low int `json:"spo2_low"`
}

func DefaultAlertThresholds() AlertThresholds {
	return AlertThresholds{HRHigh: 100, HRLow: 60, RRHigh: 30, RRLow: 10, SpO2Low: 90}
}

// AlertKind identifies the vital an alert refers to.
type AlertKind string

const (
	AlertHeartRate  AlertKind = "heart_rate"
	AlertBreathRate AlertKind = "breath_rate"
	AlertSpO2       AlertKind = "spo2"
)

// Alert is an out-of-range vital.
type Alert struct {
	Kind    AlertKind `json:"kind"`
	Value   int       `json:"value"`
	Message string    `json:"message"`
}

// EvaluateAlerts returns the alerts raised by rec. Unknown (zero) values and
// records taken while nobody is present raise nothing.
func EvaluateAlerts(rec VitalsRecord, present bool, th AlertThresholds) []Alert {
	if !present {
		return nil
	}
	var alerts []Alert
	if hr := rec.HeartRate; hr > 0 {
		switch {
		case hr > th.HRHigh:
			alerts = append(alerts, Alert{AlertHeartRate, hr, "Heart rate is high"})
		case hr < th.HRLow:
			alerts = append(alerts, Alert{AlertHeartRate, hr, "Heart rate is low"})
		}
	}
	if rr := rec.BreathRate; rr > 0 {
		switch {
		case rr > th.RRHigh:
			alerts = append(alerts, Alert{AlertBreathRate, rr, "Respiration rate is high"})
		case rr < th.RRLow:
			alerts = append(alerts, Alert{AlertBreathRate, rr, "Respiration rate is low"})
		}
	}
	if s := rec.SpO2; s > 0 && s < th.SpO2Low {
		alerts = append(alerts, Alert{AlertSpO2, s, "SpO2 is low"})
	}
	return alerts
}
