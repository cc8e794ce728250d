package db

import (
	"context"
	"fmt"
	"time"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// SeriesStats summarises one vital over the non-zero values of a period.
type SeriesStats struct {
	Count  int     `json:"count"`
	Mean   float64 `json:"mean"`
	StdDev float64 `json:"std_dev"`
	Min    float64 `json:"min"`
	Max    float64 `json:"max"`
}

// VitalsSummary summarises the records taken since a point in time.
type VitalsSummary struct {
	Since      time.Time   `json:"since"`
	Records    int         `json:"records"`
	HeartRate  SeriesStats `json:"heart_rate"`
	BreathRate SeriesStats `json:"breath_rate"`
	SpO2       SeriesStats `json:"spo2"`
}

func seriesStats(xs []float64) SeriesStats {
	if len(xs) == 0 {
		return SeriesStats{}
	}
	s := SeriesStats{Count: len(xs), Min: floats.Min(xs), Max: floats.Max(xs)}
	if len(xs) == 1 {
		s.Mean = xs[0]
		return s
	}
	s.Mean, s.StdDev = stat.MeanStdDev(xs, nil)
	return s
}

// Summary computes per-vital statistics over the records taken at or after
// since. Zero values mean "not known yet" and are left out.
func (db *DB) Summary(ctx context.Context, since time.Time) (VitalsSummary, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT heart_rate, breath_rate, spo2 FROM vitals WHERE recorded_at >= ?`,
		toMillis(since),
	)
	if err != nil {
		return VitalsSummary{}, fmt.Errorf("query summary: %w", err)
	}
	defer rows.Close()

	sum := VitalsSummary{Since: since}
	var hr, rr, spo2 []float64
	for rows.Next() {
		var h, r, s int
		if err := rows.Scan(&h, &r, &s); err != nil {
			return VitalsSummary{}, fmt.Errorf("scan summary: %w", err)
		}
		sum.Records++
		if h > 0 {
			hr = append(hr, float64(h))
		}
		if r > 0 {
			rr = append(rr, float64(r))
		}
		if s > 0 {
			spo2 = append(spo2, float64(s))
		}
	}
	if err := rows.Err(); err != nil {
		return VitalsSummary{}, err
	}

	sum.HeartRate = seriesStats(hr)
	sum.BreathRate = seriesStats(rr)
	sum.SpO2 = seriesStats(spo2)
	return sum, nil
}
