package db

import (
	"bytes"
	"compress/gzip"
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/stat"

	"github.com/banshee-data/vitals.report/internal/vitals"
)

var t0 = time.Date(2025, 4, 2, 23, 0, 0, 0, time.UTC)

func setupTestDB(t *testing.T) *DB {
	t.Helper()
	path := filepath.Join(t.TempDir(), "vitals.db")
	db, err := NewDB(path)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func record(session string, offset time.Duration, hr, rr, spo2 int) vitals.VitalsRecord {
	return vitals.VitalsRecord{
		SessionID:  session,
		Timestamp:  t0.Add(offset),
		HeartRate:  hr,
		BreathRate: rr,
		T1:         36.5,
		T2:         36.7,
		SpO2:       spo2,
	}
}

func TestNewDB_Migrates(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vitals.db")
	db, err := NewDB(path)
	require.NoError(t, err)

	latest, err := LatestMigrationVersion()
	require.NoError(t, err)
	assert.Equal(t, uint(2), latest)

	version, dirty, err := db.MigrateVersion()
	require.NoError(t, err)
	assert.Equal(t, latest, version)
	assert.False(t, dirty)
	require.NoError(t, db.Close())

	// Reopening an up-to-date database is a no-op.
	db, err = NewDB(path)
	require.NoError(t, err)
	defer db.Close()
	assert.Equal(t, path, db.Path())
}

func TestMigrateDownAndUp(t *testing.T) {
	db := setupTestDB(t)
	require.NoError(t, db.MigrateDown())

	version, _, err := db.MigrateVersion()
	require.NoError(t, err)
	assert.Equal(t, uint(1), version)
	err = db.RecordVitals(context.Background(), record("", 0, 70, 16, 98))
	assert.Error(t, err, "vitals table is gone")

	require.NoError(t, db.MigrateUp())
	require.NoError(t, db.RecordVitals(context.Background(), record("", 0, 70, 16, 98)))
}

func TestRecordVitals_RoundTrip(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	require.NoError(t, db.StartSession(ctx, "s1", t0))
	want := []vitals.VitalsRecord{
		record("s1", 0, 72, 18, 97),
		record("s1", 1250*time.Millisecond, 73, 18, 97),
		// A record for an unknown session creates it.
		record("s2", 10*time.Second, 0, 0, 0),
		record("", 11*time.Second, 60, 12, 95),
	}
	for _, rec := range want {
		require.NoError(t, db.RecordVitals(ctx, rec))
	}
	require.NoError(t, db.EndSession(ctx, "s1", t0.Add(5*time.Second)))

	got, err := db.VitalsSince(ctx, t0, 0)
	require.NoError(t, err)
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("VitalsSince mismatch (-want +got):\n%s", diff)
	}

	sessions, err := db.Sessions(ctx, 0)
	require.NoError(t, err)
	end := t0.Add(5 * time.Second)
	wantSessions := []SessionInfo{
		{ID: "s2", StartedAt: t0.Add(10 * time.Second), Records: 1},
		{ID: "s1", StartedAt: t0, EndedAt: &end, Records: 2},
	}
	if diff := cmp.Diff(wantSessions, sessions); diff != "" {
		t.Errorf("Sessions mismatch (-want +got):\n%s", diff)
	}

	s, err := db.Session(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, 2, s.Records)
	_, err = db.Session(ctx, "missing")
	assert.True(t, errors.Is(err, ErrNoSession))

	// Starting a known session keeps its original start.
	require.NoError(t, db.StartSession(ctx, "s1", t0.Add(time.Hour)))
	s, err = db.Session(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, t0, s.StartedAt)
}

func TestVitalsSince_LimitKeepsMostRecent(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	for i := 0; i < 10; i++ {
		require.NoError(t, db.RecordVitals(ctx, record("s", time.Duration(i)*time.Second, 60+i, 15, 97)))
	}

	got, err := db.VitalsSince(ctx, t0.Add(2*time.Second), 3)
	require.NoError(t, err)
	var hrs []int
	for _, r := range got {
		hrs = append(hrs, r.HeartRate)
	}
	assert.Equal(t, []int{67, 68, 69}, hrs)

	got, err = db.VitalsSince(ctx, t0.Add(time.Minute), 3)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestSummary(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	hr := []int{70, 72, 0, 75, 71}
	rr := []int{16, 0, 18, 17, 0}
	spo2 := []int{97, 98, 0, 0, 0}
	for i := range hr {
		require.NoError(t, db.RecordVitals(ctx, record("s", time.Duration(i)*time.Second, hr[i], rr[i], spo2[i])))
	}
	// Too old to be summarised.
	require.NoError(t, db.RecordVitals(ctx, record("s", -time.Hour, 150, 40, 80)))

	sum, err := db.Summary(ctx, t0)
	require.NoError(t, err)
	assert.Equal(t, 5, sum.Records)

	hrVals := []float64{70, 72, 75, 71}
	mean, std := stat.MeanStdDev(hrVals, nil)
	assert.Equal(t, 4, sum.HeartRate.Count)
	assert.InDelta(t, mean, sum.HeartRate.Mean, 1e-9)
	assert.InDelta(t, std, sum.HeartRate.StdDev, 1e-9)
	assert.Equal(t, 70.0, sum.HeartRate.Min)
	assert.Equal(t, 75.0, sum.HeartRate.Max)

	assert.Equal(t, SeriesStats{Count: 3, Mean: 17, StdDev: 1, Min: 16, Max: 18}, sum.BreathRate)
	assert.Equal(t, 2, sum.SpO2.Count)
	assert.InDelta(t, 97.5, sum.SpO2.Mean, 1e-9)

	empty, err := db.Summary(ctx, t0.Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, VitalsSummary{Since: t0.Add(time.Hour)}, empty)
}

func TestSeriesStats_SingleValue(t *testing.T) {
	assert.Equal(t, SeriesStats{Count: 1, Mean: 64, Min: 64, Max: 64}, seriesStats([]float64{64}))
	assert.Equal(t, SeriesStats{}, seriesStats(nil))
}

func TestAttachAdminRoutes_Backup(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	require.NoError(t, db.RecordVitals(ctx, record("s", 0, 72, 18, 97)))

	mux := http.NewServeMux()
	db.AttachAdminRoutes(mux)
	req := httptest.NewRequest(http.MethodGet, "/debug/backup", nil)
	req.RemoteAddr = "127.0.0.1:1234"
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Contains(t, w.Header().Get("Content-Disposition"), "vitals-backup-")

	gz, err := gzip.NewReader(w.Body)
	require.NoError(t, err)
	data, err := io.ReadAll(gz)
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "restored.db")
	require.NoError(t, os.WriteFile(path, data, 0o600))
	restored, err := OpenDB(path)
	require.NoError(t, err)
	defer restored.Close()
	got, err := restored.VitalsSince(ctx, t0, 0)
	require.NoError(t, err)
	assert.Len(t, got, 1)
}

func TestRunMigrateCommand(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vitals.db")

	var out bytes.Buffer
	require.NoError(t, RunMigrateCommand([]string{"status"}, path, &out))
	assert.Contains(t, out.String(), "Current version: 0")
	assert.Contains(t, out.String(), "2 version(s) behind")

	out.Reset()
	require.NoError(t, RunMigrateCommand([]string{"up"}, path, &out))
	assert.Contains(t, out.String(), "Current version: 2 (dirty: false)")

	out.Reset()
	require.NoError(t, RunMigrateCommand([]string{"status"}, path, &out))
	assert.Contains(t, out.String(), "up to date")

	out.Reset()
	err := RunMigrateCommand([]string{"sideways"}, path, &out)
	assert.True(t, errors.Is(err, ErrUsage))
	assert.True(t, strings.Contains(out.String(), "Usage: vitals migrate"))

	assert.True(t, errors.Is(RunMigrateCommand(nil, path, io.Discard), ErrUsage))
	assert.True(t, errors.Is(RunMigrateCommand([]string{"force", "x"}, path, io.Discard), ErrUsage))
}
