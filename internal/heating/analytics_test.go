package heating

import (
	"testing"
	"time"
)

func newTestAnalytics(opts ...func(*AnalyticsParams)) *analyticsEngine {
	params := AnalyticsParams{
		Enabled:     true,
		HistorySize: 30,
		MinSamples:  3,
		Smoothing:   0.3,
	}
	for _, opt := range opts {
		opt(&params)
	}
	return newAnalyticsEngine(params, testLogger())
}

// seedHistory records evenly spaced samples in a single regime.
func seedHistory(a *analyticsEngine, start time.Time, step time.Duration, zoneHeating bool, temps ...float64) {
	for i, temp := range temps {
		a.record("z", "r", temp, zoneHeating, zoneHeating, start.Add(time.Duration(i)*step))
	}
}

func TestAnalyticsRecordPolicy(t *testing.T) {
	a := newTestAnalytics()

	// First sample always records.
	a.record("z", "r", 19.0, false, false, testNow)
	if got := len(a.history["z"]["r"]); got != 1 {
		t.Fatalf("history length = %d, want 1", got)
	}

	// Sub-threshold move after a short idle: skipped.
	a.record("z", "r", 19.02, false, false, testNow.Add(time.Minute))
	if got := len(a.history["z"]["r"]); got != 1 {
		t.Fatalf("history length = %d, want still 1", got)
	}

	// Zone heating transition records regardless of the delta.
	a.record("z", "r", 19.02, false, true, testNow.Add(2*time.Minute))
	if got := len(a.history["z"]["r"]); got != 2 {
		t.Fatalf("history length = %d, want 2 after transition", got)
	}

	// Significant move records.
	a.record("z", "r", 19.10, false, true, testNow.Add(3*time.Minute))
	if got := len(a.history["z"]["r"]); got != 3 {
		t.Fatalf("history length = %d, want 3 after significant move", got)
	}

	// Idle baseline: flat temperature, but more than the baseline interval passed.
	a.record("z", "r", 19.10, false, true, testNow.Add(14*time.Minute))
	if got := len(a.history["z"]["r"]); got != 4 {
		t.Fatalf("history length = %d, want 4 after baseline interval", got)
	}
}

func TestAnalyticsHistoryBound(t *testing.T) {
	a := newTestAnalytics(func(p *AnalyticsParams) { p.HistorySize = 5 })

	for i := 0; i < 10; i++ {
		a.record("z", "r", 15.0+float64(i), true, true, testNow.Add(time.Duration(i)*time.Minute))
	}
	entries := a.history["z"]["r"]
	if len(entries) != 5 {
		t.Fatalf("history length = %d, want bounded to 5", len(entries))
	}
	// Oldest entries were dropped.
	assertFloat(t, entries[0].Temperature, 20.0)
}

func TestAnalyticsRatePartitioned(t *testing.T) {
	a := newTestAnalytics()
	// Heating regime: +1 degree per 30 minutes = 2.0 deg/h.
	seedHistory(a, testNow, 30*time.Minute, true, 18.0, 19.0, 20.0)
	// Cooling regime: -0.5 per 30 minutes = -1.0 deg/h.
	seedHistory(a, testNow.Add(3*time.Hour), 30*time.Minute, false, 20.0, 19.5, 19.0)

	assertFloatPtr(t, a.rate("z", "r", true), 2.0)
	assertFloatPtr(t, a.rate("z", "r", false), -1.0)
}

func TestAnalyticsRateNeedsMinSamples(t *testing.T) {
	a := newTestAnalytics()
	seedHistory(a, testNow, 30*time.Minute, true, 18.0, 19.0) // only 2 samples

	if rate := a.rate("z", "r", true); rate != nil {
		t.Fatalf("rate = %v, want nil below min samples", *rate)
	}
}

func TestAnalyticsRateDiscardsOutliers(t *testing.T) {
	a := newTestAnalytics()
	// Five consistent heating steps of 1.0 deg/h, then a sensor glitch jump.
	seedHistory(a, testNow, time.Hour, true, 18.0, 19.0, 20.0, 21.0, 22.0, 23.0)
	a.record("z", "r", 35.0, true, true, testNow.Add(5*time.Hour+time.Minute))

	rate := a.rate("z", "r", true)
	if rate == nil {
		t.Fatal("expected a rate")
	}
	// The glitch derivative is far beyond two standard deviations and gets dropped.
	assertFloat(t, *rate, 1.0)
}

func TestAnalyticsSmoothing(t *testing.T) {
	a := newTestAnalytics()

	rates := a.updateSmoothedRates("z", "r", fptr(2.0), nil)
	assertFloatPtr(t, rates.Heating, 2.0) // first sample seeds
	if rates.Cooling != nil {
		t.Fatal("no cooling samples yet")
	}

	rates = a.updateSmoothedRates("z", "r", fptr(3.0), nil)
	assertFloatPtr(t, rates.Heating, 0.3*3.0+0.7*2.0)

	// A nil sample keeps the previous smoothed value.
	rates = a.updateSmoothedRates("z", "r", nil, nil)
	assertFloatPtr(t, rates.Heating, 0.3*3.0+0.7*2.0)
}

func TestAnalyticsTrendLabels(t *testing.T) {
	cases := []struct {
		rate *float64
		want string
	}{
		{nil, "insufficient_data"},
		{fptr(1.5), "heating_rapidly"},
		{fptr(0.5), "heating_slowly"},
		{fptr(0.0), "stable"},
		{fptr(-0.1), "stable"},
		{fptr(-0.5), "cooling_slowly"},
		{fptr(-2.0), "cooling_rapidly"},
	}
	for _, tc := range cases {
		if got := trendLabel(tc.rate); got != tc.want {
			t.Fatalf("trendLabel(%v) = %q, want %q", tc.rate, got, tc.want)
		}
	}
}

func TestAnalyticsSnapshotWithETA(t *testing.T) {
	a := newTestAnalytics()
	// Steady 2.0 deg/h heating, three samples.
	seedHistory(a, testNow, 30*time.Minute, true, 18.0, 19.0, 20.0)

	now := testNow.Add(time.Hour)
	result := a.snapshot("z", "r", 19.0, 20.0, true, now)

	assertFloatPtr(t, result.HeatingRate, 2.0)
	if result.Trend != "heating_rapidly" {
		t.Fatalf("trend = %q, want heating_rapidly", result.Trend)
	}
	if result.Samples != 3 {
		t.Fatalf("samples = %d, want 3", result.Samples)
	}
	// 1 degree at 2 deg/h is 30 minutes out.
	if result.ETAMinutes == nil || *result.ETAMinutes != 30 {
		t.Fatalf("eta = %v, want 30 minutes", result.ETAMinutes)
	}
	if result.ETATimestamp == nil || !result.ETATimestamp.Equal(now.Add(30*time.Minute)) {
		t.Fatalf("eta timestamp = %v", result.ETATimestamp)
	}
	// 3 samples (< 10) gives the 0.5 base; identical derivatives give the
	// full variance factor.
	assertFloat(t, result.Confidence, 0.5)
}

func TestAnalyticsETAUnusableRate(t *testing.T) {
	a := newTestAnalytics()

	minutes, at, confidence := a.estimateETA("z", "r", 19.0, 20.0, true, nil, testNow)
	if minutes != nil || at != nil || confidence != 0 {
		t.Fatal("nil rate must yield no estimate")
	}

	minutes, _, _ = a.estimateETA("z", "r", 19.0, 20.0, true, fptr(0.01), testNow)
	if minutes != nil {
		t.Fatal("near-zero rate must yield no estimate")
	}
}

func TestAnalyticsETAMovingAway(t *testing.T) {
	a := newTestAnalytics()
	// Below target but cooling.
	minutes, at, confidence := a.estimateETA("z", "r", 19.0, 20.0, false, fptr(-1.0), testNow)
	if minutes != nil || at != nil || confidence != 0 {
		t.Fatal("cooling away from a higher target must yield no estimate")
	}
}

func TestAnalyticsETASuppressedAtZeroConfidence(t *testing.T) {
	a := newTestAnalytics()
	// A usable rate but too little history: the sample base is 0, so the
	// confidence collapses and no ETA may be published.
	a.record("z", "r", 19.0, true, true, testNow)

	minutes, at, confidence := a.estimateETA("z", "r", 19.0, 20.0, true, fptr(2.0), testNow)
	if confidence != 0 {
		t.Fatalf("confidence = %v, want 0", confidence)
	}
	if minutes != nil || at != nil {
		t.Fatal("no ETA may be published at zero confidence")
	}
}

func TestAnalyticsLongHorizonDiscount(t *testing.T) {
	a := newTestAnalytics()
	// 20 samples of steady heating for the 0.9 base.
	temps := make([]float64, 21)
	for i := range temps {
		temps[i] = 15.0 + 0.2*float64(i)
	}
	seedHistory(a, testNow, 15*time.Minute, true, temps...)

	// 3 degrees at 0.8 deg/h is nearly four hours out.
	_, _, confidence := a.estimateETA("z", "r", 17.0, 20.0, true, fptr(0.8), testNow)
	assertFloat(t, confidence, 0.9*1.0*0.7)
}
