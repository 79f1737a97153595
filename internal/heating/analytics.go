package heating

import (
	"math"
	"time"

	"github.com/sirupsen/logrus"
)

// HistoryEntry is one recorded temperature sample. ZoneHeating captures
// whether the zone as a whole was calling for heat at recording time, which
// partitions samples into heating and cooling regimes; it is distinct from
// the room's own need.
type HistoryEntry struct {
	Timestamp   time.Time `json:"timestamp"`
	Temperature float64   `json:"temperature"`
	NeedsHeat   bool      `json:"needs_heating"`
	ZoneHeating bool      `json:"zone_heating_active"`
}

// Analytics is the derived per-room snapshot: smoothed rates, time to
// target and a confidence score.
type Analytics struct {
	HeatingRate  *float64   `json:"heating_rate"`
	CoolingRate  *float64   `json:"cooling_rate"`
	ETAMinutes   *int       `json:"eta_minutes"`
	ETATimestamp *time.Time `json:"eta_timestamp"`
	Confidence   float64    `json:"confidence"`
	Samples      int        `json:"samples_count"`
	Trend        string     `json:"trend"`
}

type smoothedRates struct {
	Heating *float64 `json:"heating_rate"`
	Cooling *float64 `json:"cooling_rate"`
}

type observation struct {
	temp        float64
	zoneHeating bool
	at          time.Time
}

// analyticsEngine records temperature history per room and derives heating
// and cooling rates from it. Recording is state-aware to bound storage and
// keep regime partitions clean.
type analyticsEngine struct {
	historySize int
	minSamples  int
	smoothing   float64
	log         *logrus.Logger

	history map[string]map[string][]HistoryEntry // zone -> room -> bounded ring
	rates   map[string]map[string]*smoothedRates
	lastObs map[string]map[string]*observation
}

func newAnalyticsEngine(params AnalyticsParams, log *logrus.Logger) *analyticsEngine {
	return &analyticsEngine{
		historySize: params.HistorySize,
		minSamples:  params.MinSamples,
		smoothing:   params.Smoothing,
		log:         log,
		history:     make(map[string]map[string][]HistoryEntry),
		rates:       make(map[string]map[string]*smoothedRates),
		lastObs:     make(map[string]map[string]*observation),
	}
}

// record appends a sample when the state-aware policy calls for one: always
// the first sample, any zone-heating transition, a significant move in either
// direction within the current regime, or a ten-minute idle baseline.
func (a *analyticsEngine) record(zoneID, roomID string, temp float64, needsHeat, zoneHeating bool, now time.Time) {
	if a.lastObs[zoneID] == nil {
		a.lastObs[zoneID] = make(map[string]*observation)
	}
	last := a.lastObs[zoneID][roomID]
	a.lastObs[zoneID][roomID] = &observation{temp: temp, zoneHeating: zoneHeating, at: now}

	shouldRecord := false
	switch {
	case last == nil:
		shouldRecord = true
	case zoneHeating != last.zoneHeating:
		shouldRecord = true
	case math.Abs(temp-last.temp) >= minTempChange:
		shouldRecord = true
	case now.Sub(last.at) > baselineInterval:
		shouldRecord = true
	}
	if !shouldRecord {
		return
	}

	if a.history[zoneID] == nil {
		a.history[zoneID] = make(map[string][]HistoryEntry)
	}
	entries := append(a.history[zoneID][roomID], HistoryEntry{
		Timestamp:   now,
		Temperature: temp,
		NeedsHeat:   needsHeat,
		ZoneHeating: zoneHeating,
	})
	if len(entries) > a.historySize {
		entries = entries[len(entries)-a.historySize:]
	}
	a.history[zoneID][roomID] = entries
}

// derivatives returns the per-adjacent-pair rates (°C/hour) of the room's
// history, restricted to entries matching the partition when non-nil.
func (a *analyticsEngine) derivatives(zoneID, roomID string, partition *bool) []float64 {
	history := a.history[zoneID][roomID]

	var filtered []HistoryEntry
	if partition == nil {
		filtered = history
	} else {
		for _, e := range history {
			if e.ZoneHeating == *partition {
				filtered = append(filtered, e)
			}
		}
	}
	if len(filtered) < a.minSamples {
		return nil
	}

	var out []float64
	for i := 1; i < len(filtered); i++ {
		hours := filtered[i].Timestamp.Sub(filtered[i-1].Timestamp).Hours()
		if hours > 0 {
			out = append(out, (filtered[i].Temperature-filtered[i-1].Temperature)/hours)
		}
	}
	return out
}

// rate computes the mean derivative for a partition, discarding values more
// than two standard deviations from the mean when at least five exist.
func (a *analyticsEngine) rate(zoneID, roomID string, partition bool) *float64 {
	derivs := a.derivatives(zoneID, roomID, &partition)
	if len(derivs) == 0 {
		return nil
	}
	if len(derivs) >= 5 {
		avg, std := mean(derivs), stddev(derivs)
		var kept []float64
		for _, d := range derivs {
			if math.Abs(d-avg) <= 2*std {
				kept = append(kept, d)
			}
		}
		if len(kept) > 0 {
			derivs = kept
		}
	}
	return fptr(mean(derivs))
}

// updateSmoothedRates folds freshly computed rates into the per-room EMAs so
// momentary regime data does not jerk the forecast around.
func (a *analyticsEngine) updateSmoothedRates(zoneID, roomID string, heatingRate, coolingRate *float64) *smoothedRates {
	if a.rates[zoneID] == nil {
		a.rates[zoneID] = make(map[string]*smoothedRates)
	}
	rates, ok := a.rates[zoneID][roomID]
	if !ok {
		rates = &smoothedRates{}
		a.rates[zoneID][roomID] = rates
	}
	rates.Heating = a.smooth(rates.Heating, heatingRate)
	rates.Cooling = a.smooth(rates.Cooling, coolingRate)
	return rates
}

func (a *analyticsEngine) smooth(prev, sample *float64) *float64 {
	if sample == nil {
		return prev
	}
	if prev == nil {
		v := *sample
		return &v
	}
	return fptr(a.smoothing**sample + (1-a.smoothing)**prev)
}

// rateStddev is the spread of a partition's raw derivatives, used for the
// confidence's variance factor.
func (a *analyticsEngine) rateStddev(zoneID, roomID string, partition bool) *float64 {
	derivs := a.derivatives(zoneID, roomID, &partition)
	if len(derivs) < 2 {
		return nil
	}
	return fptr(stddev(derivs))
}

func trendLabel(rate *float64) string {
	switch {
	case rate == nil:
		return "insufficient_data"
	case *rate > 1.0:
		return "heating_rapidly"
	case *rate > 0.2:
		return "heating_slowly"
	case *rate >= -0.2:
		return "stable"
	case *rate >= -1.0:
		return "cooling_slowly"
	default:
		return "cooling_rapidly"
	}
}

// snapshot recomputes rates and produces the published analytics for a room.
func (a *analyticsEngine) snapshot(zoneID, roomID string, current, target float64, needsHeat bool, now time.Time) Analytics {
	rates := a.updateSmoothedRates(zoneID, roomID,
		a.rate(zoneID, roomID, true),
		a.rate(zoneID, roomID, false))

	currentRate := rates.Cooling
	if needsHeat {
		currentRate = rates.Heating
	}

	result := Analytics{
		HeatingRate: rates.Heating,
		CoolingRate: rates.Cooling,
		Samples:     len(a.history[zoneID][roomID]),
		Trend:       trendLabel(currentRate),
	}

	etaMinutes, etaAt, confidence := a.estimateETA(zoneID, roomID, current, target, needsHeat, currentRate, now)
	result.ETAMinutes = etaMinutes
	result.ETATimestamp = etaAt
	result.Confidence = confidence
	return result
}

// estimateETA projects the time to target from the active smoothed rate.
// Confidence combines a sample-count base with a coefficient-of-variation
// factor and is discounted for horizons beyond two hours.
func (a *analyticsEngine) estimateETA(zoneID, roomID string, current, target float64, needsHeat bool, rate *float64, now time.Time) (*int, *time.Time, float64) {
	if rate == nil || math.Abs(*rate) < minUsableRate {
		return nil, nil, 0
	}

	diff := target - current
	if (diff > 0 && *rate <= 0) || (diff < 0 && *rate >= 0) {
		// Moving away from the target.
		return nil, nil, 0
	}

	hours := math.Abs(diff / *rate)
	minutes := int(hours * 60)
	etaAt := now.Add(time.Duration(minutes) * time.Minute)

	samples := len(a.history[zoneID][roomID])
	var base float64
	switch {
	case samples < a.minSamples:
		base = 0
	case samples < 10:
		base = 0.5
	case samples < 20:
		base = 0.75
	default:
		base = 0.9
	}

	varianceFactor := 0.8
	if std := a.rateStddev(zoneID, roomID, needsHeat); std != nil && *rate != 0 {
		cv := math.Abs(*std / *rate)
		switch {
		case cv < 0.2:
			varianceFactor = 1.0
		case cv < 0.5:
			varianceFactor = 0.9
		case cv < 1.0:
			varianceFactor = 0.7
		default:
			varianceFactor = 0.5
		}
	}

	confidence := base * varianceFactor
	if hours > 2 {
		confidence *= 0.7
	}
	confidence = math.Max(0, math.Min(1, confidence))
	if confidence == 0 {
		// No ETA is published at zero confidence.
		return nil, nil, 0
	}

	return &minutes, &etaAt, confidence
}

func stddev(vals []float64) float64 {
	if len(vals) < 2 {
		return 0
	}
	avg := mean(vals)
	sum := 0.0
	for _, v := range vals {
		d := v - avg
		sum += d * d
	}
	return math.Sqrt(sum / float64(len(vals)-1))
}
