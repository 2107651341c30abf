package fusion

import (
	"time"

	"github.com/vatfusion/vatfusion/internal/weather"
	"github.com/vatfusion/vatfusion/pkg/logger"
)

// Delay values are clamped to this window in minutes
const (
	delayMinMinutes = 0
	delayMaxMinutes = 120
)

// WeatherLookup is the read surface AirportAggregator needs from the
// weather cache
type WeatherLookup interface {
	Lookup(station string) weather.Report
}

// AirportAggregator produces one record per airport that appears as a
// departure or arrival in the fused pilot collection. Traffic blocks are
// recomputed fully each cycle, not incrementally.
type AirportAggregator struct {
	weather WeatherLookup
	logger  *logger.Logger
}

// NewAirportAggregator creates an airport aggregation stage
func NewAirportAggregator(weatherLookup WeatherLookup, loggerObj *logger.Logger) *AirportAggregator {
	return &AirportAggregator{
		weather: weatherLookup,
		logger:  loggerObj.Named("airport-agg"),
	}
}

type trafficAccumulator struct {
	block  TrafficBlock
	routes map[string]int
}

// Aggregate folds every pilot with a flight plan into its departure and
// arrival airports
func (a *AirportAggregator) Aggregate(pilots map[string]*PilotRecord) map[string]*AirportRecord {
	departures := make(map[string]*trafficAccumulator)
	arrivals := make(map[string]*trafficAccumulator)

	for _, pilot := range pilots {
		plan := pilot.FlightPlan
		if plan == nil || plan.Departure == "" || plan.Arrival == "" {
			continue
		}

		route := plan.Departure + "-" + plan.Arrival

		dep := accumulatorFor(departures, plan.Departure)
		dep.fold(departureDelay(pilot), route)

		arr := accumulatorFor(arrivals, plan.Arrival)
		arr.fold(arrivalDelay(pilot), route)
	}

	result := make(map[string]*AirportRecord, len(departures)+len(arrivals))
	record := func(icao string) *AirportRecord {
		rec, ok := result[icao]
		if !ok {
			report := a.weather.Lookup(icao)
			rec = &AirportRecord{
				ICAO:  icao,
				METAR: report.METAR,
				TAF:   report.TAF,
			}
			result[icao] = rec
		}
		return rec
	}

	for icao, acc := range departures {
		record(icao).Departures = acc.finish()
	}
	for icao, acc := range arrivals {
		record(icao).Arrivals = acc.finish()
	}

	return result
}

func accumulatorFor(m map[string]*trafficAccumulator, icao string) *trafficAccumulator {
	acc, ok := m[icao]
	if !ok {
		acc = &trafficAccumulator{routes: make(map[string]int)}
		m[icao] = acc
	}
	return acc
}

// fold adds one flight to the accumulator. Non-zero delays feed the running
// average via the standard incremental-mean update.
func (acc *trafficAccumulator) fold(delayMinutes float64, route string) {
	acc.block.Count++
	acc.routes[route]++

	if delayMinutes != 0 {
		acc.block.DelayedCount++
		n := float64(acc.block.DelayedCount)
		acc.block.AvgDelayMinutes = (acc.block.AvgDelayMinutes*(n-1) + delayMinutes) / n
	}
}

// finish closes out the accumulation: busiest route by count (lexicographic
// tie-break keeps the choice deterministic) and distinct route count
func (acc *trafficAccumulator) finish() TrafficBlock {
	block := acc.block
	block.UniqueRoutes = len(acc.routes)

	bestCount := 0
	for route, count := range acc.routes {
		if count > bestCount || (count == bestCount && route < block.BusiestRoute) {
			block.BusiestRoute = route
			bestCount = count
		}
	}

	return block
}

// departureDelay is actual minus scheduled off-block in minutes, clamped.
// Zero until the off-block time is actual (phase past Boarding).
func departureDelay(pilot *PilotRecord) float64 {
	times := pilot.Times
	if times == nil || times.Phase < PhaseTaxiOut {
		return 0
	}
	return clampDelay(times.OffBlock, times.SchedOffBlock)
}

// arrivalDelay is actual minus scheduled on-block in minutes, clamped.
// Zero until the flight is On Block.
func arrivalDelay(pilot *PilotRecord) float64 {
	times := pilot.Times
	if times == nil || times.Phase != PhaseOnBlock {
		return 0
	}
	return clampDelay(times.OnBlock, times.SchedOnBlock)
}

func clampDelay(actual, scheduled *time.Time) float64 {
	if actual == nil || scheduled == nil {
		return 0
	}

	minutes := actual.Sub(*scheduled).Minutes()
	if minutes < delayMinMinutes {
		return delayMinMinutes
	}
	if minutes > delayMaxMinutes {
		return delayMaxMinutes
	}
	return minutes
}
