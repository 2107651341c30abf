package fusion

import (
	"sort"
	"time"
)

const dashboardTopN = 5

// DashboardAggregator derives the top-N statistics from a fused snapshot.
// It is a read-only consumer: it never mutates the collections it is given.
type DashboardAggregator struct{}

func NewDashboardAggregator() *DashboardAggregator {
	return &DashboardAggregator{}
}

// Aggregate recomputes the dashboard from the cycle's fused collections
func (d *DashboardAggregator) Aggregate(pilots map[string]*PilotRecord, controllers map[string]*MergedController, airports map[string]*AirportRecord, now time.Time) *Dashboard {
	dash := &Dashboard{
		TotalPilots: len(pilots),
		UpdatedAt:   now,
	}

	for _, group := range controllers {
		dash.TotalControllers += len(group.Sessions)
	}

	byAirport := make(map[string]int, len(airports))
	for icao, airport := range airports {
		byAirport[icao] = airport.Departures.Count + airport.Arrivals.Count
	}
	dash.BusiestAirports = topCounts(byAirport, dashboardTopN, false)
	dash.QuietestAirports = topCounts(byAirport, dashboardTopN, true)

	byRoute := map[string]int{}
	byAircraft := map[string]int{}
	for _, pilot := range pilots {
		byAircraft[pilot.AircraftType]++
		fp := pilot.FlightPlan
		if fp == nil || fp.Departure == "" || fp.Arrival == "" {
			continue
		}
		byRoute[fp.Departure+"-"+fp.Arrival]++
	}
	dash.BusiestRoutes = topCounts(byRoute, dashboardTopN, false)
	dash.BusiestAircraft = topCounts(byAircraft, dashboardTopN, false)

	byController := make(map[string]int, len(controllers))
	for id, group := range controllers {
		total := 0
		for _, session := range group.Sessions {
			total += session.Connections
		}
		byController[id] = total
	}
	dash.BusiestControllers = topCounts(byController, dashboardTopN, false)

	return dash
}

// topCounts ranks a count map and keeps the first n entries. Ties break
// lexicographically by id so consecutive cycles over identical data rank
// identically.
func topCounts(counts map[string]int, n int, ascending bool) []CountStat {
	stats := make([]CountStat, 0, len(counts))
	for id, count := range counts {
		stats = append(stats, CountStat{ID: id, Count: count})
	}

	sort.Slice(stats, func(i, j int) bool {
		if stats[i].Count != stats[j].Count {
			if ascending {
				return stats[i].Count < stats[j].Count
			}
			return stats[i].Count > stats[j].Count
		}
		return stats[i].ID < stats[j].ID
	})

	if len(stats) > n {
		stats = stats[:n]
	}
	return stats
}
