package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics with bounded cardinality (no per-unit labels)
var (
	tickDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "battle_tick_duration_seconds",
		Help:    "Time spent in one simulation tick",
		Buckets: []float64{0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1},
	})

	pathSearches = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "battle_path_searches_total",
		Help: "A* searches by outcome",
	}, []string{"result"}) // Bounded: "found", "no_route", "invalid"

	pathSearchDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "battle_path_search_duration_seconds",
		Help:    "Wall time of one A* search",
		Buckets: []float64{0.00001, 0.00005, 0.0001, 0.0005, 0.001, 0.005, 0.01},
	})

	pathNodesExpanded = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "battle_path_nodes_expanded",
		Help:    "Cells popped from the open set per search",
		Buckets: prometheus.ExponentialBuckets(1, 2, 12),
	})

	pathLength = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "battle_path_waypoints",
		Help:    "Waypoints per successful search",
		Buckets: prometheus.LinearBuckets(1, 5, 10),
	})

	unitsByState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "battle_units",
		Help: "Active units by steering state",
	}, []string{"state"}) // Bounded: "idle", "moving", "attacking"

	buildingCount = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "battle_buildings",
		Help: "Standing buildings",
	})

	attacksTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "battle_attacks_total",
		Help: "Attacks performed by units",
	})

	deathsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "battle_deaths_total",
		Help: "Units killed and buildings destroyed",
	}, []string{"kind"}) // Bounded: "unit", "building"

	cellChanges = promauto.NewCounter(prometheus.CounterOpts{
		Name: "battle_cell_changes_total",
		Help: "Grid cell blocked/occupant updates",
	})

	repaths = promauto.NewCounter(prometheus.CounterOpts{
		Name: "battle_repaths_total",
		Help: "Paths recomputed because a cell on the route became blocked",
	})

	eventLogTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "event_log_total",
		Help: "Total events logged",
	})

	eventLogDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "event_log_dropped_total",
		Help: "Events dropped due to rate limiting or buffer full",
	})
)

// RecordTick records tick timing.
func RecordTick(duration time.Duration) {
	tickDuration.Observe(duration.Seconds())
}

// RecordPathSearch records one A* search. result must be one of
// "found", "no_route", "invalid".
func RecordPathSearch(result string, expanded, waypoints int, duration time.Duration) {
	pathSearches.WithLabelValues(result).Inc()
	pathSearchDuration.Observe(duration.Seconds())
	if expanded > 0 {
		pathNodesExpanded.Observe(float64(expanded))
	}
	if waypoints > 0 {
		pathLength.Observe(float64(waypoints))
	}
}

// SetUnitStates updates the per-state unit gauges.
func SetUnitStates(idle, moving, attacking int) {
	unitsByState.WithLabelValues("idle").Set(float64(idle))
	unitsByState.WithLabelValues("moving").Set(float64(moving))
	unitsByState.WithLabelValues("attacking").Set(float64(attacking))
}

// SetBuildingCount updates the building gauge.
func SetBuildingCount(n int) {
	buildingCount.Set(float64(n))
}

// IncAttacks counts one attack.
func IncAttacks() { attacksTotal.Inc() }

// IncDeath counts a removed entity. kind must be "unit" or "building".
func IncDeath(kind string) { deathsTotal.WithLabelValues(kind).Inc() }

// IncCellChanges counts a grid notification.
func IncCellChanges() { cellChanges.Inc() }

// IncRepaths counts a scheduler-triggered repath.
func IncRepaths() { repaths.Inc() }

// AddEventLogStats adds deltas to the event log counters.
func AddEventLogStats(logged, dropped uint64) {
	if logged > 0 {
		eventLogTotal.Add(float64(logged))
	}
	if dropped > 0 {
		eventLogDropped.Add(float64(dropped))
	}
}
