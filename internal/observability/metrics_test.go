package observability

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestRecordPathSearch(t *testing.T) {
	before := testutil.ToFloat64(pathSearches.WithLabelValues("found"))
	RecordPathSearch("found", 12, 6, time.Millisecond)
	assert.Equal(t, before+1, testutil.ToFloat64(pathSearches.WithLabelValues("found")))

	beforeInvalid := testutil.ToFloat64(pathSearches.WithLabelValues("invalid"))
	RecordPathSearch("invalid", 0, 0, 0)
	assert.Equal(t, beforeInvalid+1, testutil.ToFloat64(pathSearches.WithLabelValues("invalid")))
}

func TestSetUnitStates(t *testing.T) {
	SetUnitStates(3, 2, 1)
	assert.Equal(t, 3.0, testutil.ToFloat64(unitsByState.WithLabelValues("idle")))
	assert.Equal(t, 2.0, testutil.ToFloat64(unitsByState.WithLabelValues("moving")))
	assert.Equal(t, 1.0, testutil.ToFloat64(unitsByState.WithLabelValues("attacking")))
}

func TestCounters(t *testing.T) {
	attacks := testutil.ToFloat64(attacksTotal)
	IncAttacks()
	assert.Equal(t, attacks+1, testutil.ToFloat64(attacksTotal))

	units := testutil.ToFloat64(deathsTotal.WithLabelValues("unit"))
	IncDeath("unit")
	assert.Equal(t, units+1, testutil.ToFloat64(deathsTotal.WithLabelValues("unit")))

	logged := testutil.ToFloat64(eventLogTotal)
	AddEventLogStats(5, 0)
	assert.Equal(t, logged+5, testutil.ToFloat64(eventLogTotal))
}
