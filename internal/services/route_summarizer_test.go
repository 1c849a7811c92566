package services

import (
	"context"
	"med-delivery-routing/internal/domain"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSummarizeRoute(t *testing.T) {
	geo := symmetric(domain.Edge{},
		edgePair{u: 0, v: 1, meters: 1234.5, seconds: 1800},
		edgePair{u: 1, v: 2, meters: 1000, seconds: 900},
		edgePair{u: 0, v: 2, meters: 2000, seconds: 1800},
	)

	m, err := SummarizeRoute(context.Background(), []int{0, 1, 2, 0}, geo, 8*time.Hour)
	require.NoError(t, err)

	assert.InDelta(t, 4.23, m.DistanceKm, 1e-9)
	assert.InDelta(t, 1.25, m.DurationH, 1e-9)
	assert.True(t, m.WithinShift)

	m, err = SummarizeRoute(context.Background(), []int{0, 1, 2, 0}, geo, time.Hour)
	require.NoError(t, err)
	assert.False(t, m.WithinShift)
}

func TestSummarizeRouteEmptyPath(t *testing.T) {
	m, err := SummarizeRoute(context.Background(), nil, edgeTable{}, time.Hour)
	require.NoError(t, err)
	assert.Equal(t, domain.RouteMetrics{WithinShift: true}, m)
}

func TestLegETAsFirstSeenWins(t *testing.T) {
	geo := symmetric(domain.Edge{},
		edgePair{u: 0, v: 1, meters: 1000.456, seconds: 300},
		edgePair{u: 1, v: 2, meters: 500, seconds: 120},
		edgePair{u: 0, v: 2, meters: 800, seconds: 240},
	)

	// Customer 1 appears twice; the later visit must not overwrite its ETA.
	res, err := LegETAs(context.Background(), []int{0, 1, 2, 0, 1, 0}, geo)
	require.NoError(t, err)

	require.Len(t, res.Legs, 5)
	assert.Equal(t, domain.Leg{From: 0, To: 1, DistanceM: 1000.46, SegmentETAMin: 5, CumulativeETAMin: 5}, res.Legs[0])
	assert.Equal(t, domain.Leg{From: 1, To: 2, DistanceM: 500, SegmentETAMin: 2, CumulativeETAMin: 7}, res.Legs[1])

	assert.Equal(t, 5, res.SegmentETA[1])
	assert.Equal(t, 5, res.CumulativeETA[1])
	assert.Equal(t, 2, res.SegmentETA[2])
	assert.Equal(t, 7, res.CumulativeETA[2])
	assert.Equal(t, []int{1, 2}, res.Visits)
	assert.InDelta(t, 1260, res.TotalSeconds, 1e-9)
}

func TestDriverETAsOffsetsLaterRoutes(t *testing.T) {
	geo := edgeTable{def: domain.Edge{DistanceM: 1000, DurationS: 600}}
	meta := map[int]domain.StopMeta{
		0: {Kind: domain.KindHospital},
		1: {OrderID: "o-1", Kind: domain.KindPatient},
		2: {OrderID: "o-2", Kind: domain.KindPatient},
		3: {OrderID: "o-3", Kind: domain.KindPatient},
	}

	etas, err := DriverETAsFor(context.Background(), [][]int{{0, 1, 2, 0}, {0, 3, 0}}, geo, meta)
	require.NoError(t, err)

	assert.Equal(t, []string{"o-1", "o-2", "o-3"}, etas.OrderSequence)
	assert.Equal(t, map[string]int{"o-1": 10, "o-2": 10, "o-3": 10}, etas.ETAByOrder)
	// First route takes 30 minutes, so o-3 is offset by it.
	assert.Equal(t, map[string]int{"o-1": 10, "o-2": 20, "o-3": 40}, etas.ETACumulativeByOrder)
	require.Len(t, etas.Routes, 2)
	assert.Len(t, etas.Routes[0].Legs, 3)
}

func TestFormatHM(t *testing.T) {
	assert.Equal(t, "0h 0m", FormatHM(0))
	assert.Equal(t, "2h 30m", FormatHM(150))
	assert.Equal(t, "0h 0m", FormatHM(-4))
}
