// Package metrics exposes Prometheus instrumentation for the betting core and
// a small sidecar server for scraping.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// BetsCreated counts successfully created bets, labelled by mode.
	BetsCreated = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sidestake_bets_created_total",
		Help: "Number of bets created.",
	}, []string{"mode"})

	// Responses counts applied participation decisions.
	Responses = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sidestake_responses_total",
		Help: "Number of participation responses applied.",
	}, []string{"decision"})

	// ChallengerRacesLost counts H2H accepts rejected because the
	// challenger slot was already taken.
	ChallengerRacesLost = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sidestake_challenger_races_lost_total",
		Help: "Number of H2H accepts that lost the single-challenger race.",
	})

	// Resolutions counts resolved bets.
	Resolutions = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sidestake_resolutions_total",
		Help: "Number of bets resolved.",
	})

	// SettlementEntries counts settlement ledger rows written.
	SettlementEntries = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sidestake_settlement_entries_total",
		Help: "Number of settlement entries written.",
	})
)
