// Package metrics holds the Prometheus collectors of the reputation ledger.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "trustchain"

var (
	// BlocksMined counts blocks appended, by action type
	BlocksMined = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "blocks_mined_total",
			Help:      "Reputation blocks appended to a chain",
		},
		[]string{"action_type"},
	)

	// MineFailures counts failed mining attempts, by reason
	MineFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "mine_failures_total",
			Help:      "Mining attempts that did not append a block",
		},
		[]string{"reason"}, // invalid, lock, store, fork, canceled
	)

	// ForkRetries counts inserts lost to a concurrent miner and retried
	ForkRetries = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fork_retries_total",
			Help:      "Inserts rejected by the chain uniqueness constraint and retried",
		},
	)

	// ChainVerifications counts verification outcomes
	ChainVerifications = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "chain_verifications_total",
			Help:      "Chain verifications, by result",
		},
		[]string{"result"}, // valid, invalid, error
	)

	// MineDuration observes end-to-end mining latency
	MineDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "mine_duration_seconds",
			Help:      "Time spent appending one block, lock wait included",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
		},
	)
)
