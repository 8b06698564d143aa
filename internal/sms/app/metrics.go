package app

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	smsCreatedCounter = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "smshub_sms_created_total",
		Help: "Messages accepted and charged, by lane.",
	}, []string{"lane"})

	dispatchProcessedCounter = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "smshub_dispatch_processed_total",
		Help: "Dispatch jobs processed, by lane and final outcome.",
	}, []string{"lane", "status"})

	dispatchDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "smshub_dispatch_duration_seconds",
		Help:    "Wall time of one dispatch job including in-process retries.",
		Buckets: prometheus.DefBuckets,
	}, []string{"lane"})

	refundsIssuedCounter = promauto.NewCounter(prometheus.CounterOpts{
		Name: "smshub_refunds_issued_total",
		Help: "Refunds issued for terminally failed messages.",
	})

	reconcileCheckedCounter = promauto.NewCounter(prometheus.CounterOpts{
		Name: "smshub_reconcile_checked_total",
		Help: "Stale sent messages whose delivery status was queried.",
	})

	reconcileResolvedCounter = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "smshub_reconcile_resolved_total",
		Help: "Stale sent messages resolved by reconciliation, by outcome.",
	}, []string{"outcome"})
)
