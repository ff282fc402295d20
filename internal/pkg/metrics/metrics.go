// Package metrics holds the Prometheus collectors for the messaging engine.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	MessagesSent = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "messaging",
		Name:      "messages_sent_total",
		Help:      "Messages accepted by the composer, by message type.",
	}, []string{"type"})

	SendRejected = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "messaging",
		Name:      "send_rejected_total",
		Help:      "Send attempts rejected before persistence, by error kind.",
	}, []string{"kind"})

	RecipientsBlocked = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "messaging",
		Name:      "recipients_blocked_total",
		Help:      "Recipients filtered out because they blocked the sender.",
	})

	CompensatingPurges = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "messaging",
		Name:      "compensating_purges_total",
		Help:      "Best-effort cleanups of partially written messages, by outcome.",
	}, []string{"outcome"})

	Deletions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "messaging",
		Name:      "deletions_total",
		Help:      "Message deletions, by mode (soft, hard).",
	}, []string{"mode"})

	BlobOps = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "messaging",
		Name:      "blob_operations_total",
		Help:      "Blob store calls, by operation and outcome.",
	}, []string{"op", "outcome"})

	BlobLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "messaging",
		Name:      "blob_operation_seconds",
		Help:      "Blob store call latency.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"op"})

	NotificationsDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "messaging",
		Name:      "notifications_dropped_total",
		Help:      "Events that could not be delivered to a notification sink.",
	}, []string{"sink"})
)
