// Package telemetry exposes prometheus metrics for the sync engine.
package telemetry

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	messagesCreated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "chatsync_messages_created_total",
		Help: "Messages persisted by the store gateway.",
	})
	eventsPublished = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "chatsync_events_published_total",
		Help: "Broker events published, by event kind.",
	}, []string{"kind"})
	resyncs = promauto.NewCounter(prometheus.CounterOpts{
		Name: "chatsync_resyncs_total",
		Help: "Forced re-synchronization reads served.",
	})
	wsConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "chatsync_ws_connections",
		Help: "Open stream connections.",
	})
	requestRejected = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "chatsync_requests_rejected_total",
		Help: "Requests rejected before reaching a handler, by reason.",
	}, []string{"reason"})
	storeBatch = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "chatsync_store_batch_seconds",
		Help:    "Latency of synchronous store write batches.",
		Buckets: prometheus.DefBuckets,
	})
)

func MessageCreated()            { messagesCreated.Inc() }
func EventPublished(kind string) { eventsPublished.WithLabelValues(kind).Inc() }
func ResyncServed()              { resyncs.Inc() }
func StreamOpened()              { wsConnections.Inc() }
func StreamClosed()              { wsConnections.Dec() }
func Rejected(reason string)     { requestRejected.WithLabelValues(reason).Inc() }

func ObserveStoreBatch(d time.Duration) { storeBatch.Observe(d.Seconds()) }
