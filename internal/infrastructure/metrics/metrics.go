// Package metrics exposes prometheus collectors for the player service.
//
// Labels stay low-cardinality: no user, course, view or video ids.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ProgressFlushTotal progress flushes by result (ok, error)
	ProgressFlushTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "course_player_progress_flush_total",
		Help: "Total number of progress flushes sent to the backend, by result.",
	}, []string{"result"})

	// ProgressFetchTotal progress fetches by result (ok, error, snapshot)
	ProgressFetchTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "course_player_progress_fetch_total",
		Help: "Total number of progress fetches, by result.",
	}, []string{"result"})

	// ProgressStaleDiscardedTotal responses older than the last applied update
	ProgressStaleDiscardedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "course_player_progress_stale_discarded_total",
		Help: "Total number of progress responses discarded because a newer update was already applied.",
	})

	// MediaErrorTotal media load failures
	MediaErrorTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "course_player_media_error_total",
		Help: "Total number of media load failures reported by players.",
	})

	// MediaRetryTotal user initiated retries by result (accepted, exhausted)
	MediaRetryTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "course_player_media_retry_total",
		Help: "Total number of user initiated media retries, by result.",
	}, []string{"result"})

	// CheckoutTotal checkout attempts by result (ok, auth_required, failed, busy)
	CheckoutTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "course_player_checkout_total",
		Help: "Total number of checkout attempts, by result.",
	}, []string{"result"})

	// MountedViews currently mounted course views
	MountedViews = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "course_player_mounted_views",
		Help: "Current number of mounted course views.",
	})

	// NotifySubscribers current hub subscribers
	NotifySubscribers = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "course_player_notify_subscribers",
		Help: "Current number of progress notification subscribers.",
	})
)
