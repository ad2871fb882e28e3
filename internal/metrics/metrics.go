// Package metrics holds the Prometheus collectors exported on /metrics.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	admissions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "presence",
		Name:      "admissions_total",
		Help:      "Admission attempts by outcome.",
	}, []string{"outcome"})

	releases = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "presence",
		Name:      "releases_total",
		Help:      "Completed presence intervals by termination reason.",
	}, []string{"reason"})

	heartbeats = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "presence",
		Name:      "heartbeats_total",
		Help:      "Heartbeats by outcome.",
	}, []string{"outcome"})

	verifyDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "presence",
		Name:      "biometric_verify_seconds",
		Help:      "Latency of biometric verification.",
		Buckets:   prometheus.ExponentialBuckets(0.005, 2, 12),
	}, []string{"strategy"})

	roomsOpen = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "presence",
		Name:      "rooms_open",
		Help:      "Rooms opened minus rooms closed since process start.",
	})
)

// Admission counts one admission attempt.
func Admission(outcome string) { admissions.WithLabelValues(outcome).Inc() }

// Release counts one completed interval.
func Release(reason string) { releases.WithLabelValues(reason).Inc() }

// Heartbeat counts one heartbeat.
func Heartbeat(outcome string) { heartbeats.WithLabelValues(outcome).Inc() }

// ObserveVerify records how long a verification took.
func ObserveVerify(strategy string, d time.Duration) {
	verifyDuration.WithLabelValues(strategy).Observe(d.Seconds())
}

// RoomOpened and RoomClosed track open rooms.
func RoomOpened() { roomsOpen.Inc() }

func RoomClosed() { roomsOpen.Dec() }
