package application

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	sessionsStartedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bargain_sessions_started_total",
		Help: "Bargain sessions started by category and markup source",
	}, []string{"category", "markup_source"})

	roundsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bargain_rounds_total",
		Help: "Completed bargain rounds by round number and outcome",
	}, []string{"round", "outcome"})

	selectionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bargain_selections_total",
		Help: "Prices selected by round",
	}, []string{"round", "promo_adjusted"})

	abandonsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bargain_abandons_total",
		Help: "Abandoned bargain sessions by reason",
	}, []string{"reason"})

	sweepTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bargain_sweep_sessions_total",
		Help: "Sessions handled by the sweeper",
	}, []string{"result"})

	markupFallbackTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bargain_markup_fallback_total",
		Help: "Conservative markup used because the resolver was unavailable",
	}, []string{"category"})

	promoUnavailableTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "bargain_promo_unavailable_total",
		Help: "Promo validations that still failed after retries",
	})

	bookingPublishFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "bargain_booking_publish_failures_total",
		Help: "Price locks that could not be handed to booking",
	})

	discountRatio = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "bargain_discount_ratio",
		Help:    "Final price discount relative to the displayed price",
		Buckets: []float64{0, 0.01, 0.02, 0.05, 0.08, 0.1, 0.15, 0.2, 0.3},
	}, []string{"category"})
)
