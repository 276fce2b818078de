package service

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	otpIssued = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "otp_issued_total",
			Help: "Total number of OTP codes stored, by purpose",
		},
		[]string{"purpose"},
	)

	otpDispatchFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "otp_dispatch_failures_total",
			Help: "Total number of OTP emails that could not be delivered",
		},
		[]string{"purpose"},
	)

	otpVerifications = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "otp_verifications_total",
			Help: "Total number of OTP verification attempts, by result",
		},
		[]string{"result"},
	)

	otpDispatchDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "otp_dispatch_duration_seconds",
			Help:    "Duration of OTP email dispatch including retries",
			Buckets: []float64{.05, .1, .25, .5, 1, 2, 5, 10},
		},
	)
)
