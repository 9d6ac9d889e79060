package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ProofsSubmitted counts written proof records by verification level
	ProofsSubmitted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "docproof_proofs_submitted_total",
			Help: "Total number of proof records written",
		},
		[]string{"level"},
	)

	// SubmitDuration tracks the submission pipeline time
	SubmitDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "docproof_submit_duration_seconds",
			Help:    "Submission pipeline duration in seconds",
			Buckets: []float64{0.05, 0.1, 0.5, 1, 5, 15, 30, 60, 120},
		},
	)

	// TrustScore tracks the distribution of computed trust scores
	TrustScore = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "docproof_trust_score",
			Help:    "Trust score of classified evidence",
			Buckets: []float64{0, 20, 30, 50, 60, 80, 95, 100},
		},
		[]string{"mode"},
	)

	// MethodOutcomes counts per-method results
	MethodOutcomes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "docproof_method_outcomes_total",
			Help: "Verification method outcomes by method and state",
		},
		[]string{"mode", "method", "state"},
	)

	// Verifications counts verification requests
	Verifications = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "docproof_verifications_total",
			Help: "Total number of verifications by mode and admissibility",
		},
		[]string{"mode", "court_admissible"},
	)

	// AnchorReceipts counts anchor receipts by network and status
	AnchorReceipts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "docproof_anchor_receipts_total",
			Help: "Anchor receipts by network and status",
		},
		[]string{"network", "status"},
	)

	// PendingAnchors tracks receipts awaiting confirmation
	PendingAnchors = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "docproof_pending_anchors",
			Help: "Number of anchor receipts awaiting confirmation",
		},
	)

	// ReconcileRuns counts reconciler passes
	ReconcileRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "docproof_reconcile_runs_total",
			Help: "Reconciler passes by result",
		},
		[]string{"result"},
	)

	// ErrorsTotal counts errors by component and kind
	ErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "docproof_errors_total",
			Help: "Total number of errors by component and kind",
		},
		[]string{"component", "kind"},
	)
)
