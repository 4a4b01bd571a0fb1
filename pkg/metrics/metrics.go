// Package metrics defines the prover node's counter and histogram
// families and exposes them over HTTP for Prometheus scraping.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry wraps a dedicated prometheus.Registry so the process-wide
// metrics registration happens exactly once, at startup.
type Registry struct {
	reg *prometheus.Registry

	ProofExpired            prometheus.Counter
	ProvingFailed           prometheus.Counter
	ProvingSucceeded        prometheus.Counter
	ClaimAttempt            prometheus.Counter
	ClaimMissed             prometheus.Counter
	ClaimReceived           prometheus.Counter
	ImageDeployment         prometheus.Counter
	ImageDownloadDuration   prometheus.Histogram
	ImageDownloadSize       prometheus.Histogram
	ImageLoaded             prometheus.Counter
	ImageComputeEstimate    prometheus.Histogram
	ExecutionRequest        prometheus.Counter
	ProofGenerationDuration prometheus.Histogram
	ProofCompressionDuration prometheus.Histogram
	ProofConversionDuration prometheus.Histogram
	InputDownloadDuration   prometheus.Histogram
	ProofCyclesTotal        prometheus.Histogram
	ProofCyclesUser         prometheus.Histogram
	ProofSegments           prometheus.Histogram
	SignaturesInFlight      prometheus.Gauge
	IncompatibleProverVersion prometheus.Counter
	ProofSubmissionError    prometheus.Counter
	TransactionExpired      prometheus.Counter
}

// New constructs and registers every metric family. Call once at
// process startup.
func New() *Registry {
	reg := prometheus.NewRegistry()
	f := promauto.With(reg)

	return &Registry{
		reg: reg,

		ProofExpired: f.NewCounter(prometheus.CounterOpts{
			Name: "bonsol_proof_expired_total", Help: "Inflight proofs reaped past their expiry block.",
		}),
		ProvingFailed: f.NewCounter(prometheus.CounterOpts{
			Name: "bonsol_proving_failed_total", Help: "Proof engine runs that returned an error.",
		}),
		ProvingSucceeded: f.NewCounter(prometheus.CounterOpts{
			Name: "bonsol_proving_succeeded_total", Help: "Proof engine runs that produced a seal.",
		}),
		ClaimAttempt: f.NewCounter(prometheus.CounterOpts{
			Name: "bonsol_claim_attempt_total", Help: "Claim transactions submitted.",
		}),
		ClaimMissed: f.NewCounter(prometheus.CounterOpts{
			Name: "bonsol_claim_missed_total", Help: "Claims lost to another prover.",
		}),
		ClaimReceived: f.NewCounter(prometheus.CounterOpts{
			Name: "bonsol_claim_received_total", Help: "ClaimV1 instructions observed on chain.",
		}),
		ImageDeployment: f.NewCounter(prometheus.CounterOpts{
			Name: "bonsol_image_deployment_total", Help: "DeployV1 instructions observed on chain.",
		}),
		ImageDownloadDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name: "bonsol_image_download_duration_seconds", Help: "Image download wall time.",
			Buckets: prometheus.DefBuckets,
		}),
		ImageDownloadSize: f.NewHistogram(prometheus.HistogramOpts{
			Name: "bonsol_image_download_size_bytes", Help: "Downloaded image size in bytes.",
			Buckets: prometheus.ExponentialBuckets(1024, 4, 12),
		}),
		ImageLoaded: f.NewCounter(prometheus.CounterOpts{
			Name: "bonsol_image_loaded_total", Help: "Images inserted into the in-memory index.",
		}),
		ImageComputeEstimate: f.NewHistogram(prometheus.HistogramOpts{
			Name: "bonsol_image_compute_estimate_pages", Help: "Page count of loaded images.",
			Buckets: prometheus.ExponentialBuckets(16, 2, 16),
		}),
		ExecutionRequest: f.NewCounter(prometheus.CounterOpts{
			Name: "bonsol_execution_request_total", Help: "ExecuteV1 instructions observed on chain.",
		}),
		ProofGenerationDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name: "bonsol_proof_generation_duration_seconds", Help: "zkVM execute+prove+lift wall time.",
			Buckets: prometheus.ExponentialBuckets(1, 2, 12),
		}),
		ProofCompressionDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name: "bonsol_proof_compression_duration_seconds", Help: "Groth16 compression wall time.",
			Buckets: prometheus.ExponentialBuckets(1, 2, 12),
		}),
		ProofConversionDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name: "bonsol_proof_conversion_duration_seconds", Help: "Witness serialisation wall time.",
			Buckets: prometheus.DefBuckets,
		}),
		InputDownloadDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name: "bonsol_input_download_duration_seconds", Help: "Per-input resolution wall time.",
			Buckets: prometheus.DefBuckets,
		}),
		ProofCyclesTotal: f.NewHistogram(prometheus.HistogramOpts{
			Name: "bonsol_proof_cycles_total", Help: "Total zkVM cycles per session.",
			Buckets: prometheus.ExponentialBuckets(1<<14, 2, 16),
		}),
		ProofCyclesUser: f.NewHistogram(prometheus.HistogramOpts{
			Name: "bonsol_proof_cycles_user", Help: "User-mode zkVM cycles per session.",
			Buckets: prometheus.ExponentialBuckets(1<<14, 2, 16),
		}),
		ProofSegments: f.NewHistogram(prometheus.HistogramOpts{
			Name: "bonsol_proof_segments", Help: "Segment count per session.",
			Buckets: prometheus.ExponentialBuckets(1, 2, 12),
		}),
		SignaturesInFlight: f.NewGauge(prometheus.GaugeOpts{
			Name: "bonsol_signatures_in_flight", Help: "Signatures currently tracked for confirmation.",
		}),
		IncompatibleProverVersion: f.NewCounter(prometheus.CounterOpts{
			Name: "bonsol_incompatible_prover_version_total", Help: "Executions skipped for prover version mismatch.",
		}),
		ProofSubmissionError: f.NewCounter(prometheus.CounterOpts{
			Name: "bonsol_proof_submission_error_total", Help: "submit-status transactions confirmed with an error.",
		}),
		TransactionExpired: f.NewCounter(prometheus.CounterOpts{
			Name: "bonsol_transaction_expired_total", Help: "Tracked signatures that aged out as NotFound.",
		}),
	}
}

// Handler returns the HTTP handler serving this registry in the
// Prometheus exposition format.
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{})
}
