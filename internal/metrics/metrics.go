package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	StudentsProvisioned = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "mindleap",
		Name:      "students_provisioned_total",
		Help:      "Students processed by the provisioning orchestrator, by result.",
	}, []string{"status"})

	CleanupFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "mindleap",
		Name:      "provision_cleanup_failures_total",
		Help:      "Compensating actions that failed after a provisioning step failed.",
	}, []string{"op"})

	CodesAllocated = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "mindleap",
		Name:      "registry_codes_allocated_total",
		Help:      "New district and school codes allocated by the registry.",
	}, []string{"kind"})

	UploadsValidated = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "mindleap",
		Name:      "uploads_validated_total",
		Help:      "Uploaded spreadsheets by validation result.",
	}, []string{"status"})

	ProvisionJobs = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "mindleap",
		Name:      "provision_jobs_total",
		Help:      "Bulk provisioning jobs finished by the worker, by final status.",
	}, []string{"status"})

	ProvisionDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "mindleap",
		Name:      "provision_student_duration_seconds",
		Help:      "Time to provision a single student end to end.",
		Buckets:   prometheus.DefBuckets,
	})
)
