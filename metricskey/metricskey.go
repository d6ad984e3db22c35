package metricskey

import "github.com/effective-security/metrics"

// Perf
var (
	// PerfTokenOperation is perf metric
	PerfTokenOperation = metrics.Describe{
		Type:         metrics.TypeSample,
		Name:         "perf_token",
		Help:         "perf_token provides the sample metrics of PKCS#11 token operations",
		RequiredTags: []string{"provider", "action"},
	}

	// PerfSignerOperation is perf metric
	PerfSignerOperation = metrics.Describe{
		Type:         metrics.TypeSample,
		Name:         "perf_signer",
		Help:         "perf_signer provides the sample metrics of signer operations",
		RequiredTags: []string{"action"},
	}
)

// Metrics returns slice of metrics from this repo
var Metrics = []*metrics.Describe{
	&PerfTokenOperation,
	&PerfSignerOperation,
}
