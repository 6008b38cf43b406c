package metrics

import (
	"net/http"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	RecordsParsed = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "microbe_annotator",
		Name:      "records_parsed_total",
		Help:      "Total annotation records emitted by the flat-file parsers.",
	})
	MalformedSkipped = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "microbe_annotator",
		Name:      "malformed_records_total",
		Help:      "Total malformed stanzas/records skipped during parsing.",
	})
	RowsMerged = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "microbe_annotator",
		Name:      "rows_merged_total",
		Help:      "Total shard rows concatenated into annotation tables.",
	})
	RowsLoaded = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "microbe_annotator",
		Name:      "rows_loaded_total",
		Help:      "Total rows committed into the annotation store.",
	})
)

// Init registers collectors; call once from main.
func Init() {
	prometheus.MustRegister(RecordsParsed, MalformedSkipped, RowsMerged, RowsLoaded)
}

// Serve starts a /metrics server on the given addr (e.g., ":9090"). Non-blocking when run in goroutine.
func Serve(addr string) error {
	http.Handle("/metrics", promhttp.Handler())
	return http.ListenAndServe(addr, nil)
}

// AddrFromEnv returns listen address from METRICS_ADDR or default ":9090".
func AddrFromEnv() string {
	if v := os.Getenv("METRICS_ADDR"); v != "" {
		return v
	}
	return ":9090"
}
