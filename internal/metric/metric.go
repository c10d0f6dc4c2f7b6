// Package metric exposes the daemon's counters in Prometheus text
// format via github.com/VictoriaMetrics/metrics.
package metric

import (
	"net/http"
	"strings"

	"github.com/VictoriaMetrics/metrics"
)

const namespace = "aplights"

// StartMetrics adds the metrics handler to a http.ServeMux.
func StartMetrics(mux *http.ServeMux) {
	mux.HandleFunc("/metrics", func(rw http.ResponseWriter, r *http.Request) {
		metrics.WritePrometheus(rw, true)
	})
}

// Counter creates or reuses a namespaced counter.
func Counter(subsystem, name string) *metrics.Counter {
	return metrics.GetOrCreateCounter(join(namespace, subsystem, name))
}

func join(parts ...string) string {
	kept := make([]string, 0, len(parts))
	for _, p := range parts {
		if p != "" {
			kept = append(kept, p)
		}
	}
	return strings.Join(kept, "_")
}
