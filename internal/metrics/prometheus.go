package metrics

import (
	"fmt"
	"net/http"
	"sort"
	"strings"
)

const namespace = "aero_webrtc_signal_relay"

// GaugeFunc reports point-in-time values (for example live rooms and clients)
// that are exported alongside the counters.
type GaugeFunc func() map[string]int

var labelEscaper = strings.NewReplacer("\\", "\\\\", "\"", "\\\"", "\n", "\\n")

// PrometheusHandler exposes Metrics in Prometheus' text exposition format.
//
// All counters share one metric with an `event` label. Gauges, when provided,
// are exported as `<namespace>_<name>` each.
func PrometheusHandler(m *Metrics, gauges GaugeFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if m == nil {
			http.Error(w, "metrics not configured", http.StatusInternalServerError)
			return
		}

		snap := m.Snapshot()
		keys := make([]string, 0, len(snap))
		for k := range snap {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")
		_, _ = fmt.Fprintf(w, "# HELP %s_events_total Internal event counters.\n", namespace)
		_, _ = fmt.Fprintf(w, "# TYPE %s_events_total counter\n", namespace)
		for _, k := range keys {
			_, _ = fmt.Fprintf(w, "%s_events_total{event=\"%s\"} %d\n", namespace, labelEscaper.Replace(k), snap[k])
		}

		if gauges == nil {
			return
		}
		values := gauges()
		names := make([]string, 0, len(values))
		for k := range values {
			names = append(names, k)
		}
		sort.Strings(names)
		for _, name := range names {
			_, _ = fmt.Fprintf(w, "# TYPE %s_%s gauge\n", namespace, name)
			_, _ = fmt.Fprintf(w, "%s_%s %d\n", namespace, name, values[name])
		}
	})
}
