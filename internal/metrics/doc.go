// Package metrics provides build observability for texbuilder.
//
// Components receive a Recorder through their constructors. NoopRecorder is the
// default and does nothing; PrometheusRecorder registers collectors on a registry
// that the HTTP server exposes at /metrics.
//
//	reg := prometheus.NewRegistry()
//	recorder := metrics.NewPrometheusRecorder(reg)
//	cache := workspace.NewCache(root, workspace.WithRecorder(recorder))
package metrics
