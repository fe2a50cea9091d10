// Package metrics exposes Prometheus collectors for timer actors and the
// supervisor that runs them.
package metrics
