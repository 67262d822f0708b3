// Package metrics provides Prometheus instrumentation for the
// coordination service: HTTP traffic, dialogue sessions and turns,
// arbitration conflicts and resolutions, and reasoning oracle calls.
// This package is internal and should not be imported by external
// projects.
package metrics
