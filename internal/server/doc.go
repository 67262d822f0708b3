// Package server manages the HTTP server lifecycle: non-blocking
// startup, graceful shutdown, and SIGINT/SIGTERM handling. This
// package is internal and should not be imported by external
// projects.
package server
