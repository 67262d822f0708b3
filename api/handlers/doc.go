// Package handlers implements the HTTP API for dialogue coordination
// and arbitration.
//
// Handlers decode requests, delegate to the engines, and translate
// *types.Error values to HTTP statuses. Every response uses the common
// envelope in common.go.
package handlers
