// Package types contains the shared error taxonomy and request-scoped
// context helpers used across the coordination service.
package types
