// Package store provides persistence for dialogue sessions and
// arbitration records.
//
// MemoryStore backs tests and single-process deployments; GormStore
// persists to SQLite, PostgreSQL, or MySQL through GORM. Both satisfy
// the narrow interfaces the dialogue and arbitration packages declare,
// plus the analytics queries the API exposes.
package store
