// Package store persists findings and saved mission configs.
//
// SQLiteStore is the only implementation. It runs on modernc.org/sqlite, so
// no cgo is required, and accepts ":memory:" for ephemeral deployments and
// tests.
package store
