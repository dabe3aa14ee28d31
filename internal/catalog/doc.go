// Package catalog provides read-only template and partial repositories for
// the mailer: an in-memory store, a loader for YAML catalog directories, a
// file watcher that hot-reloads a directory into memory, and a Redis
// read-through cache that can front any repository.
package catalog
