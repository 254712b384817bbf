// Package accountstore persists the account collection as a single JSON file.
//
// Writes are crash-safe: the previous primary is copied to a ".bak" sibling,
// the new document is written to a ".tmp" sibling, flushed, and renamed over
// the primary. Readers therefore see either the old or the new document, never
// a torn one.
//
// A primary that fails to parse is recovered from the backup when possible.
// When both are unreadable the corrupt primary is quarantined next to the
// store and an empty collection is returned, so the store stays usable.
//
// Every mutation re-reads the file (there is no in-memory cache) and holds the
// store's mutex across load, mutate and save. Two processes sharing one file
// are not coordinated: the last writer wins.
package accountstore
