// Package store provides CouchDB-backed persistence for transcription
// records and todos. Documents share one database and are discriminated by
// a type field queried through mango selectors.
package store
