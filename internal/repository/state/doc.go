// Package state persists the published records of timer instances.
//
// Two backends implement Repository: FileRepository keeps every record in one
// protobuf JSON document on disk, SQLiteRepository keeps one row per instance.
// Both stamp their data with a schema version and refuse to open data written
// by an incompatible major version.
package state
