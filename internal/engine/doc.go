// Package engine defines the core types, interfaces and sentinel errors shared
// by the ingestion, analysis and healing subsystems.
package engine
