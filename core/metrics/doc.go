// Package metrics defines the sinks that observe a running simulation.
// Sinks record position events, completed legs and notification outcomes.
// Optional capabilities are expressed as separate recorder interfaces so a
// sink only implements what it can store; MultiSink forwards each record to
// every sink that supports it.
package metrics
