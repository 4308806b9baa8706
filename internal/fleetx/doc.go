// Package fleetx sweeps a fleet of Windows hosts for interactive sessions.
//
// A sweep moves through Idle, Resolving and Scanning before ending in
// Completed, Cancelled or Failed. Each Engine runs a single sweep; Service
// creates one per call.
package fleetx
