// Package telemetry samples host resources on a fixed tick.
//
// HostSource reads real CPU, memory, disk and network counters through
// gopsutil. SyntheticAgentSource generates per-agent readings for display; it
// is an explicit strategy selected by configuration, never a silent fallback.
// Sampling errors yield a zero Sample so the loop keeps running.
package telemetry
