// Package hub fans coordination events out to live observers.
//
// # Delivery
//
// Every observer owns a bounded channel. Publish performs non-blocking sends
// only, so a stalled observer can never back-pressure producers or other
// observers. When a buffer is full the hub either disconnects the observer
// (OverflowDisconnect, the default) or discards its oldest buffered event
// (OverflowDropOldest).
//
// # Ordering
//
// Events from one producer reach each observer in publish order. Nothing is
// promised across independent producers.
//
// # Replay
//
// There is none. An observer only sees events published while it is
// registered; current state comes from the registry and queue snapshots.
package hub
