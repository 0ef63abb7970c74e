// Package queue implements the shared instruction queue agents pull work from.
//
// Instructions move pending -> executing -> completed. ClaimNext hands the
// oldest pending instruction to exactly one caller; the claim lasts until the
// claimant completes or fails it, or until it is released because the agent
// was deleted, errored, or held the claim past the sweeper timeout.
//
// Every mutation produces a Snapshot delivered to OnChange listeners after
// the queue lock is released. Listeners see snapshots in mutation order, so
// the last one delivered always matches List.
package queue
