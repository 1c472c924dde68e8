// Package outbound delivers dispatch outcomes back to the originating phone.
//
// Acknowledgers decide when the gateway send happens: inline (SyncAcknowledger),
// on a background goroutine (AsyncAcknowledger) or through a job queue
// (QueueAcknowledger drained by Worker). None of them can change the outcome
// already recorded by the dispatcher.
package outbound
