// Package inbound turns raw inbound messages into exactly one response
// outcome each.
//
// The dispatcher claims a message identity in the ledger before decoding, so
// concurrent or retried deliveries of the same message observe the outcome of
// the first delivery instead of applying the submission twice.
package inbound
