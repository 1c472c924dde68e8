// Package codec implements the compact wire format for SMS submissions: a
// base64 text body wrapping a msgpack envelope with short field names. Decoded
// envelopes are checked with struct validation before they become a
// core.Submission.
package codec
