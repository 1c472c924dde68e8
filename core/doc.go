// Package core contains the SMS intake domain contracts, submission and entity
// types, the response protocol, and runtime configuration. Storage, codec and
// transport adapters depend on this package; core must not depend on them.
package core
