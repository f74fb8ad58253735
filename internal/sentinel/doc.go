// Package sentinel is the alert ingestion daemon's business boundary. It
// defines the Service (role filter, queue, single-worker pipeline, control
// operations), the Queue, the Store interface (persistence) and the
// operator prompt board used by the sky map fallback chain.
package sentinel
