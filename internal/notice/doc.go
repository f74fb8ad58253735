// Package notice normalizes transient alert payloads from the different
// broker networks into a single Notice model. XML VOEvents, their mirrored
// JSON form, IGWN gravitational-wave JSON alerts and GCN unified-schema JSON
// notices are all decoded through one registry keyed by structural
// fingerprint.
package notice
