// Package stages implements the individual pipeline stage processors. Each
// processor is idempotent: when its output is already present on the
// message it returns the existing payload instead of redoing the work, so
// a message reclaimed mid-pipeline replays cleanly.
package stages
