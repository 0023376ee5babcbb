// Package storage provides the GORM-backed implementation of core.Store.
//
// All cross-worker mutual exclusion is delegated to the database: the claim
// uses a locking read (FOR UPDATE SKIP LOCKED on PostgreSQL) inside a single
// transaction, and every later mutation is a conditional update scoped to
// the (message_sid, locked_by, job_status = PROCESSING) ownership predicate.
// No in-process locks are used.
package storage
