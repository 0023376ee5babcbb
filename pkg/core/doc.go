// Package core provides the fundamental types and interfaces for the worker.
//
// This package contains:
//   - Message and Heartbeat data models with GORM annotations
//   - Store interface defining the persistence contract
//   - StageProcessor contract implemented by pipeline stages
//   - Error types and failure classification
//
// It has no dependencies on the other worker packages; everything else
// builds on top of it.
package core
