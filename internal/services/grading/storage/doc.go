// Package storage groups the persistence engines of the grading core.
//
// Each engine implements domain.Store. memory keeps state in process and is
// used by tests and ephemeral deployments; sqlite is the default single-node
// engine; postgres serves multi-instance deployments through row locks.
package storage
