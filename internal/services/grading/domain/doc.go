// Package domain holds the answer-script grading state machine: the script
// registry, the grading ledger, discrepancy resolution and finalization.
//
// Every command that reads and then writes one script runs inside
// Store.WithinScript, so the ledger and the discrepancy resolver observe and
// mutate one consistent snapshot per script. Storage conflicts are retried
// with bounded exponential backoff and surface as a contention error once
// the attempts are spent.
package domain
