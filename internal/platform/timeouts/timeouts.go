// Package timeouts defines shared timeout constants for the grading service.
package timeouts

import "time"

// ReadHeader limits how long the HTTP API waits for request headers.
const ReadHeader = 5 * time.Second

// Request bounds one inbound command, persistence included.
const Request = 10 * time.Second

// Shutdown limits how long servers wait for in-flight work during
// graceful shutdown.
const Shutdown = 5 * time.Second

// Publish caps a single outbound event publication attempt.
const Publish = 3 * time.Second

// StoreOpen caps connecting to and migrating the configured store.
const StoreOpen = 15 * time.Second
