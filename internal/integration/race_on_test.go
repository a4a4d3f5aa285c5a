//go:build race

package integration

// concurrentReporters is lower under the race detector, which slows every
// request several times over.
const concurrentReporters = 16
