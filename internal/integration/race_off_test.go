//go:build !race

package integration

// concurrentReporters is the number of devices reporting at once in the
// concurrency test.
const concurrentReporters = 64
