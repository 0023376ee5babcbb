// Package worker contains the claim-and-process loop, the sliding failure
// window that drives degraded health reporting, and the shutdown
// coordinator that returns in-flight work to the queue on termination.
package worker
