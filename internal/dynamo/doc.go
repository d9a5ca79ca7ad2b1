// Package dynamo provides the primitives shared by the simulation packages.
//
//   - [Vector]: dense world-level state vector (positions, velocities, forces)
//   - [Sample]: per-step record handed to metrics and observers
//   - [Metric], [Observer]: rollout instrumentation interfaces
//   - [ParallelFor]: chunked worker helper for Jacobian assembly
//
// # Thread Safety
//
// Worlds are NOT thread-safe. [ParallelFor] callbacks must only read state
// that was brought up to date before the call and write disjoint outputs.
package dynamo
