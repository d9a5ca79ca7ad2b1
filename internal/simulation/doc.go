// Package simulation aggregates skeletons into a [World] with world-level
// position, velocity and force vectors, a block-diagonal mass matrix and the
// smooth-dynamics derivatives the backward pass needs.
//
// Every routine that perturbs a world for finite differencing goes through
// [Preserve], which restores positions, velocities, forces and time on every
// exit path:
//
//	err := simulation.Preserve(world, func() error {
//	    world.SetPositions(perturbed)
//	    _, err := neural.ForwardPass(world, true)
//	    return err
//	})
package simulation
