// Package neural makes one simulation time step differentiable.
//
// [ForwardPass] advances a world by one step: smooth dynamics first, then
// contact and joint-limit impulses from a boxed LCP. When asked it returns a
// [BackpropSnapshot] that holds the step's active constraint rows and yields
// the Jacobians of the post-step state with respect to pre-step positions,
// velocities and torques.
//
// Each active row is a [DifferentiableContactConstraint]. It knows which side
// of the contact every dof moves and can differentiate the contact point,
// normal, force direction and generalized force with respect to any dof.
// Every analytical quantity has a brute-force twin that reruns the step under
// a perturbation, for testing.
//
// # Thread Safety
//
// Snapshots and constraints read the live world. They are NOT safe to use
// concurrently with anything that mutates it.
package neural
