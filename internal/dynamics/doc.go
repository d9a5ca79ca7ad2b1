// Package dynamics models articulated rigid bodies.
//
// A [Skeleton] is an arena of [BodyNode] values stored in topological order,
// each attached to its parent through a [Joint]. Joints are products of
// exponentials of screw axes, so every [Dof] exposes a world-frame screw axis
// through [Skeleton.WorldScrewAxis], and ancestry between dofs and bodies is
// answered by explicit parent walks ([IsAncestorOfBody], [IsAncestorOfDof]).
//
// The package also assembles the joint-space mass matrix and the combined
// Coriolis and gravity vector used by the forward step:
//
//	M(q) q̈ + c(q, q̇) = τ
package dynamics
