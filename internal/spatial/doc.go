// Package spatial implements the SE(3) algebra used by the kinematics and
// contact layers: twists and wrenches as [Vec6] (angular part first), rigid
// transforms as [Isometry], the adjoint maps, the Lie bracket [Ad] and the
// exponential map.
//
// It also holds the small pieces of contact geometry that are shared between
// collision detection and differentiation: the closest point between two
// edge lines and the friction tangent basis, each paired with its exact
// derivative.
package spatial
