// Package collision finds point contacts between the shapes attached to
// dynamics bodies. Each contact carries the geometry needed to differentiate
// it: the contact point, a unit normal pointing from body B to body A and, for
// edge-edge contacts, both edges as a fixed point plus direction.
package collision
