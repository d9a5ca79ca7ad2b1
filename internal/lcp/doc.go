// Package lcp solves boxed linear complementarity problems of the form used
// for contact impulses: normal rows bounded below by zero and friction rows
// whose box scales with the impulse of the normal row they reference.
//
// Solutions are polished onto an exact active set so callers can classify
// rows as clamping, at a bound, or inactive without tolerance drift.
package lcp
