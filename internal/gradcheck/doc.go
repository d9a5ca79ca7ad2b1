// Package gradcheck compares every analytical derivative of a time step with
// its finite-difference twin.
//
// A [Checker] builds each scenario in its own world, runs one forward pass and
// records one [Check] per quantity:
//
//   - the five snapshot Jacobians (vel-vel, force-vel, pos-vel, pos-pos, vel-pos)
//   - per active row, the contact position, force direction, world force and
//     constraint force Jacobians against their brute-force versions
//
// Scenarios run concurrently; the checks of one scenario run in order on its
// world.
package gradcheck
