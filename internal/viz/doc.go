// Package viz renders worlds, rollouts and gradient reports in the terminal.
//
//   - [Model]: Bubble Tea live view that steps a world and draws it
//   - [Picker]: scenario menu that opens a [Model]
//   - [Canvas]: Braille pixel canvas, fed by [Camera] and [Wireframe]
//   - [PlotColumns], [RenderReport], [RenderMatrix]: static output for the CLI
//
// # Key Bindings
//
//	Space/P - Pause/Resume
//	N       - Single step while paused
//	R       - Reset to the initial state
//	←/→ ↑/↓ - Orbit the camera
//	+/-     - Zoom
//	T       - Cycle color themes
//	?       - Show help overlay
//	Q       - Quit
package viz
