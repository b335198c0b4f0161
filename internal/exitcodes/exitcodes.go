// Package exitcodes defines the process exit codes used by lab-harness.
//
//   - Success (0): every requested mode passed
//   - TestFailure (1): at least one mode's suite reported success_cnt != total_cnt
//   - SetupErr (2): environment or setup errors, including startup failures before any
//     suite ran and children that could not be reaped
package exitcodes

const (
	Success     = 0
	TestFailure = 1
	SetupErr    = 2
)
