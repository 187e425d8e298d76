// Package exitcodes defines the standard exit codes used by testpilot.
package exitcodes

// Exit code constants:
//
// * Success (0): every executed artifact passed
// * TestFailure (1): one or more artifacts failed or errored
// * RuntimeErr (2): configuration, provisioning or verification failures
const (
	Success     = 0
	TestFailure = 1
	RuntimeErr  = 2
)
