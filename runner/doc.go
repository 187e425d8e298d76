// Package runner drives the execution of test artifacts against an
// environment. The Scheduler provisions dependencies, gates on dependent
// service readiness, builds the runner command line per artifact, launches
// the external runner process, parses its output into a TestResult and
// records it in the ResultStore. Report verification and generation happen
// as post-steps of a batch.
package runner
