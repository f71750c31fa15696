// Command devlock is a terminal lock prompt guarded by an encrypted
// password, with operator commands for provisioning, status and the
// attempt log.
package main

import (
	"errors"
	"os"
)

// Exit codes
const (
	exitOK    = 0
	exitError = 1
	exitFault = 2
)

// exitCodeError carries a specific process exit code.
type exitCodeError struct {
	code int
	err  error
}

func (e *exitCodeError) Error() string { return e.err.Error() }
func (e *exitCodeError) Unwrap() error { return e.err }

func exitCode(err error) int {
	if err == nil {
		return exitOK
	}
	var ec *exitCodeError
	if errors.As(err, &ec) {
		return ec.code
	}
	return exitError
}

func main() {
	os.Exit(exitCode(rootCmd.Execute()))
}
