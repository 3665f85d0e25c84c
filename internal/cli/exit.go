package cli

import (
	"errors"

	"github.com/ppiankov/sentinel/internal/config"
	"github.com/ppiankov/sentinel/internal/integrity"
)

// Process exit codes. A supervisor can tell a clean stop, a runtime
// failure and a security lockdown apart.
const (
	ExitClean    = 0
	ExitFailure  = 1
	ExitConfig   = 78 // EX_CONFIG
	ExitLockdown = 100
)

// ExitError carries an explicit exit code out of a command.
type ExitError struct {
	Code int
	Err  error
}

func (e *ExitError) Error() string { return e.Err.Error() }

func (e *ExitError) Unwrap() error { return e.Err }

func lockdownError(artifact string) error {
	return &ExitError{Code: ExitLockdown, Err: errors.New("lockdown triggered, forensic trace at " + artifact)}
}

// exitCode maps a command error to the process exit code.
func exitCode(err error) int {
	if err == nil {
		return ExitClean
	}
	var ee *ExitError
	if errors.As(err, &ee) {
		return ee.Code
	}
	var ce *config.Error
	if errors.As(err, &ce) || errors.Is(err, integrity.ErrTampered) {
		return ExitConfig
	}
	return ExitFailure
}
