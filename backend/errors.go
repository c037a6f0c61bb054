package backend

import "fmt"

// DriverError wraps a failure reported by the underlying database driver.
// The original cause is preserved and reachable through errors.Unwrap.
type DriverError struct {
	Op  string // the operation that failed: "execute", "query", "commit", ...
	Err error
}

func (e *DriverError) Error() string {
	return fmt.Sprintf("backend: %s: %v", e.Op, e.Err)
}

func (e *DriverError) Unwrap() error { return e.Err }

func driverErr(op string, err error) error {
	if err == nil {
		return nil
	}
	return &DriverError{Op: op, Err: err}
}

// UnsupportedBackendError is returned by Open when no adapter is registered
// for the URL scheme.
type UnsupportedBackendError struct {
	Scheme string
}

func (e *UnsupportedBackendError) Error() string {
	return fmt.Sprintf("backend: no adapter registered for scheme %q", e.Scheme)
}

// ConfigError reports an invalid connection URL or pool configuration.
type ConfigError struct {
	Msg string
	Err error
}

func (e *ConfigError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("backend: %s: %v", e.Msg, e.Err)
	}
	return "backend: " + e.Msg
}

func (e *ConfigError) Unwrap() error { return e.Err }
