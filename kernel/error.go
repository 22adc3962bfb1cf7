package kernel

import "fmt"

// Error describes a kernel error. Errors that callers need to compare against
// are defined as package-level variables that are pointers to the Error
// structure; diagnostics that carry run-time details (a pid, an address) are
// built with Errorf.
type Error struct {
	// The module where the error occurred.
	Module string

	// The error message
	Message string
}

// Error implements the error interface.
func (e *Error) Error() string {
	return e.Message
}

// Errorf returns a new Error for module whose message is formatted according
// to a format specifier.
func Errorf(module, format string, args ...interface{}) *Error {
	return &Error{Module: module, Message: fmt.Sprintf(format, args...)}
}
