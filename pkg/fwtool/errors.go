package fwtool

import "errors"

var (
	// ErrToolInvocation is returned when the tool process could not be started,
	// e.g. the binary is missing or sudo is not set up.
	ErrToolInvocation = errors.New("failed to invoke charge limit tool")

	// ErrToolExecution is returned when the tool exits unsuccessfully, or a query
	// reports errors on stderr.
	ErrToolExecution = errors.New("charge limit tool execution failed")

	// ErrParse is returned when the tool output has no "Maximum N%" line.
	ErrParse = errors.New("failed to parse charge limit tool output")

	// ErrLimitRejected is returned when setting a limit exits with 0 but writes
	// to stderr. The outcome is ambiguous, so it is not treated as success.
	ErrLimitRejected = errors.New("charge limit tool reported errors while setting limit")

	// ErrToolTimeout is returned when the tool does not finish in time.
	ErrToolTimeout = errors.New("charge limit tool timed out")
)

// Kind returns a short, user-safe name for err's category.
func Kind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrToolTimeout):
		return "timeout"
	case errors.Is(err, ErrToolInvocation):
		return "invocation"
	case errors.Is(err, ErrLimitRejected):
		return "rejected"
	case errors.Is(err, ErrParse):
		return "parse"
	case errors.Is(err, ErrToolExecution):
		return "execution"
	}
	return "unknown"
}
