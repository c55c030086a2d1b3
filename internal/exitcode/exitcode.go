// Package exitcode lists the process exit codes of the generator.
package exitcode

// Exit codes.
const (
	Success = 0
	// Failure covers fetch and processing failures; no matrix is printed.
	Failure = 1
	// UsageError covers bad arguments, flags and configuration.
	UsageError = 2
)

// String returns a human-readable description of the exit code.
func String(code int) string {
	switch code {
	case Success:
		return "Success"
	case Failure:
		return "Failure"
	case UsageError:
		return "Usage error"
	default:
		return "Unknown error"
	}
}
