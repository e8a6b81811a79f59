package output

// Error codes.
const (
	CodeUsage     = "usage"
	CodeAuth      = "auth_required"
	CodeForbidden = "forbidden"
	CodeNetwork   = "network"
	CodeAPI       = "api_error"
	CodeCommand   = "command_error"
)

// Exit codes. Terminal authentication failures exit 1, matching the
// behavior callers script against.
const (
	ExitOK        = 0 // Success
	ExitUsage     = 1 // Invalid arguments or flags
	ExitAuth      = 1 // Not authenticated
	ExitForbidden = 4 // Access denied (insufficient role)
	ExitNetwork   = 6 // Connection/DNS/timeout error
	ExitAPI       = 7 // Server returned error
	ExitCommand   = 1 // Command failed
)

// ExitCodeFor returns the exit code for a given error code.
func ExitCodeFor(code string) int {
	switch code {
	case CodeUsage:
		return ExitUsage
	case CodeAuth:
		return ExitAuth
	case CodeForbidden:
		return ExitForbidden
	case CodeNetwork:
		return ExitNetwork
	case CodeAPI:
		return ExitAPI
	default:
		return ExitCommand
	}
}
