// Package version holds build version information.
package version

import "fmt"

// Version is set at build time via -ldflags.
var Version = "dev"

// UserAgent returns the User-Agent header value for API requests.
func UserAgent() string {
	return fmt.Sprintf("fauna-cli/%s", Version)
}
