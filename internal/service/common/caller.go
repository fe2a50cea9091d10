//nolint:revive,nolintlint // Package name "common" is intentional for shared helpers.
package common

import (
	"fmt"
	"os"
	"os/user"

	"github.com/oshokin/timed-devices/internal/domain/timer"
)

// DetectCaller gathers host and user information for the audit trail of control commands.
func DetectCaller() (*timer.Caller, error) {
	hostname, err := os.Hostname()
	if err != nil {
		return nil, fmt.Errorf("hostname: %w", err)
	}

	currentUser, err := user.Current()
	if err != nil {
		return nil, fmt.Errorf("current user: %w", err)
	}

	return &timer.Caller{
		Hostname: hostname,
		Username: currentUser.Username,
	}, nil
}
