//nolint:revive,nolintlint // Package name "common" is intentional for shared helpers.
package common

import (
	"fmt"
	"os"
)

// DetectDevice returns the local hostname, the default device of alarms raised from this machine.
func DetectDevice() (string, error) {
	hostname, err := os.Hostname()
	if err != nil {
		return "", fmt.Errorf("hostname: %w", err)
	}

	return hostname, nil
}
