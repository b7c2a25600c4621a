//nolint:revive,nolintlint // Package name "common" is intentional for shared helpers.
package common

import (
	"testing"

	"github.com/stretchr/testify/require"
)

// TestDetectDevice ensures the hostname is detected and non-empty.
func TestDetectDevice(t *testing.T) {
	t.Parallel()

	device, err := DetectDevice()
	require.NoError(t, err)
	require.NotEmpty(t, device)
}
