package schemas_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// -- Test Helpers --

// getTestTime provides a fixed, reproducible timestamp.
func getTestTime(t *testing.T) time.Time {
	ts, err := time.Parse(time.RFC3339Nano, "2025-10-26T10:00:00.123Z")
	require.NoError(t, err, "Test setup failed: unable to parse fixed timestamp")
	return ts
}

func intPtr(v int) *int { return &v }
