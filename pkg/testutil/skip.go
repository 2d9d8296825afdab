// Package testutil carries helpers shared by the storage integration
// suites.
package testutil

import (
	"os"
	"testing"
)

// SkipIfShort skips the test under -short. The storage integration
// suites start real backend containers, so they all respect it.
func SkipIfShort(t *testing.T) {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	if os.Getenv("NODEKV_SKIP_DOCKER_TESTS") != "" {
		t.Skip("skipping container-backed test (NODEKV_SKIP_DOCKER_TESTS set)")
	}
}
