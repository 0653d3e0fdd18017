package rc

import (
	"context"
	"testing"
)

// testContext returns a context canceled when the test finishes, like
// testing.T.Context in Go 1.24.
func testContext(t *testing.T) context.Context {
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	return ctx
}
