package monitoring

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func captureLogs(t *testing.T) *[]string {
	t.Helper()
	prev := Logf
	t.Cleanup(func() { Logf = prev })

	var lines []string
	SetLogger(func(format string, v ...interface{}) {
		lines = append(lines, fmt.Sprintf(format, v...))
	})
	return &lines
}

func TestSetLogger(t *testing.T) {
	lines := captureLogs(t)

	Logf("hello %d", 1)
	assert.Equal(t, []string{"hello 1"}, *lines)

	SetLogger(nil)
	Logf("muted")
	assert.Len(t, *lines, 1)
}

func TestRateLimitedFirst(t *testing.T) {
	lines := captureLogs(t)

	r := &RateLimited{First: 3}
	for i := 0; i < 10; i++ {
		r.Logf("skew %d", i)
	}
	assert.Equal(t, []string{"skew 0", "skew 1", "skew 2"}, *lines)
	assert.Equal(t, uint32(10), r.Calls())
}

func TestRateLimitedEvery(t *testing.T) {
	lines := captureLogs(t)

	r := &RateLimited{Every: 4}
	logged := 0
	for i := 0; i < 9; i++ {
		if r.Logf("gps %d", i) {
			logged++
		}
	}
	assert.Equal(t, 3, logged)
	assert.Equal(t, []string{"gps 0", "gps 4", "gps 8"}, *lines)

	r.Reset()
	assert.True(t, r.Logf("again"))
}
