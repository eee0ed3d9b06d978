package queue

import (
	"regexp"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestNewJobID(t *testing.T) {
	idPattern := regexp.MustCompile(`^job-[0-9a-f]{16}$`)

	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		id := NewJobID()
		assert.Regexp(t, idPattern, id)
		assert.False(t, seen[id], "job ids must not repeat")
		seen[id] = true
	}
}

func TestPriorityForSize(t *testing.T) {
	tests := []struct {
		name     string
		size     int64
		expected int
	}{
		{"unknown size gets the middle band", 0, 2},
		{"negative size gets the middle band", -1, 2},
		{"small file runs first", 5 << 20, 1},
		{"just under 10 MiB is still small", 10<<20 - 1, 1},
		{"10 MiB is medium", 10 << 20, 2},
		{"99 MiB is medium", 99 << 20, 2},
		{"100 MiB is large", 100 << 20, 3},
		{"multi-GiB is large", 4 << 30, 3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, PriorityForSize(tt.size))
		})
	}
}

func TestRetryDelay(t *testing.T) {
	assert.Equal(t, time.Second, RetryDelay(0))
	assert.Equal(t, 2*time.Second, RetryDelay(1))
	assert.Equal(t, 4*time.Second, RetryDelay(2))
	assert.Equal(t, 8*time.Second, RetryDelay(3))

	// capped at five minutes no matter how many attempts
	assert.Equal(t, 5*time.Minute, RetryDelay(10))
	assert.Equal(t, 5*time.Minute, RetryDelay(100))

	// negative attempts behave like the first
	assert.Equal(t, time.Second, RetryDelay(-1))
}
