package backoff

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestExponentialJitterBounds(t *testing.T) {
	base, max := 100*time.Millisecond, 2*time.Second

	for attempt := 0; attempt < 12; attempt++ {
		d := ExponentialJitter(base, max, attempt)

		n := attempt
		if n <= 0 {
			n = 1
		}
		want := min(base<<(n-1), max)
		assert.GreaterOrEqual(t, d, want-want/5, "attempt %d", attempt)
		assert.Less(t, d, want+want/5, "attempt %d", attempt)
	}
}

func TestExponentialJitterTinyBase(t *testing.T) {
	assert.Equal(t, time.Duration(1), ExponentialJitter(1, 1, 3))
	assert.Equal(t, time.Duration(0), ExponentialJitter(0, 0, 1))
}
