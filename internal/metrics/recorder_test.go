package metrics

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

// countingRecorder is a minimal Recorder used to check interface completeness.
type countingRecorder struct {
	NoopRecorder
	mu       sync.Mutex
	outcomes map[BuildOutcomeLabel]int
}

func (c *countingRecorder) IncBuildOutcome(o BuildOutcomeLabel) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.outcomes == nil {
		c.outcomes = map[BuildOutcomeLabel]int{}
	}
	c.outcomes[o]++
}

func TestOrNoop(t *testing.T) {
	assert.Equal(t, NoopRecorder{}, OrNoop(nil))

	c := &countingRecorder{}
	r := OrNoop(c)
	r.IncBuildOutcome(BuildOutcomeTimeout)
	r.ObservePassDuration("pass2", time.Second)
	assert.Equal(t, 1, c.outcomes[BuildOutcomeTimeout])
}
