package notify

import (
	"encoding/json"
	stdErrors "errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"git.home.luguber.info/inful/texbuilder/internal/build"
	"git.home.luguber.info/inful/texbuilder/internal/build/queue"
	"git.home.luguber.info/inful/texbuilder/internal/config"
	"git.home.luguber.info/inful/texbuilder/internal/retry"
)

type fakePublisher struct {
	mu       sync.Mutex
	subjects []string
	messages [][]byte
	err      error
	failures int // transient failures before publishes succeed
	calls    int
}

func (f *fakePublisher) Publish(subject string, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return f.err
	}
	if f.failures > 0 {
		f.failures--
		return stdErrors.New("nats: outbound buffer limit exceeded")
	}
	f.subjects = append(f.subjects, subject)
	f.messages = append(f.messages, data)
	return nil
}

func TestNATSNotifierPublishesJSON(t *testing.T) {
	pub := &fakePublisher{}
	n := newNATSNotifier(pub, "texbuilder.builds", nil)

	job := queue.Job{
		ID:        "b-1",
		ProjectID: "thesis",
		Status:    queue.StatusSucceeded,
		Engine:    "lualatex",
		Mode:      "delta",
		Source:    queue.SourceDelta,
		Passes:    2,
		Duration:  1500 * time.Millisecond,
	}
	n.BuildFinished(t.Context(), job, &build.Result{Success: true, MainFile: "src/thesis.tex"})

	require.Len(t, pub.messages, 1)
	assert.Equal(t, "texbuilder.builds", pub.subjects[0])

	var msg BuildNotification
	require.NoError(t, json.Unmarshal(pub.messages[0], &msg))
	assert.Equal(t, "b-1", msg.BuildID)
	assert.Equal(t, "succeeded", msg.Status)
	assert.Equal(t, "delta", msg.Source)
	assert.Equal(t, int64(1500), msg.DurationMS)
	assert.Equal(t, "thesis.pdf", msg.Artifact)
	assert.False(t, msg.Timestamp.IsZero())
}

func TestFailedBuildHasNoArtifact(t *testing.T) {
	msg := NewBuildNotification(queue.Job{ID: "b-2", Status: queue.StatusFailed, Code: "compilation", Error: "compilation failed"}, &build.Result{MainFile: "main.tex"})
	assert.Empty(t, msg.Artifact)
	assert.Equal(t, "compilation", msg.Code)
}

func TestPublishFailureIsNotFatal(t *testing.T) {
	pub := &fakePublisher{err: stdErrors.New("nats: connection closed")}
	n := newNATSNotifier(pub, "s", nil)
	n.policy = retry.NewPolicy(retry.BackoffFixed, time.Millisecond, time.Millisecond, 2)
	assert.NotPanics(t, func() {
		n.BuildFinished(t.Context(), queue.Job{ID: "b-3"}, nil)
	})
	assert.Equal(t, 3, pub.calls)
	assert.NoError(t, n.Close())
}

func TestTransientPublishFailureIsRetried(t *testing.T) {
	pub := &fakePublisher{failures: 1}
	n := newNATSNotifier(pub, "s", nil)
	n.policy = retry.NewPolicy(retry.BackoffFixed, time.Millisecond, time.Millisecond, 2)

	n.BuildFinished(t.Context(), queue.Job{ID: "b-4", Status: queue.StatusSucceeded}, nil)
	assert.Equal(t, 2, pub.calls)
	require.Len(t, pub.messages, 1)
}

func TestNewWithoutURLIsNoop(t *testing.T) {
	n, err := New(config.NotifyConfig{}, nil)
	require.NoError(t, err)
	assert.IsType(t, Noop{}, n)
	assert.NoError(t, n.Close())
}
