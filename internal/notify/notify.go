// Package notify publishes build completion notifications.
package notify

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"

	"git.home.luguber.info/inful/texbuilder/internal/build"
	"git.home.luguber.info/inful/texbuilder/internal/build/queue"
	"git.home.luguber.info/inful/texbuilder/internal/config"
	"git.home.luguber.info/inful/texbuilder/internal/foundation/errors"
	"git.home.luguber.info/inful/texbuilder/internal/logfields"
	"git.home.luguber.info/inful/texbuilder/internal/retry"
)

// BuildNotification is the JSON message published for every finished build.
type BuildNotification struct {
	BuildID    string    `json:"build_id"`
	ProjectID  string    `json:"project_id,omitempty"`
	Status     string    `json:"status"`
	Engine     string    `json:"engine,omitempty"`
	Mode       string    `json:"mode,omitempty"`
	Source     string    `json:"source"`
	Passes     int       `json:"passes"`
	DurationMS int64     `json:"duration_ms"`
	Artifact   string    `json:"artifact,omitempty"`
	Code       string    `json:"code,omitempty"`
	Error      string    `json:"error,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

// NewBuildNotification builds the message for a finished job.
func NewBuildNotification(job queue.Job, result *build.Result) BuildNotification {
	n := BuildNotification{
		BuildID:    job.ID,
		ProjectID:  job.ProjectID,
		Status:     string(job.Status),
		Engine:     job.Engine,
		Mode:       job.Mode,
		Source:     string(job.Source),
		Passes:     job.Passes,
		DurationMS: job.Duration.Milliseconds(),
		Code:       job.Code,
		Error:      job.Error,
		Timestamp:  time.Now().UTC(),
	}
	if result != nil && result.Success {
		n.Artifact = result.ArtifactName()
	}
	return n
}

// Notifier is a queue.Notifier that can be closed.
type Notifier interface {
	queue.Notifier
	Close() error
}

// Noop discards notifications.
type Noop struct{}

func (Noop) BuildFinished(context.Context, queue.Job, *build.Result) {}
func (Noop) Close() error                                            { return nil }

// publisher is the subset of *nats.Conn used for publishing.
type publisher interface {
	Publish(subject string, data []byte) error
}

// NATSNotifier publishes notifications to a NATS subject. Failed publishes are
// retried briefly, then logged; they never affect the build.
type NATSNotifier struct {
	pub     publisher
	conn    *nats.Conn
	subject string
	policy  retry.Policy
	logger  *slog.Logger
}

// New returns a NATS notifier when cfg names a server, and Noop otherwise.
func New(cfg config.NotifyConfig, logger *slog.Logger) (Notifier, error) {
	if cfg.NATSURL == "" {
		return Noop{}, nil
	}
	if logger == nil {
		logger = slog.Default()
	}

	conn, err := nats.Connect(cfg.NATSURL,
		nats.Name("texbuilder"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("NATS disconnected", logfields.Error(err))
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			logger.Info("NATS reconnected", logfields.URL(c.ConnectedUrlRedacted()))
		}),
	)
	if err != nil {
		return nil, errors.WrapError(err, errors.CategoryRuntime, "failed to connect to NATS").
			WithContext("url", cfg.NATSURL).
			Build()
	}

	logger.Info("NATS notifier initialized", logfields.URL(cfg.NATSURL), slog.String("subject", cfg.Subject))
	n := newNATSNotifier(conn, cfg.Subject, logger)
	n.conn = conn
	return n, nil
}

func newNATSNotifier(pub publisher, subject string, logger *slog.Logger) *NATSNotifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &NATSNotifier{pub: pub, subject: subject, policy: retry.DefaultPolicy(), logger: logger}
}

// BuildFinished implements queue.Notifier.
func (n *NATSNotifier) BuildFinished(ctx context.Context, job queue.Job, result *build.Result) {
	data, err := json.Marshal(NewBuildNotification(job, result))
	if err != nil {
		n.logger.Warn("Failed to marshal build notification", logfields.BuildID(job.ID), logfields.Error(err))
		return
	}
	err = n.policy.Do(ctx, func(attempt int) error {
		if attempt > 0 {
			n.logger.Debug("Retrying build notification", logfields.BuildID(job.ID), slog.Int("attempt", attempt))
		}
		return n.pub.Publish(n.subject, data)
	})
	if err != nil {
		n.logger.Warn("Failed to publish build notification",
			logfields.BuildID(job.ID),
			slog.String("subject", n.subject),
			logfields.Error(err))
		return
	}
	n.logger.Debug("Published build notification", logfields.BuildID(job.ID), logfields.JobStatus(string(job.Status)))
}

// Close drains and closes the NATS connection.
func (n *NATSNotifier) Close() error {
	if n.conn == nil {
		return nil
	}
	return n.conn.Drain()
}
