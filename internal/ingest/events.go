package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/ragd/internal/logging"
)

// DefaultSubjectPrefix is the first subject token of ingestion events.
const DefaultSubjectPrefix = "ingest"

// Event is the NATS message body. Session ids are not published.
type Event struct {
	DocumentID string    `json:"document_id"`
	Filename   string    `json:"filename"`
	Scope      string    `json:"scope"`
	Status     Status    `json:"status"`
	Chunks     int       `json:"chunk_count"`
	Accepted   int       `json:"accepted"`
	Error      string    `json:"error,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

// NATSPublisher publishes task transitions to
// <prefix>.<scope>.<document_id>.<status>.
type NATSPublisher struct {
	conn   *nats.Conn
	prefix string
}

var _ Publisher = (*NATSPublisher)(nil)

// NewNATSPublisher wraps an open connection.
func NewNATSPublisher(nc *nats.Conn, prefix string) *NATSPublisher {
	if prefix == "" {
		prefix = DefaultSubjectPrefix
	}
	return &NATSPublisher{conn: nc, prefix: prefix}
}

// Subject returns the subject a task transition is published on.
func (p *NATSPublisher) Subject(t Task) string {
	return fmt.Sprintf("%s.%s.%s.%s", p.prefix, t.Scope, t.DocumentID, t.Status)
}

// Publish sends one event.
func (p *NATSPublisher) Publish(_ context.Context, t Task) error {
	data, err := json.Marshal(Event{
		DocumentID: t.DocumentID,
		Filename:   t.Filename,
		Scope:      t.Scope,
		Status:     t.Status,
		Chunks:     t.Chunks,
		Accepted:   t.Accepted,
		Error:      t.Error,
		Timestamp:  t.UpdatedAt,
	})
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	if err := p.conn.Publish(p.Subject(t), data); err != nil {
		return fmt.Errorf("publish %s event: %w", t.Status, err)
	}
	return nil
}

// ConnectNATS dials url and keeps reconnecting in the background.
func ConnectNATS(url string, logger *logging.Logger) (*nats.Conn, error) {
	if logger == nil {
		logger = logging.Nop()
	}
	nc, err := nats.Connect(url,
		nats.Name("ragd"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn(context.Background(), "nats disconnected", zap.Error(err))
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			logger.Info(context.Background(), "nats reconnected", zap.String("url", c.ConnectedUrl()))
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connecting to nats at %s: %w", url, err)
	}
	return nc, nil
}
