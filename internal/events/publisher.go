// Package events publishes per-file ingestion outcome messages for
// downstream consumers. Publishing is optional and best effort; a failed
// publish never affects ingestion.
package events

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
)

// FileOutcome is the message emitted after each drop file is handled.
type FileOutcome struct {
	RunID      string    `json:"run_id"`
	Kind       string    `json:"kind"` // "alert" or "incident"
	File       string    `json:"file"`
	Created    int       `json:"created"`
	Updated    int       `json:"updated"`
	Duplicates int       `json:"duplicates"`
	Skipped    int       `json:"skipped"`
	Errors     int       `json:"errors"`
	Failed     bool      `json:"failed"`
	FinishedAt time.Time `json:"finished_at"`
}

// Publisher emits file outcomes.
type Publisher interface {
	FileHandled(outcome FileOutcome)
	Close()
}

// NopPublisher drops every outcome. Used when NATS is disabled.
type NopPublisher struct{}

func (NopPublisher) FileHandled(FileOutcome) {}
func (NopPublisher) Close()                  {}

// NATSPublisher publishes outcomes to <prefix>.files.processed or
// <prefix>.files.failed.
type NATSPublisher struct {
	conn   *nats.Conn
	prefix string
	log    *slog.Logger
}

func NewNATSPublisher(url, subjectPrefix string, log *slog.Logger) (*NATSPublisher, error) {
	conn, err := nats.Connect(url,
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}
	return &NATSPublisher{conn: conn, prefix: subjectPrefix, log: log}, nil
}

func (p *NATSPublisher) FileHandled(outcome FileOutcome) {
	subject := p.prefix + ".files.processed"
	if outcome.Failed {
		subject = p.prefix + ".files.failed"
	}

	data, err := json.Marshal(outcome)
	if err != nil {
		p.log.Error("failed to marshal file outcome", "file", outcome.File, "error", err)
		return
	}
	if err := p.conn.Publish(subject, data); err != nil {
		p.log.Error("failed to publish file outcome", "subject", subject, "error", err)
	}
}

func (p *NATSPublisher) Close() {
	if err := p.conn.Drain(); err != nil {
		p.conn.Close()
	}
}
