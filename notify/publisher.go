package notify

import (
	"encoding/json"
	"fmt"

	"github.com/nats-io/nats.go"

	"voldash/config"
	"voldash/logger"
)

// Publisher pushes freshly derived snapshots onto NATS so downstream consumers
// (alerting, recording) see them without polling the HTTP surface. Publishing
// is best effort: a failed publish is logged, never surfaced to the request.
type Publisher struct {
	conn   *nats.Conn
	prefix string
	log    *logger.Logger
}

func NewPublisher(cfg *config.NATSConfig) (*Publisher, error) {
	conn, err := nats.Connect(cfg.URL,
		nats.MaxReconnects(-1),
		nats.RetryOnFailedConnect(true),
	)
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}

	return &Publisher{
		conn:   conn,
		prefix: cfg.SubjectPrefix,
		log:    logger.L(),
	}, nil
}

// Publish sends one snapshot under <prefix>.<kind>.<symbol>.
func (p *Publisher) Publish(kind, symbol string, snapshot interface{}) {
	payload, err := json.Marshal(snapshot)
	if err != nil {
		p.log.Error("Failed to encode snapshot for publish", map[string]interface{}{
			"kind":   kind,
			"symbol": symbol,
			"error":  err.Error(),
		})
		return
	}

	subject := fmt.Sprintf("%s.%s.%s", p.prefix, kind, symbol)
	if err := p.conn.Publish(subject, payload); err != nil {
		p.log.Error("Failed to publish snapshot", map[string]interface{}{
			"subject": subject,
			"error":   err.Error(),
		})
	}
}

func (p *Publisher) Close() {
	p.conn.Drain()
}
