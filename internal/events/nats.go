package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
)

type NATSConfig struct {
	URL            string
	Name           string
	ReconnectWait  time.Duration
	MaxReconnects  int
	ConnectTimeout time.Duration
}

func ConnectNATS(cfg NATSConfig, log *slog.Logger) (*nats.Conn, error) {
	if log == nil {
		log = slog.Default()
	}
	opts := []nats.Option{
		nats.Name(cfg.Name),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.Timeout(cfg.ConnectTimeout),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			log.Warn("nats disconnected", "error", err)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info("nats reconnected", "url", nc.ConnectedUrl())
		}),
	}
	conn, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}
	return conn, nil
}

// NATSPublisher forwards bus events to NATS subjects "<prefix>.<type>".
type NATSPublisher struct {
	conn   *nats.Conn
	prefix string
	log    *slog.Logger
}

func NewNATSPublisher(conn *nats.Conn, prefix string, log *slog.Logger) *NATSPublisher {
	if log == nil {
		log = slog.Default()
	}
	return &NATSPublisher{conn: conn, prefix: prefix, log: log}
}

func (p *NATSPublisher) Subject(t Type) string {
	return p.prefix + "." + string(t)
}

// Publish never fails the caller; the ledger mutation has already committed.
func (p *NATSPublisher) Publish(_ context.Context, e Event) {
	payload, err := json.Marshal(e)
	if err != nil {
		p.log.Error("marshal event", "type", e.Type, "error", err)
		return
	}
	if err := p.conn.Publish(p.Subject(e.Type), payload); err != nil {
		p.log.Warn("nats publish failed", "type", e.Type, "user_id", e.UserID, "error", err)
	}
}
