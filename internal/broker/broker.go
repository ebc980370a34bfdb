// Package broker publishes pattern lifecycle events to NATS.
//
// Events are JSON-encoded PatternEvent values on the subjects
//
//	{prefix}.{user_id}.discovered
//	{prefix}.{user_id}.archived
//
// so consumers can subscribe per user or to "{prefix}.*.archived" across
// users.
package broker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/patternd/internal/detection"
	"github.com/fyrsmithlabs/patternd/internal/lifecycle"
	"github.com/fyrsmithlabs/patternd/internal/sanitize"
)

// DefaultSubjectPrefix is used when no prefix is configured.
const DefaultSubjectPrefix = "patterns"

// Event kinds, used as the last subject token.
const (
	KindDiscovered = "discovered"
	KindArchived   = "archived"
)

// PatternEvent is the payload of a lifecycle event.
type PatternEvent struct {
	Kind              string                `json:"kind"`
	PatternID         string                `json:"pattern_id"`
	UserID            string                `json:"user_id"`
	Type              detection.PatternType `json:"pattern_type"`
	RuleKey           string                `json:"rule_key"`
	Confidence        float64               `json:"confidence"`
	ImpactScore       float64               `json:"impact_score"`
	ActionableInsight string                `json:"actionable_insight"`
	Status            lifecycle.Status      `json:"status"`
	OccurredAt        time.Time             `json:"occurred_at"`
}

// NewPatternEvent builds the payload for p.
func NewPatternEvent(kind string, p *lifecycle.DiscoveredPattern, at time.Time) PatternEvent {
	return PatternEvent{
		Kind:              kind,
		PatternID:         p.ID,
		UserID:            p.UserID,
		Type:              p.Type,
		RuleKey:           p.RuleKey,
		Confidence:        p.Confidence,
		ImpactScore:       p.ImpactScore,
		ActionableInsight: p.ActionableInsight,
		Status:            p.Status,
		OccurredAt:        at,
	}
}

// NATSPublisher implements lifecycle.Publisher on a NATS connection.
type NATSPublisher struct {
	nc     *nats.Conn
	prefix string
	logger *zap.Logger
	now    func() time.Time
}

var _ lifecycle.Publisher = (*NATSPublisher)(nil)

// NewNATSPublisher creates a publisher. An empty prefix means
// DefaultSubjectPrefix.
func NewNATSPublisher(nc *nats.Conn, prefix string, logger *zap.Logger) (*NATSPublisher, error) {
	if nc == nil {
		return nil, errors.New("nats connection cannot be nil")
	}
	if prefix == "" {
		prefix = DefaultSubjectPrefix
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &NATSPublisher{nc: nc, prefix: prefix, logger: logger, now: time.Now}, nil
}

// Connect dials url with reconnects enabled. extra options such as
// nats.Token are applied last.
func Connect(url string, logger *zap.Logger, extra ...nats.Option) (*nats.Conn, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	opts := []nats.Option{
		nats.Name("patternd"),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(5),
		nats.ReconnectWait(time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("nats disconnected", zap.Error(err))
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			logger.Info("nats reconnected", zap.String("url", c.ConnectedUrl()))
		}),
	}
	nc, err := nats.Connect(url, append(opts, extra...)...)
	if err != nil {
		return nil, fmt.Errorf("connect to nats at %s: %w", url, err)
	}
	return nc, nil
}

// Subject returns the subject for kind events of userID.
func (p *NATSPublisher) Subject(userID, kind string) string {
	return fmt.Sprintf("%s.%s.%s", p.prefix, sanitize.SubjectToken(userID), kind)
}

// PatternDiscovered implements lifecycle.Publisher.
func (p *NATSPublisher) PatternDiscovered(ctx context.Context, pattern *lifecycle.DiscoveredPattern) error {
	return p.publish(ctx, KindDiscovered, pattern)
}

// PatternArchived implements lifecycle.Publisher.
func (p *NATSPublisher) PatternArchived(ctx context.Context, pattern *lifecycle.DiscoveredPattern) error {
	return p.publish(ctx, KindArchived, pattern)
}

func (p *NATSPublisher) publish(ctx context.Context, kind string, pattern *lifecycle.DiscoveredPattern) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := json.Marshal(NewPatternEvent(kind, pattern, p.now().UTC()))
	if err != nil {
		return fmt.Errorf("marshal %s event: %w", kind, err)
	}
	subject := p.Subject(pattern.UserID, kind)
	if err := p.nc.Publish(subject, data); err != nil {
		return fmt.Errorf("publish %s event: %w", kind, err)
	}
	p.logger.Debug("published pattern event",
		zap.String("subject", subject),
		zap.String("pattern_id", pattern.ID))
	return nil
}
