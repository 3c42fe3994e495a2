package realtime

import (
	"context"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"emergency-portal-backend/internal/model"
)

// Publisher emits membership events on the channel of their organization.
type Publisher struct {
	broker   Broker
	failures prometheus.Counter
}

// NewPublisher creates a publisher on top of broker. promRegistry may be nil.
func NewPublisher(broker Broker, promRegistry prometheus.Registerer) *Publisher {
	p := &Publisher{broker: broker}
	if promRegistry != nil {
		p.failures = promauto.With(promRegistry).NewCounter(prometheus.CounterOpts{
			Name: "portal_realtime_publish_failures_total",
			Help: "Membership events that could not be published",
		})
	}
	return p
}

// Publish sends evt on ChannelName(evt.OrganizationID).
func (p *Publisher) Publish(ctx context.Context, evt Event) error {
	return p.broker.Publish(ctx, ChannelName(evt.OrganizationID), evt)
}

// PublishBestEffort publishes evt and only logs a failure. Use it after a
// membership change has committed: the change stands even if nobody hears about it.
func (p *Publisher) PublishBestEffort(ctx context.Context, evt Event) {
	if err := p.Publish(ctx, evt); err != nil {
		if p.failures != nil {
			p.failures.Inc()
		}
		slog.Warn("failed to publish membership event",
			"organization_id", evt.OrganizationID,
			"type", evt.Type,
			"error", err)
	}
}

func (p *Publisher) MemberJoined(ctx context.Context, member model.OrganizationMember) {
	p.PublishBestEffort(ctx, NewEvent(member.OrganizationID, MemberJoined{Member: member}))
}

func (p *Publisher) MemberLeft(ctx context.Context, organizationID, memberID string) {
	p.PublishBestEffort(ctx, NewEvent(organizationID, MemberLeft{MemberID: memberID}))
}

func (p *Publisher) RoleChanged(ctx context.Context, organizationID, memberID string, role model.Role) {
	p.PublishBestEffort(ctx, NewEvent(organizationID, RoleChanged{MemberID: memberID, NewRole: role}))
}
