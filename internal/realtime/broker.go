package realtime

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

const channelPrefix = "organization:"

var (
	// ErrChannelMismatch is returned when an event is published on a channel
	// that does not belong to its organization.
	ErrChannelMismatch = errors.New("event organization does not match channel")
	// ErrClosed is returned by a broker after Close.
	ErrClosed = errors.New("broker closed")
)

// Handler receives events delivered on a channel. Handlers of one
// subscription are called sequentially, never concurrently.
type Handler func(Event)

// Broker is an ephemeral publish/subscribe transport. Events reach only the
// subscribers present at publish time; nothing is stored or replayed.
type Broker interface {
	Publish(ctx context.Context, channel string, evt Event) error
	// Subscribe registers handler on channel until ctx is done or the returned
	// unsubscribe function is called. Once unsubscribe returns the handler is
	// never invoked again. Calling unsubscribe from inside the handler deadlocks.
	Subscribe(ctx context.Context, channel string, handler Handler) (unsubscribe func(), err error)
	Close() error
}

// ChannelName is the channel carrying events of an organization.
func ChannelName(organizationID string) string {
	return channelPrefix + organizationID
}

// OrganizationFromChannel reverses ChannelName.
func OrganizationFromChannel(channel string) (string, bool) {
	org, ok := strings.CutPrefix(channel, channelPrefix)
	return org, ok && org != ""
}

func checkChannel(channel string, evt Event) error {
	if err := evt.Validate(); err != nil {
		return err
	}
	if ChannelName(evt.OrganizationID) != channel {
		return fmt.Errorf("%w: %s on %s", ErrChannelMismatch, evt.OrganizationID, channel)
	}
	return nil
}
