package notification

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/SherClockHolmes/webpush-go"

	"emergency-portal-backend/config"
	"emergency-portal-backend/internal/model"
)

// NotificationSender defines the interface for sending a web push notification.
type NotificationSender interface {
	Send(ctx context.Context, payload []byte, sub *webpush.Subscription, options *webpush.Options) (*http.Response, error)
}

// WebPushSender is a real implementation of NotificationSender using the webpush library.
type WebPushSender struct{}

// Send sends a notification using the webpush library.
func (s *WebPushSender) Send(ctx context.Context, payload []byte, sub *webpush.Subscription, options *webpush.Options) (*http.Response, error) {
	return webpush.SendNotificationWithContext(ctx, payload, sub, options)
}

// NewWebPushOptions builds the VAPID options shared by every delivery.
func NewWebPushOptions(cfg config.PushConfig) *webpush.Options {
	timeout := time.Duration(cfg.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &webpush.Options{
		HTTPClient:      &http.Client{Timeout: timeout},
		Subscriber:      cfg.Subject,
		TTL:             cfg.TTL,
		Urgency:         webpush.UrgencyHigh,
		VAPIDPublicKey:  cfg.PublicKey,
		VAPIDPrivateKey: cfg.PrivateKey,
	}
}

// Outcome is the result of one delivery attempt.
type Outcome struct {
	Endpoint   string
	StatusCode int
	Err        error
}

// Delivered reports whether the push service accepted the message.
func (o Outcome) Delivered() bool {
	return o.Err == nil
}

// Expired reports whether the push service said the subscription no longer exists.
func (o Outcome) Expired() bool {
	return o.StatusCode == http.StatusNotFound || o.StatusCode == http.StatusGone
}

// deliver sends payload to a single subscription. Transport errors and
// non-2xx responses are both reported through Outcome.Err.
func deliver(ctx context.Context, sender NotificationSender, sub model.PushSubscription, payload []byte, options *webpush.Options) Outcome {
	wpSub := &webpush.Subscription{
		Endpoint: sub.Endpoint,
		Keys: webpush.Keys{
			P256dh: sub.P256DH,
			Auth:   sub.Auth,
		},
	}

	out := Outcome{Endpoint: sub.Endpoint}
	resp, err := sender.Send(ctx, payload, wpSub, options)
	if err != nil {
		out.Err = err
		return out
	}
	defer resp.Body.Close()

	out.StatusCode = resp.StatusCode
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		out.Err = fmt.Errorf("push service returned %d: %s", resp.StatusCode, string(detail))
	}
	return out
}
