// Package push delivers notification events over Web Push when the
// target user has no live notification endpoint. It is the server-held
// delayed-delivery path; live connections never go through it.
package push

import (
	"encoding/json"
	"errors"
	"fmt"

	"parley/internal/models"

	webpush "github.com/SherClockHolmes/webpush-go"
)

// SubscriptionStore provides the persisted browser subscriptions.
type SubscriptionStore interface {
	GetPushSubscription(username string) ([]byte, error)
}

type Config struct {
	Subscriber      string
	VAPIDPublicKey  string
	VAPIDPrivateKey string
}

type Sender struct {
	store SubscriptionStore
	cfg   Config
}

// NewSender returns a sender, or nil when VAPID keys are not
// configured. A nil *Sender is a valid no-op sender.
func NewSender(store SubscriptionStore, cfg Config) *Sender {
	if cfg.VAPIDPublicKey == "" || cfg.VAPIDPrivateKey == "" {
		return nil
	}
	return &Sender{store: store, cfg: cfg}
}

func (s *Sender) Enabled() bool {
	return s != nil
}

// Send pushes the payload to the user's registered subscription.
// Users without a subscription are skipped silently.
func (s *Sender) Send(username string, payload []byte) error {
	if s == nil {
		return nil
	}

	data, err := s.store.GetPushSubscription(username)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return nil
		}
		return fmt.Errorf("failed to load push subscription: %w", err)
	}

	var sub webpush.Subscription
	if err := json.Unmarshal(data, &sub); err != nil {
		return fmt.Errorf("corrupt push subscription for %s: %w", username, err)
	}

	resp, err := webpush.SendNotification(payload, &sub, &webpush.Options{
		Subscriber:      s.cfg.Subscriber,
		VAPIDPublicKey:  s.cfg.VAPIDPublicKey,
		VAPIDPrivateKey: s.cfg.VAPIDPrivateKey,
		TTL:             3600,
	})
	if err != nil {
		return fmt.Errorf("failed to send push notification: %w", err)
	}
	return resp.Body.Close()
}
