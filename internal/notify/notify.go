// Package notify delivers one-time codes through out-of-band channels.
// Delivery is best-effort: retries belong to the provider integration, not to
// the authentication path.
package notify

import (
	"context"
	"sync"
	"time"

	"scholarbridge.org/internal/obs"
)

const (
	ChannelSMS   = "sms"
	ChannelEmail = "email"
)

// OTP is a one-time code handed to a delivery provider.
type OTP struct {
	AccountID string
	Channel   string
	Recipient string
	Code      string
	TTL       time.Duration
}

// Sender integrates a concrete SMS or email provider.
type Sender interface {
	SendOTP(ctx context.Context, otp OTP) error
}

// Dispatcher sends OTPs asynchronously so a slow provider can never block the
// authentication request path. Each dispatch runs under its own bounded
// deadline.
type Dispatcher struct {
	sender  Sender
	timeout time.Duration
	wg      sync.WaitGroup
}

// NewDispatcher wraps a Sender with asynchronous, deadline-bound dispatch.
func NewDispatcher(sender Sender, timeout time.Duration) *Dispatcher {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Dispatcher{sender: sender, timeout: timeout}
}

// Dispatch fires the delivery on a background goroutine and returns
// immediately. Failures are logged, never surfaced to the caller: the reset
// flow's response shape must not depend on delivery outcome.
func (d *Dispatcher) Dispatch(otp OTP) {
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
		defer cancel()
		if err := d.sender.SendOTP(ctx, otp); err != nil {
			obs.LogJSON("error", "otp_delivery_failed", map[string]any{
				"account_id": otp.AccountID,
				"channel":    otp.Channel,
				"error":      err.Error(),
			})
		}
	}()
}

// Close waits for in-flight deliveries. Used on shutdown.
func (d *Dispatcher) Close() {
	d.wg.Wait()
}

// LogSender is the development Sender: it records that a code was issued
// without printing the code itself.
type LogSender struct{}

func (LogSender) SendOTP(ctx context.Context, otp OTP) error {
	obs.LogJSON("info", "otp_issued", map[string]any{
		"account_id": otp.AccountID,
		"channel":    otp.Channel,
		"recipient":  mask(otp.Recipient),
		"ttl":        otp.TTL.String(),
	})
	return nil
}

func mask(s string) string {
	if len(s) <= 4 {
		return "****"
	}
	return "****" + s[len(s)-4:]
}
