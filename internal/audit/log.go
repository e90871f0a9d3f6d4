// Package audit emits append-only security audit events as structured log
// lines. Lockouts, token reuse and OTP exhaustion are always recorded here
// with account/tenant/IP context even when the caller only sees a generic
// error message.
package audit

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"scholarbridge.org/internal/obs"
)

type ctxKey string

const (
	requestIDKey     ctxKey = "audit_request_id"
	clientIPKey      ctxKey = "audit_client_ip"
	institutionIDKey ctxKey = "audit_institution_id"
	accountIDKey     ctxKey = "audit_account_id"
)

// WithRequestID attaches the request identifier for subsequent audit events.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return withString(ctx, requestIDKey, requestID)
}

// WithClientIP attaches the caller's IP address.
func WithClientIP(ctx context.Context, ip string) context.Context {
	return withString(ctx, clientIPKey, ip)
}

// WithInstitution attaches the resolved tenant id.
func WithInstitution(ctx context.Context, institutionID string) context.Context {
	return withString(ctx, institutionIDKey, institutionID)
}

// WithAccount attaches the authenticated account id.
func WithAccount(ctx context.Context, accountID string) context.Context {
	return withString(ctx, accountIDKey, accountID)
}

func withString(ctx context.Context, key ctxKey, value string) context.Context {
	value = strings.TrimSpace(value)
	if value == "" {
		return ctx
	}
	return context.WithValue(ctx, key, value)
}

func fromContext(ctx context.Context, key ctxKey) string {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(key).(string); ok {
		return v
	}
	return ""
}

// LogEvent writes an audit entry enriched with whatever request context is
// available. It never fails the surrounding operation.
func LogEvent(ctx context.Context, event string, fields map[string]any) error {
	event = strings.TrimSpace(event)
	if event == "" {
		return errors.New("event name is required")
	}
	entry := map[string]any{
		"ts":    time.Now().UTC().Format(time.RFC3339Nano),
		"type":  "audit",
		"event": event,
	}
	if rid := fromContext(ctx, requestIDKey); rid != "" {
		entry["request_id"] = rid
	}
	if ip := fromContext(ctx, clientIPKey); ip != "" {
		entry["ip"] = ip
	}
	if inst := fromContext(ctx, institutionIDKey); inst != "" {
		entry["institution_id"] = inst
	}
	if acct := fromContext(ctx, accountIDKey); acct != "" {
		entry["account_id"] = acct
	}
	if len(fields) > 0 {
		copied := make(map[string]any, len(fields))
		for k, v := range fields {
			copied[k] = v
		}
		entry["fields"] = copied
	} else {
		entry["fields"] = map[string]any{}
	}

	data, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	obs.Logger().Println(string(data))
	return nil
}
