package security

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/iamakashsinghrajput/BookHaven/internal/util"
	"github.com/redis/go-redis/v9"
)

// Audit event names.
const (
	EventLogin        = "auth.login"
	EventRegister     = "auth.register"
	EventVerifyEmail  = "auth.verify_email"
	EventDeleteVerify = "paper.delete_verify"
	EventAdminAccess  = "admin.authorize"

	OutcomeFail        = "fail"
	OutcomeRateLimited = "rate_limited"
)

var alertCounterScript = redis.NewScript(`
local count = redis.call("INCR", KEYS[1])
if count == 1 then
  redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
return count
`)

// AlertResult contains alert evaluation output.
type AlertResult struct {
	Triggered bool
	Count     int64
	Threshold int64
	Window    time.Duration
}

// AuditAlerter counts failed security events per client IP and reports
// when a rule's threshold is crossed within its window.
type AuditAlerter struct {
	client redis.UniversalClient
	prefix string
}

// NewAuditAlerter returns nil when client is nil; a nil alerter is a no-op.
func NewAuditAlerter(client redis.UniversalClient, prefix string) *AuditAlerter {
	if client == nil {
		return nil
	}
	prefix = strings.TrimSpace(prefix)
	if prefix == "" {
		prefix = "bookhaven:alerts"
	}
	return &AuditAlerter{client: client, prefix: prefix}
}

// Observe records one event and evaluates its rule.
func (a *AuditAlerter) Observe(ctx context.Context, event, outcome, ip string) (AlertResult, error) {
	var result AlertResult
	if a == nil {
		return result, nil
	}
	threshold, window, ok := alertRule(event, outcome)
	if !ok {
		return result, nil
	}
	windowMs := window.Milliseconds()
	slot := time.Now().UTC().UnixMilli() / windowMs
	key := fmt.Sprintf("%s:%s:%s:%s:%d", a.prefix, sanitizeSegment(event), sanitizeSegment(outcome), sanitizeSegment(ip), slot)
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	count, err := alertCounterScript.Run(ctx, a.client, []string{key}, windowMs).Int64()
	if err != nil {
		return result, err
	}
	result.Count = count
	result.Threshold = threshold
	result.Window = window
	result.Triggered = count >= threshold
	return result, nil
}

// Record observes an event and logs a warning once the threshold is hit.
// Counter failures are logged and otherwise ignored.
func (a *AuditAlerter) Record(ctx context.Context, event, outcome, ip string) {
	if a == nil {
		return
	}
	logger := util.LoggerFromContext(ctx)
	res, err := a.Observe(ctx, event, outcome, ip)
	if err != nil {
		logger.Warn("security_alert_counter_failed", "event", event, "err", err)
		return
	}
	if res.Count == res.Threshold && res.Triggered {
		logger.Warn("security_alert",
			"event", event,
			"outcome", outcome,
			"client_ip", ip,
			"count", res.Count,
			"window", res.Window.String(),
		)
	}
}

func alertRule(event, outcome string) (threshold int64, window time.Duration, ok bool) {
	event = strings.TrimSpace(event)
	switch strings.TrimSpace(outcome) {
	case OutcomeRateLimited:
		return 20, time.Minute, true
	case OutcomeFail:
	default:
		return 0, 0, false
	}
	switch event {
	case EventLogin, EventRegister:
		return 10, 5 * time.Minute, true
	case EventDeleteVerify, EventVerifyEmail:
		return 8, 10 * time.Minute, true
	case EventAdminAccess:
		return 25, 5 * time.Minute, true
	default:
		return 0, 0, false
	}
}

func sanitizeSegment(in string) string {
	in = strings.TrimSpace(in)
	if in == "" {
		return "unknown"
	}
	return strings.NewReplacer(":", "_", "|", "_", " ", "_").Replace(in)
}
