package lifecycle

import (
	"time"

	"restaurant-ops/internal/domain/models"
	"restaurant-ops/internal/xpkg/config"
)

const DefaultLateThreshold = 30 * time.Minute

// Thresholds resolves how long an order may stay in a status before it is late.
// A channel override wins over a status override, which wins over Default.
type Thresholds struct {
	Default   time.Duration
	ByChannel map[models.Channel]time.Duration
	ByStatus  map[models.OrderStatus]time.Duration
}

func ThresholdsFromConfig(cfg *config.Escalation) Thresholds {
	t := Thresholds{
		Default:   cfg.Threshold,
		ByChannel: make(map[models.Channel]time.Duration, len(cfg.ChannelThresholds)),
		ByStatus:  make(map[models.OrderStatus]time.Duration, len(cfg.StatusThresholds)),
	}
	if t.Default <= 0 {
		t.Default = DefaultLateThreshold
	}
	for k, v := range cfg.ChannelThresholds {
		t.ByChannel[models.Channel(k)] = v
	}
	for k, v := range cfg.StatusThresholds {
		t.ByStatus[models.OrderStatus(k)] = v
	}
	return t
}

func (t Thresholds) For(status models.OrderStatus, channel models.Channel) time.Duration {
	if d, ok := t.ByChannel[channel]; ok && d > 0 {
		return d
	}
	if d, ok := t.ByStatus[status]; ok && d > 0 {
		return d
	}
	if t.Default > 0 {
		return t.Default
	}
	return DefaultLateThreshold
}

// Monitored reports whether orders in status can become late.
func Monitored(status models.OrderStatus) bool {
	return status == models.StatusConfirmed || status == models.StatusPreparing
}

// IsLate is a pure function of the order's timestamps and now.
func IsLate(o models.Order, now time.Time, t Thresholds) bool {
	if !Monitored(o.Status) {
		return false
	}
	return now.Sub(o.StatusEnteredAt) > t.For(o.Status, o.Channel)
}

func LateOrders(orders []models.Order, now time.Time, t Thresholds) []models.Order {
	var late []models.Order
	for _, o := range orders {
		if IsLate(o, now, t) {
			late = append(late, o)
		}
	}
	return late
}
