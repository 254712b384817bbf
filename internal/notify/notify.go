// Package notify raises desktop alerts when an account's quota runs low or
// is replenished.
package notify

import (
	"fmt"
	"sync"

	"github.com/gen2brain/beeep"
	"github.com/shopspring/decimal"

	"github.com/florianilch/acctkeeper/internal/account"
)

var (
	lowPercent   = decimal.NewFromInt(5)
	resetPercent = decimal.NewFromInt(20)
	hundred      = decimal.NewFromInt(100)
)

// Alert is one notification about an account.
type Alert struct {
	Email string
	Title string
	Body  string
}

// Tracker remembers the last seen quota per account and reports threshold
// crossings between observations. The first observation of an account never
// alerts.
type Tracker struct {
	mu       sync.Mutex
	previous map[string]usage
}

type usage struct {
	remaining decimal.Decimal
	total     decimal.Decimal
}

// NewTracker creates an empty Tracker.
func NewTracker() *Tracker {
	return &Tracker{previous: map[string]usage{}}
}

// Observe records the quotas in records and returns the alerts they trigger.
func (t *Tracker) Observe(records []account.Record) []Alert {
	t.mu.Lock()
	defer t.mu.Unlock()

	var alerts []Alert
	for _, r := range records {
		cur, ok := usageOf(r)
		if !ok {
			continue
		}
		prev, seen := t.previous[r.ID]
		t.previous[r.ID] = cur
		if !seen || cur.total.IsZero() {
			continue
		}

		curPct := cur.remaining.Div(cur.total).Mul(hundred)
		prevPct := decimal.Zero
		if !prev.total.IsZero() {
			prevPct = prev.remaining.Div(prev.total).Mul(hundred)
		}

		// Only the downward crossing alerts.
		if curPct.LessThan(lowPercent) && prevPct.GreaterThanOrEqual(lowPercent) {
			alerts = append(alerts, Alert{
				Email: r.Email,
				Title: fmt.Sprintf("Low quota: %s", r.Email),
				Body:  fmt.Sprintf("Remaining quota is below 5%% (%s of %s)", r.QuotaRemaining, r.QuotaTotal),
			})
		}

		gain := cur.remaining.Sub(prev.remaining)
		if gain.IsPositive() && gain.Div(cur.total).Mul(hundred).GreaterThan(resetPercent) {
			alerts = append(alerts, Alert{
				Email: r.Email,
				Title: fmt.Sprintf("Quota reset: %s", r.Email),
				Body:  "Your quota has been refreshed.",
			})
		}
	}
	return alerts
}

func usageOf(r account.Record) (usage, bool) {
	remaining, err := r.QuotaRemaining.Decimal()
	if err != nil {
		return usage{}, false
	}
	total, err := r.QuotaTotal.Decimal()
	if err != nil {
		return usage{}, false
	}
	return usage{remaining: remaining, total: total}, true
}

// Desktop shows a as a desktop notification.
func Desktop(a Alert) error {
	return beeep.Notify(a.Title, a.Body, "")
}
