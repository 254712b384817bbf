// Package account defines the persisted account record and the rules for
// deriving its quota and subscription fields from a remote profile.
package account

import (
	"time"
)

// Status values written by this tool. Records may carry any other string.
const (
	StatusActive  = "active"
	StatusExpired = "expired"
)

// Record is one managed service account.
//
// Every field except ID, Email and Password was added after the first
// release, so all of them decode to their zero value when absent.
type Record struct {
	ID       string `json:"id"`
	Email    string `json:"email"`
	Password string `json:"password"` // empty for token-only imports
	Token    string `json:"token,omitempty"`
	Status   string `json:"status,omitempty"`

	QuotaRemaining Quota `json:"quota_remaining,omitzero"`
	QuotaUsed      Quota `json:"quota_used,omitzero"`
	QuotaTotal     Quota `json:"quota_total,omitzero"`

	SubscriptionType string `json:"subscription_type,omitempty"`
	TrialDays        *int   `json:"trial_days,omitempty"`
	CurrentPeriodEnd *int64 `json:"current_period_end,omitempty"` // Unix seconds
	AutoRenew        *bool  `json:"auto_renew,omitempty"`

	// RFC3339 timestamps. Kept as strings so that legacy values with other
	// offsets or an empty string survive a load/save cycle untouched.
	ExpireTime      string `json:"expire_time,omitempty"`
	TokenExpireTime string `json:"token_expire_time,omitempty"`
	RegisterTime    string `json:"register_time,omitempty"`
	LastUpdated     string `json:"last_updated,omitempty"`
}

// Collection is the whole persisted document.
type Collection struct {
	Accounts []Record `json:"accounts"`
	LastSync string   `json:"last_sync"`
}

// NewCollection returns an empty collection stamped with now.
func NewCollection(now time.Time) *Collection {
	return &Collection{
		Accounts: []Record{},
		LastSync: Timestamp(now),
	}
}

// Index returns the position of the first record with id, or -1.
func (c *Collection) Index(id string) int {
	for i := range c.Accounts {
		if c.Accounts[i].ID == id {
			return i
		}
	}
	return -1
}

// IndexByEmail returns the position of the first record with email, or -1.
func (c *Collection) IndexByEmail(email string) int {
	for i := range c.Accounts {
		if c.Accounts[i].Email == email {
			return i
		}
	}
	return -1
}

// Timestamp formats t the way every timestamp field is stored.
func Timestamp(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

// Touch stamps LastUpdated.
func (r *Record) Touch(now time.Time) {
	r.LastUpdated = Timestamp(now)
}

// SetToken replaces the bearer token and keeps TokenExpireTime consistent with it.
func (r *Record) SetToken(token string, expiry func(string) (string, bool)) {
	r.Token = token
	r.TokenExpireTime = ""
	if token == "" {
		return
	}
	if exp, ok := expiry(token); ok {
		r.TokenExpireTime = exp
	}
}

// RefreshStatus derives Status from ExpireTime. Unknown or unparseable expiry
// leaves Status as it is.
func (r *Record) RefreshStatus(now time.Time) {
	if r.ExpireTime == "" {
		return
	}
	exp, err := time.Parse(time.RFC3339, r.ExpireTime)
	if err != nil {
		return
	}
	if exp.After(now) {
		r.Status = StatusActive
	} else {
		r.Status = StatusExpired
	}
}
