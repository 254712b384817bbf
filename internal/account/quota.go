package account

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/shopspring/decimal"
)

// quotaPlaces is the precision quota amounts are persisted with.
const quotaPlaces = 2

// Quota is an optional decimal amount persisted as a string.
//
// It decodes from a JSON string or a JSON number; the remote schema has used
// both over time. Any other JSON value (null, bools, objects, arrays) decodes
// to an absent quota instead of failing the whole document.
type Quota struct {
	value string
	valid bool
}

// QuotaOf wraps s as a present quota.
func QuotaOf(s string) Quota {
	return Quota{value: s, valid: true}
}

// QuotaFromDecimal renders d with two decimal places.
func QuotaFromDecimal(d decimal.Decimal) Quota {
	return QuotaOf(d.StringFixed(quotaPlaces))
}

// Valid reports whether the quota is present.
func (q Quota) Valid() bool { return q.valid }

// IsZero reports absence; used by the omitzero JSON option.
func (q Quota) IsZero() bool { return !q.valid }

// String returns the stored text, or "" when absent.
func (q Quota) String() string { return q.value }

// Decimal parses the stored text.
func (q Quota) Decimal() (decimal.Decimal, error) {
	if !q.valid {
		return decimal.Zero, fmt.Errorf("quota not set")
	}
	return decimal.NewFromString(q.value)
}

func (q Quota) MarshalJSON() ([]byte, error) {
	if !q.valid {
		return []byte("null"), nil
	}
	return json.Marshal(q.value)
}

func (q *Quota) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	*q = Quota{}
	if len(b) == 0 {
		return nil
	}

	switch c := b[0]; {
	case c == '"':
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*q = QuotaOf(s)
	case c == '-' || (c >= '0' && c <= '9'):
		var n json.Number
		if err := json.Unmarshal(b, &n); err != nil {
			return err
		}
		*q = QuotaOf(n.String())
	default:
		// null, true/false, objects and arrays: treat as absent.
	}
	return nil
}

// Usage is the derived quota triple for one account.
type Usage struct {
	Used      Quota
	Remaining Quota
	Total     Quota
}

// DeriveUsage rounds consumed and free to two places and computes
// remaining = total - used from the rounded values, so the three persisted
// strings always add up.
func DeriveUsage(consumed, free decimal.Decimal) Usage {
	used := consumed.Round(quotaPlaces)
	total := free.Round(quotaPlaces)
	return Usage{
		Used:      QuotaFromDecimal(used),
		Remaining: QuotaFromDecimal(total.Sub(used)),
		Total:     QuotaFromDecimal(total),
	}
}

// Apply stores u on r.
func (u Usage) Apply(r *Record) {
	r.QuotaUsed = u.Used
	r.QuotaRemaining = u.Remaining
	r.QuotaTotal = u.Total
}
