package account

import (
	"time"

	"github.com/florianilch/acctkeeper/internal/jwtclaims"
	"github.com/florianilch/acctkeeper/internal/verdentapi"
)

// ApplyProfile copies quota, subscription and expiry data from a fetched
// profile onto r. token is the bearer the profile was fetched with; it becomes
// the record's token.
func ApplyProfile(r *Record, p *verdentapi.Profile, token string, now time.Time) {
	DeriveUsage(p.Consumed(), p.Free()).Apply(r)

	r.SubscriptionType = p.PlanLabel()
	r.TrialDays = p.TrialDays
	r.CurrentPeriodEnd = nil
	r.AutoRenew = nil
	if si := p.SubscriptionInfo; si != nil {
		r.CurrentPeriodEnd = si.CurrentPeriodEnd
		r.AutoRenew = si.AutoRenew
	}

	r.ExpireTime = ""
	if r.CurrentPeriodEnd != nil {
		r.ExpireTime = Timestamp(time.Unix(*r.CurrentPeriodEnd, 0))
	}

	r.SetToken(token, jwtclaims.ExtractExpiry)
	r.RefreshStatus(now)
	r.Touch(now)
}
