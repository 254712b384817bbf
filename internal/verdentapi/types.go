package verdentapi

import (
	"github.com/shopspring/decimal"
)

// envelope is the wrapper every passport and user-center response uses.
type envelope[T any] struct {
	ErrCode int    `json:"errCode"`
	ErrMsg  string `json:"errMsg"`
	Data    *T     `json:"data"`
}

type authCodeData struct {
	Code string `json:"code"`
}

type tokenData struct {
	Token string `json:"token"`
}

// TokenInfo carries consumed and free quota. Amounts decode from JSON numbers
// or numeric strings without passing through float64.
type TokenInfo struct {
	TokenConsumed *decimal.Decimal `json:"tokenConsumed,omitempty"`
	TokenFree     *decimal.Decimal `json:"tokenFree,omitempty"`
}

// SubscriptionInfo describes the current billing cycle.
type SubscriptionInfo struct {
	PlanName         string `json:"planName,omitempty"`
	LevelName        string `json:"levelName,omitempty"`
	CurrentPeriodEnd *int64 `json:"currentPeriodEnd,omitempty"` // Unix seconds
	AutoRenew        *bool  `json:"autoRenew,omitempty"`
}

// Profile is the user-center view of an account.
type Profile struct {
	Email            string            `json:"email,omitempty"`
	TokenInfo        *TokenInfo        `json:"tokenInfo,omitempty"`
	SubscriptionInfo *SubscriptionInfo `json:"subscriptionInfo,omitempty"`
	SubscriptionType string            `json:"subscriptionType,omitempty"`
	TrialDays        *int              `json:"trialDays,omitempty"`
	ExpireTime       string            `json:"expireTime,omitempty"`
}

// Consumed returns the consumed quota, zero when the service omitted it.
func (p *Profile) Consumed() decimal.Decimal {
	if p.TokenInfo == nil || p.TokenInfo.TokenConsumed == nil {
		return decimal.Zero
	}
	return *p.TokenInfo.TokenConsumed
}

// Free returns the total free quota, zero when the service omitted it.
func (p *Profile) Free() decimal.Decimal {
	if p.TokenInfo == nil || p.TokenInfo.TokenFree == nil {
		return decimal.Zero
	}
	return *p.TokenInfo.TokenFree
}

// PlanLabel resolves the subscription label: plan name, then level name,
// then the top-level subscription type. Empty means unknown.
func (p *Profile) PlanLabel() string {
	if si := p.SubscriptionInfo; si != nil {
		if si.PlanName != "" {
			return si.PlanName
		}
		if si.LevelName != "" {
			return si.LevelName
		}
	}
	return p.SubscriptionType
}

// LoginResult is the payload of a successful credential login.
type LoginResult struct {
	Token                 string `json:"token"`
	ExpireTime            *int64 `json:"expireTime,omitempty"` // Unix seconds
	AccessToken           string `json:"accessToken,omitempty"`
	RefreshToken          string `json:"refreshToken,omitempty"`
	AccessTokenExpiresAt  *int64 `json:"accessTokenExpiresAt,omitempty"`
	RefreshTokenExpiresAt *int64 `json:"refreshTokenExpiresAt,omitempty"`
	NeedBindInviteCode    *bool  `json:"needBindInviteCode,omitempty"`
}
