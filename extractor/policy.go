package extractor

// Policy holds the request limits per requester class.
type Policy struct {
	GuestDailyLimit  int
	GuestMaxDuration float64 // seconds
	UserDailyLimit   int
	TierLimits       map[string]int // 0 means unlimited
}

func DefaultPolicy() Policy {
	return Policy{
		GuestDailyLimit:  3,
		GuestMaxDuration: 600,
		UserDailyLimit:   50,
		TierLimits: map[string]int{
			"pro": 0,
		},
	}
}

// LimitFor is the daily limit of one authenticated tier.
func (p Policy) LimitFor(tier string) int {
	if limit, ok := p.TierLimits[tier]; ok {
		return limit
	}

	return p.UserDailyLimit
}
