package models

// Plan is a named subscription tier determining the weekly submission ceiling.
type Plan string

const (
	PlanFree   Plan = "free"
	PlanPro    Plan = "pro"
	PlanStudio Plan = "studio"
)

// ParsePlan maps a plan name from a request header to a Plan.
// Unknown names fall back to the free tier.
func ParsePlan(s string) Plan {
	switch Plan(s) {
	case PlanPro:
		return PlanPro
	case PlanStudio:
		return PlanStudio
	default:
		return PlanFree
	}
}

// WeeklyLimit returns the weekly submission ceiling for the plan and whether
// that ceiling is finite. Studio has no ceiling.
func (p Plan) WeeklyLimit() (limit int, finite bool) {
	switch p {
	case PlanPro:
		return 15, true
	case PlanStudio:
		return 0, false
	default:
		return 3, true
	}
}

// QuotaScope is an independent axis along which submission counts are tracked.
type QuotaScope string

const (
	ScopeUser     QuotaScope = "user"
	ScopeDevice   QuotaScope = "device"
	ScopeIPHourly QuotaScope = "ip-hourly"
)

// Machine-readable quota rejection reasons.
const (
	QuotaReasonIPRateLimit = "ip-rate-limit"
	QuotaReasonWeeklyLimit = "weekly-limit"
)

// QuotaSnapshot is a derived, point-in-time view of a caller's quota standing.
// Used is max(user count, device count) for the current week; Remaining is
// clamped at zero and meaningless when Unlimited.
type QuotaSnapshot struct {
	Plan        Plan `json:"plan"`
	Limit       int  `json:"limit"`
	Unlimited   bool `json:"unlimited"`
	Used        int  `json:"used"`
	Remaining   int  `json:"remaining"`
	UserCount   int  `json:"user_count"`
	DeviceCount int  `json:"device_count"`
	IPHourCount int  `json:"ip_hour_count"`
}
