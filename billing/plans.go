package billing

// PlanLimits defines the resource limits for a plan tier.
type PlanLimits struct {
	MonthlyTokens int64 // token budget per billing month
}

// Plans maps plan names to their limits. The token budget is the only
// enforced limit; everything else a plan unlocks lives in the billing
// provider, not here.
var Plans = map[string]PlanLimits{
	"free":    {MonthlyTokens: 10_000},
	"pro":     {MonthlyTokens: 100_000},
	"premium": {MonthlyTokens: 500_000},
}

// GetLimits returns the limits for a plan. Unknown plans fall back to free:
// quota enforcement must fail toward the smaller budget.
func GetLimits(plan string) PlanLimits {
	if l, ok := Plans[plan]; ok {
		return l
	}
	return Plans["free"]
}
