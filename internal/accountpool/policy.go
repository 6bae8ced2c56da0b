package accountpool

// Strategy is the RotationPolicy variant described in data model §3.
type Strategy string

const (
	StrategyRoundRobin     Strategy = "ROUND_ROBIN"
	StrategyQuotaExhausted Strategy = "QUOTA_EXHAUSTED"
	StrategyRequestCount   Strategy = "REQUEST_COUNT"
)

// Policy parameterizes account selection. RequestCount is only meaningful
// under StrategyRequestCount.
type Policy struct {
	Strategy     Strategy
	RequestCount int
}
