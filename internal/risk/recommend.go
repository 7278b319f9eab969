package risk

import "fmt"

// Advice is the recommendation derived from a risk score and a tolerance.
type Advice struct {
	Recommendation  string
	Actions         []string
	Adjustments     []string
	RebalanceNeeded bool
}

// Recommend compares score with tolerance. A gap larger than
// ToleranceMismatchLimit in either direction calls for a rebalance.
func Recommend(score, tolerance int) Advice {
	gap := score - tolerance

	switch {
	case gap > ToleranceMismatchLimit:
		return Advice{
			Recommendation: fmt.Sprintf(
				"Your portfolio is riskier than your tolerance: risk score %d against tolerance %d.", score, tolerance),
			Actions: []string{
				fmt.Sprintf("Rebalance to the risk level %d allocation", tolerance),
				"Trim the largest single-name positions",
			},
			Adjustments: []string{
				"Shift weight toward broad index xStocks such as SPYx and QQQx",
				"Reduce exposure to high-volatility names",
			},
			RebalanceNeeded: true,
		}
	case gap < -ToleranceMismatchLimit:
		return Advice{
			Recommendation: fmt.Sprintf(
				"Your portfolio is more conservative than your tolerance: risk score %d against tolerance %d.", score, tolerance),
			Actions: []string{
				fmt.Sprintf("Rebalance to the risk level %d allocation", tolerance),
				"Add growth names to capture more upside",
			},
			Adjustments: []string{
				"Reduce the weight of broad index xStocks",
				"Increase exposure to higher-beta names",
			},
			RebalanceNeeded: true,
		}
	default:
		return Advice{
			Recommendation: fmt.Sprintf(
				"Your portfolio matches your tolerance: risk score %d against tolerance %d.", score, tolerance),
			Actions: []string{"Keep the current allocation and review it periodically"},
		}
	}
}
