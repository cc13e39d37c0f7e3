package router

// aggregatorGasMultiplier scales the simulated gas limit for calldata
// produced by a given aggregator. Routers with deep callpaths under-report
// on estimateGas, so their encodings carry a larger pad.
var aggregatorGasMultiplier = map[string]float64{
	"1inch":      1.0,
	"paraswap":   1.1,
	"uniswap-v3": 1.2,
}

// GasLimitMultiplier returns the limit multiplier for an aggregator,
// defaulting to 1.0 for unknown or absent aggregators.
func GasLimitMultiplier(aggregator string) float64 {
	if m, ok := aggregatorGasMultiplier[aggregator]; ok {
		return m
	}
	return 1.0
}

// defaultSlippagePct is the bound applied when a signal names none.
const defaultSlippagePct = 0.5

// maxSlippagePct caps any widened retry.
const maxSlippagePct = 5.0

// SlippageFor returns the effective slippage bound. A widened retry
// doubles the bound once, capped.
func SlippageFor(requested float64, widened bool) float64 {
	pct := requested
	if pct <= 0 {
		pct = defaultSlippagePct
	}
	if widened {
		pct *= 2
	}
	if pct > maxSlippagePct {
		pct = maxSlippagePct
	}
	return pct
}
