package executor

import "github.com/ethereum/go-ethereum/metrics"

var (
	submittedMeter = metrics.NewRegisteredCounter("executor/submitted", nil)
	confirmedMeter = metrics.NewRegisteredCounter("executor/confirmed", nil)
	failedMeter    = metrics.NewRegisteredCounter("executor/failed", nil)
	rejectedMeter  = metrics.NewRegisteredCounter("executor/rejected", nil)
	deferredMeter  = metrics.NewRegisteredCounter("executor/gas_deferred", nil)
	retriedMeter   = metrics.NewRegisteredCounter("executor/retried", nil)

	stepTimer = metrics.NewRegisteredTimer("executor/step_duration", nil)
)
