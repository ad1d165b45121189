package runtime

import (
	"context"
	"time"

	"github.com/code-payments/tokenitis-server/pkg/metrics"
	"github.com/code-payments/tokenitis-server/pkg/solana"
)

const (
	metricsStructName = "runtime.Runtime"

	transactionProcessedEventName  = "TransactionProcessed"
	transactionDurationMetricName  = "Runtime/TransactionDuration"
	transactionConflictsMetricName = "Runtime/TransactionConflicts"
)

func recordTransactionProcessedEvent(ctx context.Context, invocationID string, instructions int, attempts uint, duration time.Duration, err error) {
	kvPairs := map[string]interface{}{
		"invocation":   invocationID,
		"instructions": instructions,
		"attempts":     attempts,
		"success":      err == nil,
	}

	if err != nil {
		kvPairs["error"] = err.Error()

		if ixnErr, ok := err.(*solana.InstructionError); ok {
			kvPairs["instruction_index"] = ixnErr.Index
			kvPairs["error_key"] = string(ixnErr.ErrorKey())
			if custom := ixnErr.CustomError(); custom != nil {
				kvPairs["custom_error"] = int(*custom)
			}
		}
	}

	metrics.RecordEvent(ctx, transactionProcessedEventName, kvPairs)
	metrics.RecordDuration(ctx, transactionDurationMetricName, duration)
	if attempts > 1 {
		metrics.RecordCount(ctx, transactionConflictsMetricName, uint64(attempts-1))
	}
}
