package runtime

import (
	"time"

	"github.com/code-payments/tokenitis-server/pkg/config"
	"github.com/code-payments/tokenitis-server/pkg/config/env"
	"github.com/code-payments/tokenitis-server/pkg/config/memory"
	"github.com/code-payments/tokenitis-server/pkg/config/wrapper"
)

const (
	envConfigPrefix = "RUNTIME_"

	MaxInvokeDepthConfigEnvName = envConfigPrefix + "MAX_INVOKE_DEPTH"
	defaultMaxInvokeDepth       = 4

	MaxConflictRetriesConfigEnvName = envConfigPrefix + "MAX_CONFLICT_RETRIES"
	defaultMaxConflictRetries       = 3

	ConflictBackoffConfigEnvName = envConfigPrefix + "CONFLICT_BACKOFF"
	defaultConflictBackoff       = 25 * time.Millisecond

	// Transactions per second per fee payer. Zero disables the limit.
	FeePayerRateLimitConfigEnvName = envConfigPrefix + "FEE_PAYER_RATE_LIMIT"
	defaultFeePayerRateLimit       = 0
)

type conf struct {
	maxInvokeDepth     config.Uint64
	maxConflictRetries config.Uint64
	conflictBackoff    config.Duration
	feePayerRateLimit  config.Float64
}

// ConfigProvider defines how config values are pulled
type ConfigProvider func() *conf

// WithEnvConfigs returns configuration pulled from environment variables
func WithEnvConfigs() ConfigProvider {
	return func() *conf {
		return &conf{
			maxInvokeDepth:     env.NewUint64Config(MaxInvokeDepthConfigEnvName, defaultMaxInvokeDepth),
			maxConflictRetries: env.NewUint64Config(MaxConflictRetriesConfigEnvName, defaultMaxConflictRetries),
			conflictBackoff:    env.NewDurationConfig(ConflictBackoffConfigEnvName, defaultConflictBackoff),
			feePayerRateLimit:  env.NewFloat64Config(FeePayerRateLimitConfigEnvName, defaultFeePayerRateLimit),
		}
	}
}

type testOverrides struct {
	maxInvokeDepth     uint64
	maxConflictRetries uint64
	feePayerRateLimit  float64
}

func withManualTestOverrides(overrides *testOverrides) ConfigProvider {
	return func() *conf {
		maxInvokeDepth := overrides.maxInvokeDepth
		if maxInvokeDepth == 0 {
			maxInvokeDepth = defaultMaxInvokeDepth
		}

		return &conf{
			maxInvokeDepth:     wrapper.NewUint64Config(memory.NewConfig(maxInvokeDepth), defaultMaxInvokeDepth),
			maxConflictRetries: wrapper.NewUint64Config(memory.NewConfig(overrides.maxConflictRetries), defaultMaxConflictRetries),
			conflictBackoff:    wrapper.NewDurationConfig(memory.NewConfig(time.Millisecond), time.Millisecond),
			feePayerRateLimit:  wrapper.NewFloat64Config(memory.NewConfig(overrides.feePayerRateLimit), defaultFeePayerRateLimit),
		}
	}
}
