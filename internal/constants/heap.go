package constants

import "time"

// Heap thresholds in bytes.
const (
	HeapLowFree         = 50000
	HeapLowBlock        = 30000
	HeapCriticalFree    = 40000
	HeapTransferAbort   = 30000
	HeapTransferWarning = 50000
	HeapTransferBlock   = 20000
	HeapBundleAbort     = 50000
	HeapMinForTLS       = 45000
	HeapBlockMinForTLS  = 16384
	HeapTrendHysteresis = 256
	HeapTrendSamples    = 8
)

const (
	HeapSampleInterval   = 5 * time.Second
	HeapLowDuration      = 10 * time.Second
	HeapCriticalDuration = 2 * time.Second
	HeapRecoveryCooldown = 30 * time.Second
	HeapRecoveryDefer    = 60 * time.Second
	HeapLogInterval      = 30 * time.Second
)
