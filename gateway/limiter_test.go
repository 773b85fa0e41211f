package gateway

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLimiterBurstPassesWithoutDelay(t *testing.T) {
	l := NewTokenBucketLimiter(1000, 50)

	start := time.Now()
	l.WaitN(20)
	l.WaitN(20)
	require.Less(t, time.Since(start), 50*time.Millisecond)
}

func TestLimiterBlocksWhenExhausted(t *testing.T) {
	l := NewTokenBucketLimiter(100, 1)
	l.WaitN(1)

	start := time.Now()
	l.WaitN(1)
	// 桶已空，至少要等 1/100s 补充
	require.GreaterOrEqual(t, time.Since(start), 5*time.Millisecond)
}

func TestLimiterClampsOversizedWeight(t *testing.T) {
	l := NewTokenBucketLimiter(1000, 5)

	start := time.Now()
	l.WaitN(100)
	require.Less(t, time.Since(start), 100*time.Millisecond)
}
