package pipeline

import (
	"context"
	"time"

	"manual-smart-go/pkg/log"
)

// retryWithBackoff 最多执行 maxAttempts 次，第 n 次失败后等待 baseDelay*2^(n-1)。
// 返回实际执行次数与最后一次的错误。
func retryWithBackoff(ctx context.Context, maxAttempts int, baseDelay time.Duration, op func() error) (int, error) {
	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return attempt - 1, err
		}
		if lastErr = op(); lastErr == nil {
			return attempt, nil
		}
		if attempt == maxAttempts {
			return attempt, lastErr
		}

		delay := baseDelay << (attempt - 1)
		log.Debugf("[Retry] 第 %d/%d 次尝试失败, %v 后重试, error: %v", attempt, maxAttempts, delay, lastErr)
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return attempt, ctx.Err()
		case <-timer.C:
		}
	}
	return maxAttempts, lastErr
}
