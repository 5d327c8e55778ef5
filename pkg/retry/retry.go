// Package retry 提供了带指数退避与随机抖动的通用重试执行器。
package retry

import (
	"context"
	"math/rand"
	"time"

	"github.com/wacoachrusso/sky-interpretation-assistant1/pkg/errs"
	"github.com/wacoachrusso/sky-interpretation-assistant1/pkg/log"
)

// Options 控制一次重试执行的行为。
type Options struct {
	// MaxRetries 是操作的最大执行次数（含首次执行）。
	MaxRetries int
	// BaseDelay 是首次重试前的基础等待时长。
	BaseDelay time.Duration
	// MaxDelay 是单次等待时长的上限。
	MaxDelay time.Duration
	// ShouldRetry 判断一个错误是否值得重试；为 nil 时使用 errs.Retryable。
	ShouldRetry func(error) bool
	// OnRetry 在每次重试前被调用，用于记录或统计；可以为 nil。
	OnRetry func(attempt int, err error)
}

// DefaultOptions 是数据访问层统一使用的重试参数。
var DefaultOptions = Options{
	MaxRetries: 3,
	BaseDelay:  time.Second,
	MaxDelay:   10 * time.Second,
}

// Do 执行 op，失败时按指数退避重试，直到成功、错误不可重试或次数耗尽。
// 次数耗尽后原样返回最后一次的错误。
func Do[T any](ctx context.Context, op func(ctx context.Context) (T, error), opts Options) (T, error) {
	var zero T
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = DefaultOptions.MaxRetries
	}
	if opts.BaseDelay <= 0 {
		opts.BaseDelay = DefaultOptions.BaseDelay
	}
	if opts.MaxDelay <= 0 {
		opts.MaxDelay = DefaultOptions.MaxDelay
	}
	shouldRetry := opts.ShouldRetry
	if shouldRetry == nil {
		shouldRetry = errs.Retryable
	}

	var lastErr error
	for attempt := 0; attempt < opts.MaxRetries; attempt++ {
		result, err := op(ctx)
		if err == nil {
			return result, nil
		}
		lastErr = err

		if !shouldRetry(err) || attempt == opts.MaxRetries-1 {
			return zero, err
		}

		delay := backoffDelay(opts.BaseDelay, opts.MaxDelay, attempt)
		if opts.OnRetry != nil {
			opts.OnRetry(attempt+1, err)
		} else {
			log.Warnf("操作失败，%v 后进行第 %d/%d 次重试: %v", delay, attempt+1, opts.MaxRetries-1, err)
		}

		select {
		case <-ctx.Done():
			return zero, ctx.Err()
		case <-time.After(delay):
		}
	}
	return zero, lastErr
}

// backoffDelay 计算第 attempt 次重试前的等待时长：base*2^attempt 加抖动，上限 max。
func backoffDelay(base, max time.Duration, attempt int) time.Duration {
	delay := base << uint(attempt)
	jitter := time.Duration(rand.Int63n(int64(time.Second)))
	if delay+jitter > max {
		return max
	}
	return delay + jitter
}
