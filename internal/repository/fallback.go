// Package repository 提供了数据访问层的实现。
// 所有远端操作都经过重试执行器包装；列表读取成功后镜像到缓存，
// 重试耗尽后回退到最近一次的缓存值。
package repository

import (
	"context"

	"github.com/wacoachrusso/sky-interpretation-assistant1/pkg/cache"
	"github.com/wacoachrusso/sky-interpretation-assistant1/pkg/log"
	"github.com/wacoachrusso/sky-interpretation-assistant1/pkg/retry"
)

// 数据访问层统一的重试参数。
var defaultRetryOptions = retry.DefaultOptions

// listWithFallback 执行一次带重试的列表查询：
// 成功时把结果镜像到缓存；重试耗尽后若缓存有值则降级返回缓存，否则原样上抛。
func listWithFallback[T any](ctx context.Context, store cache.Store, key string, opts retry.Options, fetch func(ctx context.Context) ([]T, error)) ([]T, error) {
	result, err := retry.Do(ctx, fetch, opts)
	if err == nil {
		store.Save(ctx, key, result)
		return result, nil
	}

	var cached []T
	if store.Load(ctx, key, &cached) {
		log.Warnf("远端查询失败，使用缓存数据降级: key=%s, err=%v", key, err)
		return cached, nil
	}
	return nil, err
}
