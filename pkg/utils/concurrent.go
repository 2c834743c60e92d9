package utils

import (
	"context"
	"os"
	"strconv"
	"sync"
)

// DefaultSemaphoreLimit bounds concurrent model calls when no explicit limit
// is configured, keeping fan-out within typical provider rate limits.
const DefaultSemaphoreLimit = 8

// GetSemaphoreLimit returns the concurrency limit from the SEMAPHORE_LIMIT
// environment variable, or the default when unset or unparsable.
func GetSemaphoreLimit() int {
	val := os.Getenv("SEMAPHORE_LIMIT")
	if val == "" {
		return DefaultSemaphoreLimit
	}
	limit, err := strconv.Atoi(val)
	if err != nil || limit <= 0 {
		return DefaultSemaphoreLimit
	}
	return limit
}

// GatherWithResults runs functions concurrently, bounded by a counting
// semaphore, and returns their results and errors in input order. All
// functions are waited on before returning; a failed unit occupies its slot
// in the errors slice rather than cancelling its siblings. Panics in
// goroutines are recovered and converted to PanicError.
func GatherWithResults[T any](ctx context.Context, maxConcurrency int, functions ...func() (T, error)) ([]T, []error) {
	if len(functions) == 0 {
		return nil, nil
	}
	if maxConcurrency <= 0 {
		maxConcurrency = GetSemaphoreLimit()
	}

	semaphore := make(chan struct{}, maxConcurrency)
	results := make([]T, len(functions))
	errors := make([]error, len(functions))
	var wg sync.WaitGroup

	for i, fn := range functions {
		wg.Add(1)
		go func(index int, function func() (T, error)) {
			defer wg.Done()
			defer RecoverWithCallback(func(err error) {
				errors[index] = err
			})

			select {
			case semaphore <- struct{}{}:
				defer func() { <-semaphore }()
			case <-ctx.Done():
				errors[index] = ctx.Err()
				return
			}

			results[index], errors[index] = function()
		}(i, fn)
	}

	wg.Wait()
	return results, errors
}

// Worker processes one item into one result.
type Worker[T any, R any] func(ctx context.Context, item T) (R, error)

// MapItems runs the worker over every item with at most maxConcurrency
// in flight, preserving input order in the returned slices.
func MapItems[T any, R any](ctx context.Context, maxConcurrency int, items []T, worker Worker[T, R]) ([]R, []error) {
	if len(items) == 0 {
		return nil, nil
	}

	functions := make([]func() (R, error), len(items))
	for i, item := range items {
		functions[i] = func() (R, error) {
			return worker(ctx, item)
		}
	}
	return GatherWithResults(ctx, maxConcurrency, functions...)
}
