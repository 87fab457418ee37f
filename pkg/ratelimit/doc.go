// Package ratelimit paces requests made to pixiv.
//
// Available Implementations:
//
// Fixed Delay:
//   - Enforces a minimum gap between consecutive calls
//   - Used by the paginator for its courtesy delay between page requests
//
// Token Bucket:
//   - Fixed capacity bucket that refills after a specified period
//   - Default limiter for binary downloads
//
// Sliding Window:
//   - Tracks requests within a moving time window
//   - Selectable with rate_limit.strategy: sliding_window
//
// All limiters implement Limiter. Wait honours context cancellation.
//
// Usage:
//
//	limiter := ratelimit.NewFixedDelay(time.Second)
//	for {
//		if err := limiter.Wait(ctx); err != nil {
//			return err
//		}
//		// request next page
//	}
package ratelimit
