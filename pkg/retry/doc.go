// Package retry provides backoff and retry logic for transient failures of
// pixiv API calls.
//
// The sync engine itself never retries an item in place; a failed item is
// simply not committed and is picked up by the next run. Retries here are
// opt-in (retry.enabled) and cover single JSON requests made by the pixiv
// client that were answered with 429 or 5xx.
//
// Basic usage:
//
//	err := retry.Do(ctx, func(ctx context.Context) error {
//		return client.refresh(ctx)
//	}, nil)
//
//	// Status aware delays: long after 429s, shorter after 5xx
//	retrier := retry.NewHTTPRetrier(3, logger.GetLogger())
//	err := retrier.Do(ctx, op)
//
// Error Type Handling:
//   - Rate limit errors: longer delays with less aggressive backoff
//   - Server errors: moderate delays with exponential backoff
//   - Transport/Auth/NotFound/Persistence errors: not retried
package retry
