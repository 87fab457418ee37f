// Package pagination walks pixiv's cursor-paginated collections.
//
// A walk starts from caller-supplied query parameters and follows each
// response's next_url until it is absent. The cursor lives only in memory; an
// interrupted walk restarts from the beginning and relies on the ledger to
// skip what is already done.
package pagination

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"pixivsync/pkg/errors"
	"pixivsync/pkg/logger"
	"pixivsync/pkg/ratelimit"
)

// DefaultDelay is the courtesy pause between consecutive page requests.
const DefaultDelay = time.Second

// Page is one batch of a collection. A nil Items slice means the response
// carried no batch at all, which is reported but does not end the walk.
type Page[T any] struct {
	Items   []T
	NextURL string
}

// FetchFunc requests one page for the given query parameters.
type FetchFunc[T any] func(ctx context.Context, params url.Values) (*Page[T], error)

type options struct {
	limiter  ratelimit.Limiter
	observer func(error)
	logger   logger.Logger
	name     string
}

// Option configures a Walker.
type Option func(*options)

// WithDelay sets the fixed pause between page requests.
func WithDelay(d time.Duration) Option {
	return func(o *options) { o.limiter = ratelimit.NewFixedDelay(d) }
}

// WithLimiter replaces the pacing limiter entirely.
func WithLimiter(l ratelimit.Limiter) Option {
	return func(o *options) { o.limiter = l }
}

// WithObserver receives recoverable problems such as an empty batch.
func WithObserver(fn func(error)) Option {
	return func(o *options) { o.observer = fn }
}

// WithLogger sets the logger.
func WithLogger(l logger.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithName labels log lines and errors with the collection being walked.
func WithName(name string) Option {
	return func(o *options) { o.name = name }
}

// Walker yields batches lazily, one request per call to Next.
//
//	w := pagination.New(client.UserIllusts, pixiv.UserIllustParams(id, "illust"))
//	for w.Next(ctx) {
//		for _, item := range w.Items() { ... }
//	}
//	if err := w.Err(); err != nil { ... }
type Walker[T any] struct {
	fetch  FetchFunc[T]
	params url.Values
	opts   options

	items []T
	pages int
	done  bool
	err   error
}

// New creates a walker starting at initial.
func New[T any](fetch FetchFunc[T], initial url.Values, opts ...Option) *Walker[T] {
	o := options{name: "collection"}
	for _, opt := range opts {
		opt(&o)
	}
	if o.limiter == nil {
		o.limiter = ratelimit.NewFixedDelay(DefaultDelay)
	}
	if o.logger == nil {
		o.logger = logger.GetLogger()
	}

	return &Walker[T]{
		fetch:  fetch,
		params: cloneValues(initial),
		opts:   o,
	}
}

// Next requests the next non-empty batch. It returns false when the
// collection is exhausted or a request failed; check Err to tell them apart.
func (w *Walker[T]) Next(ctx context.Context) bool {
	w.items = nil

	for !w.done {
		if err := w.opts.limiter.Wait(ctx); err != nil {
			return w.fail(err)
		}

		page, err := w.fetch(ctx, w.params)
		if err != nil {
			return w.fail(fmt.Errorf("%s page %d: %w", w.opts.name, w.pages+1, err))
		}
		w.pages++

		if page == nil {
			return w.fail(errors.UpstreamData("paginate "+w.opts.name,
				fmt.Sprintf("page %d: empty response", w.pages)))
		}

		if page.NextURL == "" {
			w.done = true
		} else {
			next, err := ParseNext(page.NextURL)
			if err != nil {
				// the current batch is still valid; the walk ends after it
				w.done = true
				w.err = errors.UpstreamData("paginate "+w.opts.name, err.Error())
			} else {
				w.params = next
			}
		}

		if page.Items == nil {
			w.report(errors.UpstreamData("paginate "+w.opts.name,
				fmt.Sprintf("page %d carried no batch", w.pages)))
			continue
		}

		w.opts.logger.DebugWithFields("Fetched page", map[string]interface{}{
			"collection": w.opts.name,
			"page":       w.pages,
			"items":      len(page.Items),
			"last":       w.done,
		})

		w.items = page.Items
		return true
	}

	return false
}

// Items returns the batch fetched by the last successful Next.
func (w *Walker[T]) Items() []T {
	return w.items
}

// Err returns the error that ended the walk, if any.
func (w *Walker[T]) Err() error {
	return w.err
}

// Pages returns how many pages have been requested.
func (w *Walker[T]) Pages() int {
	return w.pages
}

// Each runs fn for every item of every remaining batch. An error from fn
// stops the walk and is returned.
func (w *Walker[T]) Each(ctx context.Context, fn func(T) error) error {
	for w.Next(ctx) {
		for _, item := range w.items {
			if err := fn(item); err != nil {
				return err
			}
		}
	}
	return w.err
}

func (w *Walker[T]) fail(err error) bool {
	w.done = true
	w.err = err
	w.opts.logger.WithError(err).WarnWithFields("Pagination stopped", map[string]interface{}{
		"collection": w.opts.name,
		"pages":      w.pages,
	})
	return false
}

func (w *Walker[T]) report(err error) {
	w.opts.logger.WithError(err).Warn("Skipping empty page")
	if w.opts.observer != nil {
		w.opts.observer(err)
	}
}

// ParseNext turns a next_url into the query parameters of the next request.
func ParseNext(next string) (url.Values, error) {
	u, err := url.Parse(next)
	if err != nil {
		return nil, fmt.Errorf("invalid next url %q: %w", next, err)
	}
	values, err := url.ParseQuery(u.RawQuery)
	if err != nil {
		return nil, fmt.Errorf("invalid next url query %q: %w", next, err)
	}
	if len(values) == 0 {
		return nil, fmt.Errorf("next url %q has no query parameters", next)
	}
	return values, nil
}

func cloneValues(v url.Values) url.Values {
	out := make(url.Values, len(v))
	for k, vals := range v {
		out[k] = append([]string(nil), vals...)
	}
	return out
}
