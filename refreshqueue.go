package physicalweb

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/sourcegraph/conc/pool"
)

// DefaultRefreshDebounce is the minimum time between two refreshes of the
// same key (§4.7), protecting against accidental or malicious repeated
// /refresh-url POSTs.
const DefaultRefreshDebounce = 5 * time.Second

// DefaultRefreshConcurrency bounds how many refresh jobs run at once, so a
// burst of enqueues (e.g. many keys going stale together) cannot itself
// amplify into a fetch storm against the same small set of slow origins.
const DefaultRefreshConcurrency = 8

// RefreshQueue accepts out-of-band refresh jobs and runs them exactly once
// per enqueue, best-effort deduplicated by its own lastRun marker (§4.7).
// Delivery is at-least-once; RefreshOne is idempotent via the debounce
// window, so duplicate enqueues are harmless.
//
// lastRun is tracked independently of the store's updated_on column.
// Resolver.resolve calls Touch(url) on a stale hit before enqueueing, solely
// so a concurrent caller sees the bumped timestamp and doesn't also enqueue
// (§4.6) — that write happens milliseconds before this worker ever runs. If
// refreshOne debounced against that same updated_on, the very Touch meant to
// guard against a duplicate enqueue would also make every scan-triggered
// refresh look like it already ran, and the fetch would never happen.
// Keeping a separate marker means the debounce reflects when a refresh
// actually executed, not when some other write last touched the record.
type RefreshQueue struct {
	store    MetadataStore
	log      zerolog.Logger
	debounce time.Duration
	pool     *pool.Pool
	resolve  func(ctx context.Context, url string) (*SiteRecord, error)

	mu      sync.Mutex
	lastRun map[string]time.Time
}

// NewRefreshQueue builds a RefreshQueue. The function that actually performs
// a forced fetch-and-store is wired in afterward via SetResolveFunc, since
// that function lives on the Resolver this queue serves and the two are
// constructed together.
func NewRefreshQueue(store MetadataStore, log zerolog.Logger, opts ...RefreshQueueOption) *RefreshQueue {
	q := &RefreshQueue{
		store:    store,
		log:      log,
		debounce: DefaultRefreshDebounce,
		pool:     pool.New().WithMaxGoroutines(DefaultRefreshConcurrency),
		lastRun:  make(map[string]time.Time),
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// RefreshQueueOption configures a RefreshQueue at construction time.
type RefreshQueueOption func(*RefreshQueue)

// WithRefreshDebounce overrides DefaultRefreshDebounce.
func WithRefreshDebounce(d time.Duration) RefreshQueueOption {
	return func(q *RefreshQueue) {
		if d >= 0 {
			q.debounce = d
		}
	}
}

// WithRefreshConcurrency overrides DefaultRefreshConcurrency.
func WithRefreshConcurrency(n int) RefreshQueueOption {
	return func(q *RefreshQueue) {
		if n > 0 {
			q.pool = pool.New().WithMaxGoroutines(n)
		}
	}
}

// SetResolveFunc wires in the forced fetch-and-store function a worker calls
// after claiming a job. Must be called before Enqueue.
func (q *RefreshQueue) SetResolveFunc(fn func(ctx context.Context, url string) (*SiteRecord, error)) {
	q.resolve = fn
}

// Enqueue schedules url for background refresh. The job runs on the
// queue's bounded pool; Enqueue itself never blocks on the fetch.
func (q *RefreshQueue) Enqueue(ctx context.Context, url string) {
	jobID := uuid.NewString()
	q.pool.Go(func() {
		q.refreshOne(context.WithoutCancel(ctx), jobID, url)
	})
}

// claim reports whether url may run now, and records that it did. It is the
// single source of truth for the debounce window — not the store.
func (q *RefreshQueue) claim(url string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if last, ok := q.lastRun[url]; ok && time.Since(last) < q.debounce {
		return false
	}
	q.lastRun[url] = time.Now()
	return true
}

// refreshOne implements §4.7: skip if refreshed within the debounce window,
// else Touch the store (so a concurrent stale-hit caller sees a fresh
// updated_on and doesn't also enqueue, per §4.6), then force a fetch.
// FailedFetch is swallowed; it is the single place in the system errors are
// dropped without any caller ever observing them.
func (q *RefreshQueue) refreshOne(ctx context.Context, jobID, url string) {
	log := q.log.With().Str("job", jobID).Str("url", url).Logger()
	if !q.claim(url) {
		log.Debug().Msg("refresh debounced")
		return
	}
	if _, err := q.store.Touch(ctx, url); err != nil && err != ErrNotFound {
		log.Warn().Err(err).Msg("refresh touch failed")
		return
	}
	if q.resolve == nil {
		return
	}
	if _, err := q.resolve(ctx, url); err != nil {
		log.Warn().Err(err).Msg("refresh fetch failed, swallowed")
		return
	}
	log.Info().Msg("refreshed")
}
