package spatial

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/iut62elec/CIMApplication/internal/cache"
	"github.com/iut62elec/CIMApplication/internal/logging"
	"github.com/iut62elec/CIMApplication/internal/metrics"
	"golang.org/x/sync/singleflight"
)

// CachedService serves repeated queries from a cache. Only successful
// outputs are stored; concurrent misses for the same query share one
// invocation, which is detached from the cancellation of whichever caller
// started it.
type CachedService struct {
	next    *Service
	cache   cache.Cache
	ttl     time.Duration
	timeout time.Duration
	group   singleflight.Group
}

type cachedOutput struct {
	Text string `json:"text"`
	Rows int    `json:"rows"`
}

// NewCachedService wraps next with c. ttl <= 0 stores entries without expiry.
// timeout bounds a shared invocation; <= 0 leaves it to the transport.
func NewCachedService(next *Service, c cache.Cache, ttl, timeout time.Duration) *CachedService {
	return &CachedService{next: next, cache: c, ttl: ttl, timeout: timeout}
}

// Key returns the cache key of q after defaults and paths are applied.
func (c *CachedService) Key(q Query) string {
	req := c.next.Request(q)
	parts := []string{req.Operation, req.Class, req.Jars, req.Filename(), q.Format.String()}
	for _, k := range req.ParamKeys() {
		parts = append(parts, k, req.Params[k])
	}
	return cache.Key(parts...)
}

func (c *CachedService) Invoke(ctx context.Context, q Query) Result {
	start := time.Now()
	key := c.Key(q)

	if res, ok := c.lookup(ctx, key, q); ok {
		res.Duration = time.Since(start)
		c.next.record(ctx, c.next.Request(q), res)
		return res
	}

	leader := false
	v, _, _ := c.group.Do(key, func() (any, error) {
		leader = true
		callCtx := context.WithoutCancel(ctx)
		if c.timeout > 0 {
			var cancel context.CancelFunc
			callCtx, cancel = context.WithTimeout(callCtx, c.timeout)
			defer cancel()
		}
		res := c.next.Invoke(callCtx, q)
		if res.Err == nil {
			c.store(callCtx, key, res)
		}
		return res, nil
	})
	res := v.(Result)
	if !leader {
		// Waiters get their own request id and log entry.
		res.RequestID = uuid.New().String()
		res.Duration = time.Since(start)
		c.next.record(ctx, c.next.Request(q), res)
	}
	return res
}

func (c *CachedService) lookup(ctx context.Context, key string, q Query) (Result, bool) {
	data, err := c.cache.Get(ctx, key)
	if err != nil {
		if !errors.Is(err, cache.ErrNotFound) {
			logging.OpContext(ctx).Warn("cache lookup failed", "error", err)
		}
		metrics.RecordCacheLookup(false)
		return Result{}, false
	}

	var out cachedOutput
	if err := json.Unmarshal(data, &out); err != nil {
		logging.OpContext(ctx).Warn("discarding corrupt cache entry", "key", key, "error", err)
		_ = c.cache.Delete(ctx, key)
		metrics.RecordCacheLookup(false)
		return Result{}, false
	}
	metrics.RecordCacheLookup(true)
	return Result{
		RequestID: uuid.New().String(),
		Text:      out.Text,
		Format:    q.Format,
		Rows:      out.Rows,
		FromCache: true,
	}, true
}

func (c *CachedService) store(ctx context.Context, key string, res Result) {
	data, err := json.Marshal(cachedOutput{Text: res.Text, Rows: res.Rows})
	if err != nil {
		return
	}
	if err := c.cache.Set(ctx, key, data, c.ttl); err != nil {
		logging.OpContext(ctx).Warn("cache store failed", "error", err)
	}
}
