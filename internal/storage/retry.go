package storage

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v5"

	"clipstitch/internal/logging"
)

// RetryOptions bounds throttle retries.
type RetryOptions struct {
	Attempts int
	Initial  time.Duration
	Max      time.Duration
	// OnRetry is called before each retry sleep.
	OnRetry func(op string, err error)
}

func (o RetryOptions) normalized() RetryOptions {
	if o.Attempts <= 0 {
		o.Attempts = 5
	}
	if o.Initial <= 0 {
		o.Initial = 200 * time.Millisecond
	}
	if o.Max < o.Initial {
		o.Max = o.Initial
	}
	return o
}

// Retrying decorates a Store, retrying throttled operations with exponential
// backoff. Every other failure is returned immediately.
type Retrying struct {
	inner  Store
	opts   RetryOptions
	logger *slog.Logger
}

// WithRetry wraps store with throttle retries.
func WithRetry(store Store, opts RetryOptions, logger *slog.Logger) *Retrying {
	return &Retrying{
		inner:  store,
		opts:   opts.normalized(),
		logger: logging.NewComponentLogger(logger, "storage"),
	}
}

func retryStore[T any](ctx context.Context, r *Retrying, op, key string, fn func() (T, error)) (T, error) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = r.opts.Initial
	b.MaxInterval = r.opts.Max

	return backoff.Retry(ctx, func() (T, error) {
		v, err := fn()
		if err == nil {
			return v, nil
		}
		if errors.Is(err, ErrThrottled) {
			return v, err
		}
		return v, backoff.Permanent(err)
	},
		backoff.WithBackOff(b),
		backoff.WithMaxTries(uint(r.opts.Attempts)),
		backoff.WithNotify(func(err error, wait time.Duration) {
			r.logger.Debug("storage throttled; retrying",
				logging.String("operation", op),
				logging.String("key", key),
				logging.Duration("wait", wait),
				logging.Error(err),
			)
			if r.opts.OnRetry != nil {
				r.opts.OnRetry(op, err)
			}
		}),
	)
}

func (r *Retrying) Head(ctx context.Context, key string) (Object, error) {
	return retryStore(ctx, r, "head", key, func() (Object, error) {
		return r.inner.Head(ctx, key)
	})
}

func (r *Retrying) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	return retryStore(ctx, r, "get", key, func() (io.ReadCloser, error) {
		return r.inner.Get(ctx, key)
	})
}

// Put retries only when r can be rewound; a consumed stream cannot be replayed.
func (r *Retrying) Put(ctx context.Context, key string, body io.Reader, meta map[string]string) (Object, error) {
	seeker, rewindable := body.(io.Seeker)
	var start int64
	if rewindable {
		pos, err := seeker.Seek(0, io.SeekCurrent)
		if err != nil {
			rewindable = false
		} else {
			start = pos
		}
	}
	first := true
	return retryStore(ctx, r, "put", key, func() (Object, error) {
		if !first {
			if !rewindable {
				return Object{}, backoff.Permanent(errors.New("put body cannot be rewound for retry"))
			}
			if _, err := seeker.Seek(start, io.SeekStart); err != nil {
				return Object{}, backoff.Permanent(err)
			}
		}
		first = false
		return r.inner.Put(ctx, key, body, meta)
	})
}

// Delete retries the keys that failed with throttling.
func (r *Retrying) Delete(ctx context.Context, keys ...string) ([]DeleteFailure, error) {
	pending := keys
	var permanent, throttled []DeleteFailure
	_, err := retryStore(ctx, r, "delete", "", func() (struct{}, error) {
		failures, err := r.inner.Delete(ctx, pending...)
		if err != nil {
			return struct{}{}, err
		}
		throttled = throttled[:0]
		for _, f := range failures {
			if errors.Is(f.Err, ErrThrottled) {
				throttled = append(throttled, f)
				continue
			}
			permanent = append(permanent, f)
		}
		if len(throttled) == 0 {
			return struct{}{}, nil
		}
		pending = pending[:0:0]
		for _, f := range throttled {
			pending = append(pending, f.Key)
		}
		return struct{}{}, ErrThrottled
	})
	failures := append(permanent, throttled...)
	if err != nil && !errors.Is(err, ErrThrottled) {
		return failures, err
	}
	return failures, nil
}
