package kv

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/dgraph-io/badger/v4"

	"clipstitch/internal/logging"
)

const (
	badgerValuePrefix = "v:"
	badgerListPrefix  = "l:"
	conflictAttempts  = 50
)

// Badger is an embedded single-process backend.
type Badger struct {
	db *badger.DB
}

// OpenBadger opens or creates a database in dir.
func OpenBadger(dir string, logger *slog.Logger) (*Badger, error) {
	if dir == "" {
		return nil, errors.New("badger dir is required")
	}
	return openBadger(badger.DefaultOptions(dir).WithLogger(newBadgerLogger(logger)))
}

// OpenBadgerInMemory opens a database that lives only as long as the process.
func OpenBadgerInMemory() (*Badger, error) {
	return openBadger(badger.DefaultOptions("").WithInMemory(true).WithLogger(nil))
}

func openBadger(opts badger.Options) (*Badger, error) {
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger: %w", err)
	}
	return &Badger{db: db}, nil
}

func valueKey(key string) []byte { return []byte(badgerValuePrefix + key) }

func listLenKey(key string) []byte { return []byte(badgerListPrefix + key + "#len") }

func listItemKey(key string, i int) []byte {
	return []byte(fmt.Sprintf("%s%s#%020d", badgerListPrefix, key, i))
}

// update runs fn in a read-write transaction, retrying optimistic conflicts.
func (b *Badger) update(ctx context.Context, fn func(txn *badger.Txn) error) error {
	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		err := b.db.Update(fn)
		if err == nil || errors.Is(err, badger.ErrConflict) {
			return struct{}{}, err
		}
		return struct{}{}, backoff.Permanent(err)
	},
		backoff.WithBackOff(backoff.NewConstantBackOff(time.Millisecond)),
		backoff.WithMaxTries(conflictAttempts),
	)
	return err
}

func readInt(txn *badger.Txn, k []byte) (int64, error) {
	item, err := txn.Get(k)
	if errors.Is(err, badger.ErrKeyNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	var n int64
	err = item.Value(func(val []byte) error {
		parsed, perr := strconv.ParseInt(string(val), 10, 64)
		if perr != nil {
			return fmt.Errorf("value %q is not a counter", val)
		}
		n = parsed
		return nil
	})
	return n, err
}

func (b *Badger) Get(ctx context.Context, key string) ([]byte, error) {
	if err := checkKey(key); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var out []byte
	err := b.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(valueKey(key))
		if err != nil {
			return err
		}
		out, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	if err != nil {
		return nil, fmt.Errorf("badger get %s: %w", key, err)
	}
	return out, nil
}

func (b *Badger) Put(ctx context.Context, key string, value []byte) error {
	if err := checkKey(key); err != nil {
		return err
	}
	return b.update(ctx, func(txn *badger.Txn) error {
		return txn.Set(valueKey(key), nonNil(value))
	})
}

func (b *Badger) PutIfAbsent(ctx context.Context, key string, value []byte) (bool, error) {
	if err := checkKey(key); err != nil {
		return false, err
	}
	var wrote bool
	err := b.update(ctx, func(txn *badger.Txn) error {
		wrote = false
		_, err := txn.Get(valueKey(key))
		if err == nil {
			return nil
		}
		if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}
		wrote = true
		return txn.Set(valueKey(key), nonNil(value))
	})
	if err != nil {
		return false, fmt.Errorf("badger put-if-absent %s: %w", key, err)
	}
	return wrote, nil
}

func (b *Badger) Incr(ctx context.Context, key string, delta int64) (int64, error) {
	if err := checkKey(key); err != nil {
		return 0, err
	}
	var next int64
	err := b.update(ctx, func(txn *badger.Txn) error {
		current, err := readInt(txn, valueKey(key))
		if err != nil {
			return err
		}
		next = current + delta
		return txn.Set(valueKey(key), []byte(strconv.FormatInt(next, 10)))
	})
	if err != nil {
		return 0, fmt.Errorf("badger incr %s: %w", key, err)
	}
	return next, nil
}

func (b *Badger) Append(ctx context.Context, key string, value []byte) (int, error) {
	if err := checkKey(key); err != nil {
		return 0, err
	}
	var length int
	err := b.update(ctx, func(txn *badger.Txn) error {
		current, err := readInt(txn, listLenKey(key))
		if err != nil {
			return err
		}
		length = int(current) + 1
		if err := txn.Set(listItemKey(key, length), nonNil(value)); err != nil {
			return err
		}
		return txn.Set(listLenKey(key), []byte(strconv.Itoa(length)))
	})
	if err != nil {
		return 0, fmt.Errorf("badger append %s: %w", key, err)
	}
	return length, nil
}

func (b *Badger) List(ctx context.Context, key string) ([][]byte, error) {
	if err := checkKey(key); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var out [][]byte
	err := b.db.View(func(txn *badger.Txn) error {
		n, err := readInt(txn, listLenKey(key))
		if err != nil {
			return err
		}
		out = make([][]byte, 0, n)
		for i := 1; i <= int(n); i++ {
			item, err := txn.Get(listItemKey(key, i))
			if err != nil {
				return fmt.Errorf("element %d: %w", i, err)
			}
			value, err := item.ValueCopy(nil)
			if err != nil {
				return err
			}
			out = append(out, value)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("badger list %s: %w", key, err)
	}
	return out, nil
}

func (b *Badger) Close() error {
	return b.db.Close()
}

// badgerLogger routes badger's printf-style logging into slog.
type badgerLogger struct {
	logger *slog.Logger
}

func newBadgerLogger(logger *slog.Logger) badger.Logger {
	if logger == nil {
		return nil
	}
	return badgerLogger{logger: logging.NewComponentLogger(logger, "badger")}
}

func (l badgerLogger) Errorf(format string, args ...any) {
	l.logger.Error(strings.TrimSpace(fmt.Sprintf(format, args...)))
}

func (l badgerLogger) Warningf(format string, args ...any) {
	l.logger.Warn(strings.TrimSpace(fmt.Sprintf(format, args...)))
}

func (l badgerLogger) Infof(format string, args ...any) {
	l.logger.Debug(strings.TrimSpace(fmt.Sprintf(format, args...)))
}

func (l badgerLogger) Debugf(format string, args ...any) {
	l.logger.Debug(strings.TrimSpace(fmt.Sprintf(format, args...)))
}
