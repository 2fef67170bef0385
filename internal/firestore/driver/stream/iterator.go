// Package stream turns a reconnecting snapshot source into the
// SnapshotIterator both drivers hand to callers.
package stream

import (
	"context"
	"sync"
	"time"

	"firestore-driver/internal/firestore/domain/model"
	"firestore-driver/internal/firestore/domain/repository"
	apperrors "firestore-driver/internal/shared/errors"
	"firestore-driver/internal/shared/logger"
)

// EmitFunc receives the full result of the query each time it changes
type EmitFunc func(docs []*model.DocumentSnapshot, readTime time.Time, resumeToken string) error

// Source runs one attempt of a stream starting after resumeToken. It
// returns when the attempt fails or ctx is done.
type Source func(ctx context.Context, resumeToken string, emit EmitFunc) error

// Options tune reconnection
type Options struct {
	// MaxReconnectAttempts bounds consecutive failed attempts. A snapshot
	// resets the count.
	MaxReconnectAttempts int
	// Backoff is multiplied by the attempt number between attempts
	Backoff time.Duration
	Log     logger.Logger
	// OnStop runs once when the stream ends
	OnStop func()
}

func (o Options) withDefaults() Options {
	if o.MaxReconnectAttempts <= 0 {
		o.MaxReconnectAttempts = 5
	}
	if o.Backoff <= 0 {
		o.Backoff = 200 * time.Millisecond
	}
	if o.Log == nil {
		o.Log = logger.NewNop()
	}
	return o
}

type state struct {
	docs     []*model.DocumentSnapshot
	readTime time.Time
	token    string
}

// Iterator keeps only the latest result of its source. Next diffs it
// against the last result it returned, so a slow reader sees coalesced
// changes and a reconnect that replays an unchanged result yields nothing.
type Iterator struct {
	ctx    context.Context
	cancel context.CancelFunc
	opts   Options

	mu           sync.Mutex
	latest       state
	seq          int
	deliveredSeq int
	delivered    []*model.DocumentSnapshot
	err          error
	stopped      bool
	notify       chan struct{}
	stopOnce     sync.Once
}

var _ repository.SnapshotIterator = (*Iterator)(nil)

// Start runs source in a goroutine until Stop, ctx is done, or the source
// fails with an error that reconnecting cannot fix
func Start(ctx context.Context, source Source, resumeToken string, opts Options) *Iterator {
	ctx, cancel := context.WithCancel(ctx)
	it := &Iterator{
		ctx:    ctx,
		cancel: cancel,
		opts:   opts.withDefaults(),
		notify: make(chan struct{}, 1),
	}
	go it.run(source, resumeToken)
	return it
}

// Retryable reports failures a new attempt may fix
func Retryable(err error) bool {
	return err == nil || apperrors.IsBackendUnavailable(err)
}

func (it *Iterator) run(source Source, token string) {
	defer func() {
		if it.opts.OnStop != nil {
			it.opts.OnStop()
		}
	}()

	failures := 0
	for {
		err := source(it.ctx, token, func(docs []*model.DocumentSnapshot, readTime time.Time, next string) error {
			if next != "" {
				token = next
			}
			failures = 0
			it.publish(state{docs: docs, readTime: readTime, token: token})
			return nil
		})
		if it.ctx.Err() != nil {
			return
		}
		if !Retryable(err) || failures >= it.opts.MaxReconnectAttempts {
			if err == nil {
				err = apperrors.NewBackendUnavailableError("listen stream ended")
			}
			it.fail(err)
			return
		}
		failures++
		wait := time.Duration(failures) * it.opts.Backoff
		it.opts.Log.Debugf("Listen stream dropped (%v), reconnecting in %v (attempt %d/%d)",
			err, wait, failures, it.opts.MaxReconnectAttempts)

		timer := time.NewTimer(wait)
		select {
		case <-it.ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}

func (it *Iterator) publish(s state) {
	it.mu.Lock()
	it.latest = s
	it.seq++
	it.mu.Unlock()
	it.wake()
}

func (it *Iterator) fail(err error) {
	it.mu.Lock()
	it.err = err
	it.mu.Unlock()
	it.wake()
}

func (it *Iterator) wake() {
	select {
	case it.notify <- struct{}{}:
	default:
	}
}

// Next blocks until the result differs from the last one returned. The
// first call returns the full result, even when it is empty.
func (it *Iterator) Next() (*model.QuerySnapshot, error) {
	for {
		it.mu.Lock()
		if it.stopped {
			it.mu.Unlock()
			return nil, repository.ErrListenerStopped
		}
		if it.seq > it.deliveredSeq {
			first := it.deliveredSeq == 0
			changes := model.DiffSnapshots(it.delivered, it.latest.docs)
			it.deliveredSeq = it.seq
			if first || len(changes) > 0 {
				it.delivered = it.latest.docs
				snap := &model.QuerySnapshot{
					Docs:        it.latest.docs,
					Changes:     changes,
					ReadTime:    it.latest.readTime,
					ResumeToken: it.latest.token,
				}
				it.mu.Unlock()
				return snap, nil
			}
		}
		if it.err != nil {
			err := it.err
			it.mu.Unlock()
			return nil, err
		}
		it.mu.Unlock()

		select {
		case <-it.notify:
		case <-it.ctx.Done():
			it.mu.Lock()
			pending := it.seq > it.deliveredSeq || it.err != nil
			it.mu.Unlock()
			if !pending {
				return nil, repository.ErrListenerStopped
			}
		}
	}
}

// Stop ends the stream. Next returns ErrListenerStopped afterwards.
func (it *Iterator) Stop() {
	it.stopOnce.Do(func() {
		it.mu.Lock()
		it.stopped = true
		it.mu.Unlock()
		it.cancel()
		it.wake()
	})
}
