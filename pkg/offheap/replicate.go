package offheap

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"sync"

	"github.com/bradfitz/gomemcache/memcache"
	"github.com/redis/go-redis/v9"

	"github.com/offheapio/offheap/pkg/build"
)

type pushEvent struct {
	key    []byte
	value  []byte
	remove bool
}

// pushSink mirrors one entry mutation to an external cache.
type pushSink interface {
	push(ev pushEvent) error
	close() error
}

// replicator pushes entry mutations to the configured endpoints from a
// single background goroutine. The queue is bounded; when it is full the
// event is dropped and reported through the error listener rather than
// blocking the write path.
type replicator struct {
	sinks  []pushSink
	events chan pushEvent
	stopCh chan struct{}
	wg     sync.WaitGroup
	errs   build.ErrorListener
}

func newReplicator(endpoints []build.HostPort, errs build.ErrorListener) (*replicator, error) {
	r := &replicator{
		events: make(chan pushEvent, 1024),
		stopCh: make(chan struct{}),
		errs:   errs,
	}
	for _, ep := range endpoints {
		sink, err := sinkFor(ep)
		if err != nil {
			return nil, err
		}
		r.sinks = append(r.sinks, sink)
	}
	r.wg.Add(1)
	go r.run()
	return r, nil
}

// sinkFor selects the sink implementation from the endpoint scheme. A
// bare host:port means memcache.
func sinkFor(ep build.HostPort) (pushSink, error) {
	switch ep.Scheme {
	case "", "memcache":
		return &memcacheSink{client: memcache.New(ep.Addr())}, nil
	case "redis":
		return &redisSink{client: redis.NewClient(&redis.Options{Addr: ep.Addr()})}, nil
	}
	return nil, fmt.Errorf("%w: unsupported push scheme %q", build.ErrInvalidArgument, ep.Scheme)
}

func (r *replicator) enqueue(ev pushEvent) {
	select {
	case r.events <- ev:
	default:
		r.report(fmt.Errorf("%w: event dropped", ErrPushOverflow))
	}
}

func (r *replicator) report(err error) {
	if r.errs != nil {
		r.errs.OnError(err)
	}
}

func (r *replicator) run() {
	defer r.wg.Done()
	for {
		select {
		case ev := <-r.events:
			r.dispatch(ev)
		case <-r.stopCh:
			for {
				select {
				case ev := <-r.events:
					r.dispatch(ev)
				default:
					return
				}
			}
		}
	}
}

func (r *replicator) dispatch(ev pushEvent) {
	for _, sink := range r.sinks {
		if err := sink.push(ev); err != nil {
			r.report(fmt.Errorf("replication push: %w", err))
		}
	}
}

func (r *replicator) stop() {
	close(r.stopCh)
	r.wg.Wait()
	for _, sink := range r.sinks {
		if err := sink.close(); err != nil {
			r.report(err)
		}
	}
}

// pushKey renders a serialized key as a text-safe cache key.
func pushKey(key []byte) string {
	return base64.RawURLEncoding.EncodeToString(key)
}

type memcacheSink struct {
	client *memcache.Client
}

func (s *memcacheSink) push(ev pushEvent) error {
	if ev.remove {
		err := s.client.Delete(pushKey(ev.key))
		if errors.Is(err, memcache.ErrCacheMiss) {
			return nil
		}
		return err
	}
	return s.client.Set(&memcache.Item{Key: pushKey(ev.key), Value: ev.value})
}

func (s *memcacheSink) close() error { return s.client.Close() }

type redisSink struct {
	client *redis.Client
}

func (s *redisSink) push(ev pushEvent) error {
	ctx := context.Background()
	if ev.remove {
		return s.client.Del(ctx, pushKey(ev.key)).Err()
	}
	return s.client.Set(ctx, pushKey(ev.key), ev.value, 0).Err()
}

func (s *redisSink) close() error { return s.client.Close() }
