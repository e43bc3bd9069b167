package offheap

import (
	"errors"
	"testing"

	"github.com/offheapio/offheap/pkg/build"
)

func TestSinkSelection(t *testing.T) {
	sink, err := sinkFor(build.HostPort{Host: "cache-1", Port: 11211})
	if err != nil {
		t.Fatalf("default scheme failed: %v", err)
	}
	if _, ok := sink.(*memcacheSink); !ok {
		t.Errorf("expected memcache sink for bare endpoint, got %T", sink)
	}

	sink, err = sinkFor(build.HostPort{Scheme: "memcache", Host: "cache-1", Port: 11211})
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := sink.(*memcacheSink); !ok {
		t.Errorf("expected memcache sink, got %T", sink)
	}

	sink, err = sinkFor(build.HostPort{Scheme: "redis", Host: "cache-2", Port: 6379})
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := sink.(*redisSink); !ok {
		t.Errorf("expected redis sink, got %T", sink)
	}

	if _, err := sinkFor(build.HostPort{Scheme: "carrier-pigeon", Host: "coop", Port: 1}); !errors.Is(err, build.ErrInvalidArgument) {
		t.Errorf("expected ErrInvalidArgument for unknown scheme, got %v", err)
	}
}

type collectingSink struct {
	events []pushEvent
}

func (s *collectingSink) push(ev pushEvent) error { s.events = append(s.events, ev); return nil }
func (s *collectingSink) close() error            { return nil }

type collectingErrors struct {
	errs []error
}

func (l *collectingErrors) OnError(err error) { l.errs = append(l.errs, err) }

func TestReplicatorDispatch(t *testing.T) {
	sink := &collectingSink{}
	r := &replicator{
		sinks:  []pushSink{sink},
		events: make(chan pushEvent, 8),
		stopCh: make(chan struct{}),
	}
	r.wg.Add(1)
	go r.run()

	r.enqueue(pushEvent{key: []byte("k1"), value: []byte("v1")})
	r.enqueue(pushEvent{key: []byte("k1"), remove: true})
	r.stop()

	if len(sink.events) != 2 {
		t.Fatalf("expected 2 pushed events, got %d", len(sink.events))
	}
	if sink.events[0].remove || !sink.events[1].remove {
		t.Errorf("event order wrong: %+v", sink.events)
	}
}

func TestReplicatorOverflowReported(t *testing.T) {
	errs := &collectingErrors{}
	// No goroutine draining, so the one-slot queue overflows.
	r := &replicator{
		events: make(chan pushEvent, 1),
		stopCh: make(chan struct{}),
		errs:   errs,
	}

	r.enqueue(pushEvent{key: []byte("k1")})
	r.enqueue(pushEvent{key: []byte("k2")})

	if len(errs.errs) != 1 {
		t.Fatalf("expected 1 overflow error, got %d", len(errs.errs))
	}
	if !errors.Is(errs.errs[0], ErrPushOverflow) {
		t.Errorf("expected ErrPushOverflow, got %v", errs.errs[0])
	}
}
