package mq

import (
	"context"
	"sync"

	"github.com/segmentio/kafka-go"
)

// offsetTracker commits offsets in fetch order per partition, so a message
// finishing early never moves the group offset past one still in flight.
type offsetTracker struct {
	mu       sync.Mutex
	inFlight map[int][]kafka.Message
	finished map[int]map[int64]struct{}
}

func newOffsetTracker() *offsetTracker {
	return &offsetTracker{
		inFlight: make(map[int][]kafka.Message),
		finished: make(map[int]map[int64]struct{}),
	}
}

// track must be called in fetch order.
func (t *offsetTracker) track(msg kafka.Message) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.inFlight[msg.Partition] = append(t.inFlight[msg.Partition], msg)
}

// finish marks msg done and commits the longest finished prefix of its partition.
func (t *offsetTracker) finish(ctx context.Context, committer messageCommitter, msg kafka.Message) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	done := t.finished[msg.Partition]
	if done == nil {
		done = make(map[int64]struct{})
		t.finished[msg.Partition] = done
	}
	done[msg.Offset] = struct{}{}

	queue := t.inFlight[msg.Partition]
	var last *kafka.Message
	for len(queue) > 0 {
		if _, ok := done[queue[0].Offset]; !ok {
			break
		}
		delete(done, queue[0].Offset)
		last = &queue[0]
		queue = queue[1:]
	}
	if len(queue) == 0 {
		delete(t.inFlight, msg.Partition)
	} else {
		t.inFlight[msg.Partition] = queue
	}
	if last == nil {
		return nil
	}
	return committer.CommitMessages(ctx, *last)
}
