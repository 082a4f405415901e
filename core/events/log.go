package events

import (
	"sync"
	"time"

	"tally/core/types"
)

// Record is one entry of the append-only log.
type Record struct {
	Sequence  uint64       `json:"sequence"`
	Timestamp int64        `json:"timestamp"`
	Event     *types.Event `json:"event"`
}

// Log is an ordered, append-only, in-memory sequence of emitted events. It is
// an Emitter so it can be handed to engines directly; readers either poll with
// Since or Subscribe for live delivery.
type Log struct {
	mu          sync.RWMutex
	records     []Record
	retain      int
	dropped     uint64
	subscribers map[uint64]chan Record
	nextSub     uint64
	nowFn       func() time.Time
}

// NewLog creates a log retaining the latest retain records. retain <= 0 keeps
// everything.
func NewLog(retain int) *Log {
	return &Log{
		retain:      retain,
		subscribers: make(map[uint64]chan Record),
		nowFn:       time.Now,
	}
}

// SetNowFunc overrides the clock used to stamp records.
func (l *Log) SetNowFunc(now func() time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if now == nil {
		now = time.Now
	}
	l.nowFn = now
}

// Emit appends the wire form of evt. Events without a wire form are ignored.
func (l *Log) Emit(evt Event) {
	wire := Wire(evt)
	if wire == nil {
		return
	}
	l.mu.Lock()
	rec := Record{
		Sequence:  l.dropped + uint64(len(l.records)) + 1,
		Timestamp: l.nowFn().Unix(),
		Event:     wire.Clone(),
	}
	l.records = append(l.records, rec)
	if l.retain > 0 && len(l.records) > l.retain {
		trim := len(l.records) - l.retain
		l.records = append([]Record(nil), l.records[trim:]...)
		l.dropped += uint64(trim)
	}
	// Sends happen under the lock so cancel never closes a channel mid-send.
	for _, ch := range l.subscribers {
		select {
		case ch <- rec:
		default:
			// Slow subscribers miss live records and catch up through Since.
		}
	}
	l.mu.Unlock()
}

// Since returns up to limit records with a sequence greater than after.
func (l *Log) Since(after uint64, limit int) []Record {
	l.mu.RLock()
	defer l.mu.RUnlock()
	start := 0
	if after > l.dropped {
		start = int(after - l.dropped)
	}
	if start >= len(l.records) {
		return []Record{}
	}
	end := len(l.records)
	if limit > 0 && start+limit < end {
		end = start + limit
	}
	out := make([]Record, end-start)
	copy(out, l.records[start:end])
	return out
}

// Last returns the highest sequence appended so far.
func (l *Log) Last() uint64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.dropped + uint64(len(l.records))
}

// Subscribe registers a buffered channel receiving every new record. The
// returned cancel function must be called to release it.
func (l *Log) Subscribe(buffer int) (<-chan Record, func()) {
	if buffer <= 0 {
		buffer = 64
	}
	ch := make(chan Record, buffer)
	l.mu.Lock()
	id := l.nextSub
	l.nextSub++
	l.subscribers[id] = ch
	l.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			l.mu.Lock()
			delete(l.subscribers, id)
			l.mu.Unlock()
			close(ch)
		})
	}
}
