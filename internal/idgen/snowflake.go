package idgen

import (
	"context"
	"fmt"
	"hash/fnv"
	"os"
	"sync"
	"time"

	"github.com/alfredjeanlab/ctxreg/internal/model"
)

const (
	nodeBits     = 10
	sequenceBits = 12
	timeBits     = 63 - nodeBits - sequenceBits

	// MaxNodeID is the largest node id a Snowflake accepts.
	MaxNodeID   = 1<<nodeBits - 1
	maxSequence = 1<<sequenceBits - 1
	maxElapsed  = 1<<timeBits - 1
)

// Epoch is the zero point of the timestamp field (2021-01-01T00:00:00Z).
var Epoch = time.Date(2021, 1, 1, 0, 0, 0, 0, time.UTC)

// Snowflake produces time-partitioned 63-bit codes: milliseconds since Epoch,
// then the node id, then a per-millisecond sequence. Codes are unique as long
// as every concurrently running instance has a distinct node id.
type Snowflake struct {
	mu     sync.Mutex
	node   int64
	lastMs int64
	seq    int64
	now    func() time.Time
	sleep  func(time.Duration)
}

// Compile-time check that Snowflake implements Generator.
var _ Generator = (*Snowflake)(nil)

// NewSnowflake returns a generator for the given node id.
func NewSnowflake(node int64) (*Snowflake, error) {
	if node < 0 || node > MaxNodeID {
		return nil, fmt.Errorf("idgen: node id %d out of range [0, %d]", node, MaxNodeID)
	}
	return &Snowflake{node: node, lastMs: -1, now: time.Now, sleep: time.Sleep}, nil
}

// NodeIDFromHost derives a node id from the hostname. Deployments running
// more than a handful of instances should assign node ids explicitly.
func NodeIDFromHost() int64 {
	host, err := os.Hostname()
	if err != nil {
		return 0
	}
	h := fnv.New32a()
	_, _ = h.Write([]byte(host))
	return int64(h.Sum32() % (MaxNodeID + 1))
}

// MaxClockStepBack is the largest backwards clock step NextCode waits out.
// Larger steps fail with model.ErrTransient.
const MaxClockStepBack = time.Second

// NextCode returns the next code. It blocks briefly when the sequence for the
// current millisecond is used up or the wall clock stepped backwards, and
// gives up with model.ErrTransient when ctx ends first.
func (s *Snowflake) NextCode(ctx context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ms := s.elapsed()
	if back := s.lastMs - ms; back > MaxClockStepBack.Milliseconds() {
		return 0, fmt.Errorf("%w: clock moved back %dms", model.ErrTransient, back)
	}
	for ms < s.lastMs {
		if err := ctx.Err(); err != nil {
			return 0, fmt.Errorf("%w: waiting for clock: %w", model.ErrTransient, err)
		}
		s.sleep(time.Duration(min(s.lastMs-ms, 10)) * time.Millisecond)
		ms = s.elapsed()
	}
	if ms == s.lastMs {
		s.seq = (s.seq + 1) & maxSequence
		if s.seq == 0 {
			for ms <= s.lastMs {
				s.sleep(time.Millisecond)
				ms = s.elapsed()
			}
		}
	} else {
		s.seq = 0
	}
	if ms > maxElapsed {
		return 0, model.ErrGenerationExhausted
	}
	s.lastMs = ms
	return ms<<(nodeBits+sequenceBits) | s.node<<sequenceBits | s.seq, nil
}

func (s *Snowflake) elapsed() int64 {
	return s.now().Sub(Epoch).Milliseconds()
}

// Decode splits a code into its timestamp, node and sequence parts.
func Decode(code int64) (ts time.Time, node, seq int64) {
	ms := code >> (nodeBits + sequenceBits)
	node = (code >> sequenceBits) & MaxNodeID
	seq = code & maxSequence
	return Epoch.Add(time.Duration(ms) * time.Millisecond), node, seq
}
