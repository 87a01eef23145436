// Copyright 2020 Google LLC
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// https://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package scheduler is the parallel work-stealing map-reduce scheduler
// (this module §4.10, C10) the fixpoint (C9) uses to distribute independent
// per-callable analyses across concurrent workers within one iteration.
//
// this module describes a fork-based, multi-process worker pool; this module §9's
// design notes explicitly sanction substituting a thread/goroutine pool
// "where the hosting runtime offers one, as long as the single-
// assignment-per-key policy on the model store is preserved" — Go's
// goroutines plus a bounded semaphore are exactly that substitution, so
// this package has no process-fork, no ephemeral-child, and no shared
// memory segment; it has a bounded goroutine pool, a context for
// cancellation, and a CAS-guarded in-process Store standing in for
// this module §4.10's shared-memory table.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
)

// ChunkPolicy splits n inputs into a set of index ranges ("chunks") to be
// mapped independently (this module §4.10 "map_reduce(policy, ...)").
type ChunkPolicy interface {
	// Chunks returns, for n total inputs, a slice of [start, end) index
	// ranges covering [0, n) exactly once each, in order.
	Chunks(n int) [][2]int
}

// FixedChunkSize splits inputs into chunks of at most Size elements each.
type FixedChunkSize struct{ Size int }

// Chunks implements ChunkPolicy.
func (p FixedChunkSize) Chunks(n int) [][2]int {
	size := p.Size
	if size <= 0 {
		size = 1
	}
	var chunks [][2]int
	for start := 0; start < n; start += size {
		end := start + size
		if end > n {
			end = n
		}
		chunks = append(chunks, [2]int{start, end})
	}
	return chunks
}

// FixedChunkCount targets roughly Workers*PreferredPerWorker chunks, each
// no smaller than MinChunkSize, mirroring this module §4.10's
// "fixed_chunk_count(k, min_chunk_size, preferred_chunks_per_worker)".
type FixedChunkCount struct {
	Workers            int
	MinChunkSize       int
	PreferredPerWorker int
}

// Chunks implements ChunkPolicy.
func (p FixedChunkCount) Chunks(n int) [][2]int {
	workers := p.Workers
	if workers <= 0 {
		workers = 1
	}
	preferred := p.PreferredPerWorker
	if preferred <= 0 {
		preferred = 1
	}
	minSize := p.MinChunkSize
	if minSize <= 0 {
		minSize = 1
	}

	targetChunks := workers * preferred
	if targetChunks <= 0 {
		targetChunks = 1
	}
	size := n / targetChunks
	if size < minSize {
		size = minSize
	}
	return FixedChunkSize{Size: size}.Chunks(n)
}

// FailureKind distinguishes a worker crash (process-level, unrecoverable
// for that unit of work) from a reported application error (this module
// §4.10/§7: "A worker that crashes ... raises a typed failure ... A
// worker that reports an exception ... delivers a structured error with
// a backtrace").
type FailureKind int

const (
	// FailureError is a normal error returned by the map function itself.
	FailureError FailureKind = iota
	// FailureCrash models an unrecoverable worker crash (the goroutine
	// pool's analogue of a forked child's abnormal exit/OOM signal):
	// produced only when the map function panics.
	FailureCrash
)

// WorkerFailure is the typed failure this module §4.10/§7 requires the
// scheduler surface to the caller, distinguishing crash from error so the
// caller can decide whether a retry is meaningful.
type WorkerFailure struct {
	Kind      FailureKind
	ChunkFrom int
	ChunkTo   int
	Err       error
	Stack     string
}

func (f *WorkerFailure) Error() string {
	if f.Kind == FailureCrash {
		return fmt.Sprintf("worker crashed processing chunk [%d,%d): %v\n%s", f.ChunkFrom, f.ChunkTo, f.Err, f.Stack)
	}
	return fmt.Sprintf("worker error processing chunk [%d,%d): %v", f.ChunkFrom, f.ChunkTo, f.Err)
}

func (f *WorkerFailure) Unwrap() error { return f.Err }

// ErrCancelled is returned by MapReduce when ctx is cancelled before all
// chunks complete (this module §4.10 "the scheduler may send a termination
// signal to pending workers when an outer operation aborts").
var ErrCancelled = errors.New("scheduler: cancelled")

// MapFunc maps one chunk of inputs[start:end] to a partial accumulator.
// It must be pure with respect to other concurrently running chunks —
// the only mutable shared state a MapFunc may touch safely is a Store,
// whose single-writer-per-key CAS contract makes concurrent access safe.
type MapFunc func(ctx context.Context, start, end int) (interface{}, error)

// ReduceFunc combines two partial accumulators. It must be associative
// and commutative (this module §5: "the order of map callbacks is
// unspecified; the reduce function must be associative and
// commutative") since chunk completion order is not guaranteed.
type ReduceFunc func(a, b interface{}) interface{}

// MaxConcurrency bounds how many chunks run at once when opts.Workers is
// unset or non-positive.
const MaxConcurrency = 16

// Options configures one MapReduce call.
type Options struct {
	// Workers bounds concurrent in-flight chunks (this module §4.10's
	// "fixed-size pool of ... worker processes"). Defaults to
	// MaxConcurrency.
	Workers int
	// Policy splits the input range into chunks. Defaults to
	// FixedChunkSize{Size: 1} (one input per chunk, maximal parallelism).
	Policy ChunkPolicy
}

// MapReduce runs f over n inputs split into chunks by opts.Policy,
// combining partial results with reduce starting from initial, and
// returns the combined accumulator (this module §4.10's public API:
// "map_reduce(policy, map, reduce, initial, inputs) -> acc").
//
// A chunk whose map function panics is recovered and reported as a
// FailureKind=FailureCrash *WorkerFailure (the goroutine-pool analogue of
// a forked child's abnormal exit); a chunk whose map function returns a
// plain error is reported as FailureKind=FailureError. The first failure
// (by either kind) cancels the remaining chunks and is returned; already-
// completed chunks' partial results are discarded, matching this module
// §4.10's "in-flight requests are not cancelled gracefully and must be
// assumed lost" for the chunks still running at that moment.
func MapReduce(ctx context.Context, opts Options, n int, f MapFunc, reduce ReduceFunc, initial interface{}) (interface{}, error) {
	if n == 0 {
		return initial, nil
	}

	workers := opts.Workers
	if workers <= 0 {
		workers = MaxConcurrency
	}
	policy := opts.Policy
	if policy == nil {
		policy = FixedChunkSize{Size: 1}
	}
	chunks := policy.Chunks(n)

	sem := semaphore.NewWeighted(int64(workers))
	group, gctx := errgroup.WithContext(ctx)

	results := make([]interface{}, len(chunks))
	for i, ch := range chunks {
		i, ch := i, ch
		if err := sem.Acquire(gctx, 1); err != nil {
			if waitErr := group.Wait(); waitErr != nil && ctx.Err() == nil {
				return nil, waitErr
			}
			return nil, ErrCancelled
		}
		group.Go(func() (err error) {
			defer sem.Release(1)
			defer func() {
				if r := recover(); r != nil {
					err = &WorkerFailure{
						Kind:      FailureCrash,
						ChunkFrom: ch[0],
						ChunkTo:   ch[1],
						Err:       fmt.Errorf("%v", r),
						Stack:     string(debug.Stack()),
					}
				}
			}()
			out, mapErr := f(gctx, ch[0], ch[1])
			if mapErr != nil {
				return &WorkerFailure{Kind: FailureError, ChunkFrom: ch[0], ChunkTo: ch[1], Err: mapErr}
			}
			results[i] = out
			return nil
		})
	}

	if err := group.Wait(); err != nil {
		if ctx.Err() != nil {
			return nil, ErrCancelled
		}
		return nil, err
	}

	acc := initial
	for _, r := range results {
		acc = reduce(acc, r)
	}
	return acc, nil
}

// Store is the off-heap key-value table this module §4.10 describes as
// holding "the authoritative model per callable, indexed by canonical
// target string." This in-process implementation substitutes a mutex-
// guarded map for the fork-inherited shared-memory segment the original
// design assumes — this module §9's "Shared memory across processes" note
// explicitly allows an RPC-or-memory-mapped substitute "without fork-
// inherit semantics"; since this scheduler is goroutine-based, ordinary
// shared memory behind a mutex already satisfies the single-writer-per-
// key contract, with no IPC required.
type Store struct {
	mu   sync.RWMutex
	data map[string]interface{}
}

// NewStore builds an empty shared store.
func NewStore() *Store {
	return &Store{data: make(map[string]interface{})}
}

// Get returns the value stored at key, or (nil, false) if absent.
func (s *Store) Get(key string) (interface{}, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.data[key]
	return v, ok
}

// Put unconditionally stores value at key.
func (s *Store) Put(key string, value interface{}) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[key] = value
}

// CompareAndSwap stores new at key iff the current value equals old
// under cmp, reporting whether the swap happened (this module §4.10
// "atomic_compare_and_swap(key, old, new)", §5's "single-writer per key"
// policy made concrete).
func (s *Store) CompareAndSwap(key string, old, new interface{}, cmp func(a, b interface{}) bool) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.data[key]
	if !ok {
		if old != nil {
			return false
		}
	} else if !cmp(current, old) {
		return false
	}
	s.data[key] = new
	return true
}

// Len reports how many keys are currently stored.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.data)
}
