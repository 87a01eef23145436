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

package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestFixedChunkSize(t *testing.T) {
	got := FixedChunkSize{Size: 3}.Chunks(7)
	want := [][2]int{{0, 3}, {3, 6}, {6, 7}}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Chunks() mismatch (-want +got):\n%s", diff)
	}
}

func TestFixedChunkCount(t *testing.T) {
	got := FixedChunkCount{Workers: 2, PreferredPerWorker: 2, MinChunkSize: 1}.Chunks(20)
	// 2 workers * 2 preferred = 4 target chunks of size 5 each.
	want := [][2]int{{0, 5}, {5, 10}, {10, 15}, {15, 20}}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Chunks() mismatch (-want +got):\n%s", diff)
	}
}

func TestMapReduceSum(t *testing.T) {
	inputs := make([]int, 100)
	for i := range inputs {
		inputs[i] = i + 1
	}

	sum := func(a, b interface{}) interface{} { return a.(int) + b.(int) }

	got, err := MapReduce(context.Background(), Options{Policy: FixedChunkSize{Size: 7}}, len(inputs),
		func(_ context.Context, start, end int) (interface{}, error) {
			total := 0
			for _, v := range inputs[start:end] {
				total += v
			}
			return total, nil
		}, sum, 0)
	if err != nil {
		t.Fatalf("MapReduce() error = %v", err)
	}
	if got != 5050 {
		t.Errorf("MapReduce() = %v, want 5050", got)
	}
}

func TestMapReduceErrorPropagates(t *testing.T) {
	sentinel := errors.New("boom")
	_, err := MapReduce(context.Background(), Options{}, 4,
		func(_ context.Context, start, end int) (interface{}, error) {
			if start == 2 {
				return nil, sentinel
			}
			return 0, nil
		}, func(a, b interface{}) interface{} { return 0 }, 0)
	if err == nil {
		t.Fatal("MapReduce() error = nil, want non-nil")
	}
	var wf *WorkerFailure
	if !errors.As(err, &wf) {
		t.Fatalf("error = %v, want *WorkerFailure", err)
	}
	if wf.Kind != FailureError {
		t.Errorf("Kind = %v, want FailureError", wf.Kind)
	}
	if !errors.Is(err, sentinel) {
		t.Errorf("errors.Is(err, sentinel) = false, want true")
	}
}

func TestMapReducePanicIsCrash(t *testing.T) {
	_, err := MapReduce(context.Background(), Options{}, 1,
		func(_ context.Context, start, end int) (interface{}, error) {
			panic("ephemeral child died")
		}, func(a, b interface{}) interface{} { return 0 }, 0)
	if err == nil {
		t.Fatal("MapReduce() error = nil, want non-nil")
	}
	var wf *WorkerFailure
	if !errors.As(err, &wf) {
		t.Fatalf("error = %v, want *WorkerFailure", err)
	}
	if wf.Kind != FailureCrash {
		t.Errorf("Kind = %v, want FailureCrash", wf.Kind)
	}
}

func TestMapReduceCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	var started int32

	_, err := MapReduce(ctx, Options{Workers: 1}, 10,
		func(ctx context.Context, start, end int) (interface{}, error) {
			if atomic.AddInt32(&started, 1) == 1 {
				cancel()
			}
			<-ctx.Done()
			return 0, ctx.Err()
		}, func(a, b interface{}) interface{} { return 0 }, 0)

	if !errors.Is(err, ErrCancelled) {
		t.Errorf("MapReduce() error = %v, want ErrCancelled", err)
	}
}

func TestStoreCompareAndSwap(t *testing.T) {
	s := NewStore()
	eq := func(a, b interface{}) bool { return a == b }

	if !s.CompareAndSwap("k", nil, 1, eq) {
		t.Fatal("CompareAndSwap() on absent key with old=nil = false, want true")
	}
	if s.CompareAndSwap("k", 2, 3, eq) {
		t.Fatal("CompareAndSwap() with stale old = true, want false")
	}
	if !s.CompareAndSwap("k", 1, 2, eq) {
		t.Fatal("CompareAndSwap() with current old = false, want true")
	}
	v, ok := s.Get("k")
	if !ok || v != 2 {
		t.Errorf("Get() = (%v, %v), want (2, true)", v, ok)
	}
	if s.Len() != 1 {
		t.Errorf("Len() = %d, want 1", s.Len())
	}
}
