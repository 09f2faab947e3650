// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package catalog

import (
	"sync"
	"testing"
	"time"
)

func TestPutRejectsDuplicateWrites(t *testing.T) {
	c := New()
	if err := c.Put("a__out", 1); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := c.Put("a__out", 2); err == nil {
		t.Fatal("expected duplicate write to fail")
	}
	v, _ := c.Get("a__out")
	if v != 1 {
		t.Errorf("duplicate write must not clobber: got %v", v)
	}
}

func TestReplaceAndDelete(t *testing.T) {
	c := New()
	c.Replace("a__out", 1)
	c.Replace("a__out", 2)
	v, _ := c.Get("a__out")
	if v != 2 {
		t.Errorf("expected 2, got %v", v)
	}

	c.Delete("a__out")
	if c.Has("a__out") {
		t.Error("expected dataset to be gone after Delete")
	}
	if err := c.Put("a__out", 3); err != nil {
		t.Errorf("Put after Delete should succeed: %v", err)
	}
}

func TestKeysSortedAndSnapshotIsolated(t *testing.T) {
	c := New()
	c.Replace("b__y", 2)
	c.Replace("a__x", 1)

	keys := c.Keys()
	if len(keys) != 2 || keys[0] != "a__x" || keys[1] != "b__y" {
		t.Errorf("expected sorted keys, got %v", keys)
	}

	snap := c.Snapshot()
	snap["c__z"] = 3
	if c.Has("c__z") {
		t.Error("mutating a snapshot must not affect the catalog")
	}
}

func TestConcurrentWritersDistinctKeys(t *testing.T) {
	c := New()
	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if err := c.Put(string(rune('a'+i%26))+"__"+string(rune('0'+i/26)), i); err != nil {
				t.Errorf("unexpected error: %v", err)
			}
		}(i)
	}
	wg.Wait()
	if c.Len() != 32 {
		t.Errorf("expected 32 datasets, got %d", c.Len())
	}
}

func TestLineageOrderAndReset(t *testing.T) {
	l := NewLineage()
	l.Add(Record{Step: "a", Status: StatusSuccess, Duration: time.Second})
	l.Add(Record{Step: "b", Status: StatusFailed})
	l.Add(Record{Step: "a", Status: StatusCached, Cached: true}) // replace keeps order

	all := l.All()
	if len(all) != 2 {
		t.Fatalf("expected 2 records, got %d", len(all))
	}
	if all[0].Step != "a" || all[1].Step != "b" {
		t.Errorf("expected completion order [a b], got %v", all)
	}
	if !all[0].Cached {
		t.Error("replacement record must win")
	}

	l.Reset()
	if l.Len() != 0 {
		t.Error("expected empty lineage after Reset")
	}
}
