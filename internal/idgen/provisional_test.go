package idgen

import (
	"sync"
	"testing"
	"time"
)

func TestGenerateMonotonic(t *testing.T) {
	g := NewGenerator()

	prev := g.Generate()
	for i := 0; i < 1000; i++ {
		next := g.Generate()
		if next <= prev {
			t.Fatalf("ID 非单调递增: prev=%d next=%d", prev, next)
		}
		prev = next
	}
}

func TestGenerateClockSkew(t *testing.T) {
	fixed := time.Unix(1_700_000_000, 0)
	g := &Generator{now: func() time.Time { return fixed }}

	a := g.Generate()
	b := g.Generate()
	if b != a+1 {
		t.Errorf("期望同一时刻顺延一位, a=%d b=%d", a, b)
	}

	// 时钟回拨
	g.now = func() time.Time { return fixed.Add(-time.Second) }
	c := g.Generate()
	if c <= b {
		t.Errorf("时钟回拨后 ID 不应回退: b=%d c=%d", b, c)
	}
}

func TestGenerateConcurrent(t *testing.T) {
	g := NewGenerator()

	const workers = 8
	const perWorker = 500
	ids := make(chan ID, workers*perWorker)

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perWorker; i++ {
				ids <- g.Generate()
			}
		}()
	}
	wg.Wait()
	close(ids)

	seen := make(map[ID]struct{}, workers*perWorker)
	for id := range ids {
		if _, dup := seen[id]; dup {
			t.Fatalf("重复 ID: %d", id)
		}
		seen[id] = struct{}{}
	}
}

func TestClientMsgID(t *testing.T) {
	if got := ClientMsgID(ID(42)); got != "c42" {
		t.Errorf("期望 c42, 实际 %s", got)
	}
}
