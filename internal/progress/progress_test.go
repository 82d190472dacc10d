package progress

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTrackerReportsEveryTenPercent(t *testing.T) {
	var got []int
	tr := New(25, func(p int) { got = append(got, p) })
	for i := 0; i < 25; i++ {
		tr.Step()
	}
	tr.Finish()
	tr.Finish()

	assert.Equal(t, []int{0, 10, 20, 30, 40, 50, 60, 70, 80, 90, 100}, got)
}

func TestTrackerSmallTotals(t *testing.T) {
	var got []int
	tr := New(3, func(p int) { got = append(got, p) })
	tr.Step()
	tr.Step()
	tr.Step()
	tr.Finish()

	assert.Equal(t, []int{0, 10, 20, 30, 40, 50, 60, 70, 80, 90, 100}, got)
}

func TestTrackerConcurrentSteps(t *testing.T) {
	var mu sync.Mutex
	seen := map[int]int{}
	tr := New(1000, func(p int) {
		mu.Lock()
		seen[p]++
		mu.Unlock()
	})

	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 125; i++ {
				tr.Step()
			}
		}()
	}
	wg.Wait()
	tr.Finish()

	for p := 0; p <= 100; p += 10 {
		assert.Equal(t, 1, seen[p], "percent %d", p)
	}
}

func TestTrackerEmptyTotal(t *testing.T) {
	var got []int
	tr := New(0, func(p int) { got = append(got, p) })
	tr.Step()
	tr.Finish()
	assert.Equal(t, []int{0, 100}, got)
}
