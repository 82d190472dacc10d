// Package progress turns item counts into coarse completion signals.
package progress

import "sync"

// Func receives completion percentages: 0 at start, then each multiple of
// ten as it is crossed, then 100.
type Func func(percent int)

// Tracker counts processed items and reports every 10% crossed. It is safe
// for concurrent use.
type Tracker struct {
	mu       sync.Mutex
	total    int
	done     int
	reported int
	report   Func
}

// New starts tracking total items and reports 0%. A nil report is allowed.
func New(total int, report Func) *Tracker {
	t := &Tracker{total: total, report: report}
	t.emit(0)
	return t
}

// Step records one processed item.
func (t *Tracker) Step() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.done++
	if t.total <= 0 {
		return
	}
	pct := t.done * 100 / t.total
	for t.reported+10 <= pct && t.reported+10 < 100 {
		t.reported += 10
		t.emit(t.reported)
	}
}

// Finish reports 100%.
func (t *Tracker) Finish() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.reported < 100 {
		t.reported = 100
		t.emit(100)
	}
}

func (t *Tracker) emit(pct int) {
	if t.report != nil {
		t.report(pct)
	}
}
