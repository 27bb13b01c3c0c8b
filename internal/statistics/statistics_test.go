package statistics

import (
	"strings"
	"sync"
	"testing"
	"time"
)

func TestCountersAccumulate(t *testing.T) {
	s := NewStatistics()

	s.IncrementRequests()
	s.IncrementRequests()
	s.IncrementRequests()
	s.IncrementConverged()
	s.IncrementFloorReached()
	s.IncrementValidationFailures()
	s.AddBytesIn(1000)
	s.AddBytesOut(400)
	s.AddEncodeAttempts(7)

	if s.RequestsTotal != 3 {
		t.Errorf("RequestsTotal = %d, want 3", s.RequestsTotal)
	}
	if got := s.GetCompleted(); got != 2 {
		t.Errorf("GetCompleted() = %d, want 2", got)
	}
	if s.BytesIn != 1000 || s.BytesOut != 400 {
		t.Errorf("bytes = %d in / %d out, want 1000/400", s.BytesIn, s.BytesOut)
	}
	if s.EncodeAttempts != 7 {
		t.Errorf("EncodeAttempts = %d, want 7", s.EncodeAttempts)
	}
}

func TestConcurrentIncrements(t *testing.T) {
	s := NewStatistics()
	const workers = 8
	const perWorker = 250

	var wg sync.WaitGroup
	wg.Add(workers)
	for w := 0; w < workers; w++ {
		go func() {
			defer wg.Done()
			for i := 0; i < perWorker; i++ {
				s.IncrementRequests()
				s.IncrementConverged()
				s.AddBytesIn(2)
				s.AddLatency(time.Millisecond)
			}
		}()
	}
	wg.Wait()

	want := int64(workers * perWorker)
	if s.RequestsTotal != want {
		t.Errorf("RequestsTotal = %d, want %d", s.RequestsTotal, want)
	}
	if s.Converged != want {
		t.Errorf("Converged = %d, want %d", s.Converged, want)
	}
	if s.BytesIn != 2*want {
		t.Errorf("BytesIn = %d, want %d", s.BytesIn, 2*want)
	}
	if got := s.GetAverageLatency(); got != time.Millisecond {
		t.Errorf("GetAverageLatency() = %v, want 1ms", got)
	}
}

func TestSnapshotFields(t *testing.T) {
	s := NewStatistics()
	s.IncrementRequests()
	s.IncrementRequests()
	s.IncrementConverged()
	s.IncrementFormatFailures()

	snap := s.Snapshot()
	if snap["requests_total"] != int64(2) {
		t.Errorf("requests_total = %v, want 2", snap["requests_total"])
	}
	if snap["converged"] != int64(1) {
		t.Errorf("converged = %v, want 1", snap["converged"])
	}
	failures, ok := snap["failures"].(map[string]int64)
	if !ok {
		t.Fatalf("failures has unexpected type %T", snap["failures"])
	}
	if failures["unsupported_format"] != 1 {
		t.Errorf("unsupported_format = %d, want 1", failures["unsupported_format"])
	}
	if snap["success_rate"] != 0.5 {
		t.Errorf("success_rate = %v, want 0.5", snap["success_rate"])
	}
}

func TestErrorListIsBounded(t *testing.T) {
	s := NewStatistics()
	for i := 0; i < maxRecordedErrors+20; i++ {
		s.AddError("big.tiff", "compress", "boom")
	}
	s.mutex.RLock()
	n := len(s.errors)
	s.mutex.RUnlock()
	if n != maxRecordedErrors {
		t.Errorf("recorded errors = %d, want %d", n, maxRecordedErrors)
	}
}

func TestSummariesRender(t *testing.T) {
	s := NewStatistics()
	s.IncrementRequests()
	s.IncrementExhausted()
	s.AddBytesIn(5 * 1024 * 1024)
	s.AddError("photo.tiff", "compress", "decode tiff: unexpected EOF")

	summary := s.GetSummary()
	for _, want := range []string{"Exhausted: 1", "Bytes In: 5.0 MB"} {
		if !strings.Contains(summary, want) {
			t.Errorf("summary missing %q:\n%s", want, summary)
		}
	}

	errs := s.GetErrorSummary()
	if !strings.Contains(errs, "photo.tiff") {
		t.Errorf("error summary missing file name:\n%s", errs)
	}
}
