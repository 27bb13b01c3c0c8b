package statistics

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

// maxRecordedErrors bounds the recent-error list so a long-running service
// cannot grow it without limit.
const maxRecordedErrors = 50

// Statistics aggregates counters for the compression service since start.
type Statistics struct {
	RequestsTotal int64

	Converged    int64
	FloorReached int64
	Exhausted    int64

	ValidationFailures int64
	FormatFailures     int64
	DecodeFailures     int64
	EncodeFailures     int64
	OtherFailures      int64

	BytesIn        int64
	BytesOut       int64
	EncodeAttempts int64

	StartTime time.Time

	mutex        sync.RWMutex
	totalLatency time.Duration
	errors       []StatError
}

// StatError represents an error that occurred while serving a request.
type StatError struct {
	File      string
	Operation string
	Error     string
	Timestamp time.Time
}

// NewStatistics returns a new Statistics instance.
func NewStatistics() *Statistics {
	return &Statistics{
		StartTime: time.Now(),
		errors:    make([]StatError, 0),
	}
}

// IncrementRequests increases the count of received requests by 1.
func (s *Statistics) IncrementRequests() {
	atomic.AddInt64(&s.RequestsTotal, 1)
}

// IncrementConverged increases the count of searches that met their target by 1.
func (s *Statistics) IncrementConverged() {
	atomic.AddInt64(&s.Converged, 1)
}

// IncrementFloorReached increases the count of searches stopped by the size floor by 1.
func (s *Statistics) IncrementFloorReached() {
	atomic.AddInt64(&s.FloorReached, 1)
}

// IncrementExhausted increases the count of searches stopped by the iteration cap by 1.
func (s *Statistics) IncrementExhausted() {
	atomic.AddInt64(&s.Exhausted, 1)
}

// IncrementValidationFailures increases the count of rejected parameter sets by 1.
func (s *Statistics) IncrementValidationFailures() {
	atomic.AddInt64(&s.ValidationFailures, 1)
}

// IncrementFormatFailures increases the count of non-TIFF uploads by 1.
func (s *Statistics) IncrementFormatFailures() {
	atomic.AddInt64(&s.FormatFailures, 1)
}

// IncrementDecodeFailures increases the count of undecodable uploads by 1.
func (s *Statistics) IncrementDecodeFailures() {
	atomic.AddInt64(&s.DecodeFailures, 1)
}

// IncrementEncodeFailures increases the count of encoder failures by 1.
func (s *Statistics) IncrementEncodeFailures() {
	atomic.AddInt64(&s.EncodeFailures, 1)
}

// IncrementOtherFailures increases the count of uncategorized failures by 1.
func (s *Statistics) IncrementOtherFailures() {
	atomic.AddInt64(&s.OtherFailures, 1)
}

// AddBytesIn adds the given number of uploaded bytes to the total.
func (s *Statistics) AddBytesIn(n int64) {
	atomic.AddInt64(&s.BytesIn, n)
}

// AddBytesOut adds the given number of produced bytes to the total.
func (s *Statistics) AddBytesOut(n int64) {
	atomic.AddInt64(&s.BytesOut, n)
}

// AddEncodeAttempts adds the number of encode passes a search performed.
func (s *Statistics) AddEncodeAttempts(n int64) {
	atomic.AddInt64(&s.EncodeAttempts, n)
}

// AddLatency adds one request duration to the running total.
func (s *Statistics) AddLatency(d time.Duration) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.totalLatency += d
}

// AddError records an error that occurred while serving a request. Only the
// most recent entries are kept.
func (s *Statistics) AddError(file, operation, errorMsg string) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	s.errors = append(s.errors, StatError{
		File:      file,
		Operation: operation,
		Error:     errorMsg,
		Timestamp: time.Now(),
	})
	if len(s.errors) > maxRecordedErrors {
		s.errors = s.errors[len(s.errors)-maxRecordedErrors:]
	}
}

// GetCompleted returns the number of searches that produced output.
func (s *Statistics) GetCompleted() int64 {
	return atomic.LoadInt64(&s.Converged) +
		atomic.LoadInt64(&s.FloorReached) +
		atomic.LoadInt64(&s.Exhausted)
}

// GetAverageLatency returns the mean duration of completed requests.
func (s *Statistics) GetAverageLatency() time.Duration {
	completed := s.GetCompleted()
	if completed == 0 {
		return 0
	}
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	return s.totalLatency / time.Duration(completed)
}

// GetUptime returns the time elapsed since the statistics were created.
func (s *Statistics) GetUptime() time.Duration {
	return time.Since(s.StartTime)
}

// Snapshot returns the current counters in a form suitable for JSON APIs.
func (s *Statistics) Snapshot() map[string]interface{} {
	total := atomic.LoadInt64(&s.RequestsTotal)
	completed := s.GetCompleted()

	successRate := 0.0
	if total > 0 {
		successRate = float64(completed) / float64(total)
	}

	return map[string]interface{}{
		"requests_total": total,
		"completed":      completed,
		"converged":      atomic.LoadInt64(&s.Converged),
		"floor_reached":  atomic.LoadInt64(&s.FloorReached),
		"exhausted":      atomic.LoadInt64(&s.Exhausted),
		"failures": map[string]int64{
			"validation":         atomic.LoadInt64(&s.ValidationFailures),
			"unsupported_format": atomic.LoadInt64(&s.FormatFailures),
			"decode":             atomic.LoadInt64(&s.DecodeFailures),
			"encode":             atomic.LoadInt64(&s.EncodeFailures),
			"other":              atomic.LoadInt64(&s.OtherFailures),
		},
		"bytes_in":           atomic.LoadInt64(&s.BytesIn),
		"bytes_out":          atomic.LoadInt64(&s.BytesOut),
		"encode_attempts":    atomic.LoadInt64(&s.EncodeAttempts),
		"success_rate":       successRate,
		"average_latency_ms": s.GetAverageLatency().Milliseconds(),
		"uptime_seconds":     int64(s.GetUptime().Seconds()),
	}
}

// GetSummary returns a formatted summary of all statistics.
func (s *Statistics) GetSummary() string {
	return fmt.Sprintf(`TIFF Compression Statistics:

Requests:
		Total: %d
		Converged: %d
		Floor Reached: %d
		Exhausted: %d

Failures:
		Validation: %d
		Unsupported Format: %d
		Decode: %d
		Encode: %d
		Other: %d

Throughput:
		Bytes In: %s
		Bytes Out: %s
		Encode Attempts: %d
		Average Latency: %v
		Uptime: %v`,
		atomic.LoadInt64(&s.RequestsTotal),
		atomic.LoadInt64(&s.Converged),
		atomic.LoadInt64(&s.FloorReached),
		atomic.LoadInt64(&s.Exhausted),
		atomic.LoadInt64(&s.ValidationFailures),
		atomic.LoadInt64(&s.FormatFailures),
		atomic.LoadInt64(&s.DecodeFailures),
		atomic.LoadInt64(&s.EncodeFailures),
		atomic.LoadInt64(&s.OtherFailures),
		formatBytes(atomic.LoadInt64(&s.BytesIn)),
		formatBytes(atomic.LoadInt64(&s.BytesOut)),
		atomic.LoadInt64(&s.EncodeAttempts),
		s.GetAverageLatency(),
		s.GetUptime().Round(time.Second))
}

// GetErrorSummary returns a summary of recent errors.
func (s *Statistics) GetErrorSummary() string {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	if len(s.errors) == 0 {
		return "No errors recorded"
	}

	result := fmt.Sprintf("Errors (%d recent):\n", len(s.errors))
	for i, err := range s.errors {
		if i >= 10 {
			result += fmt.Sprintf("  ... and %d more errors\n", len(s.errors)-10)
			break
		}
		result += fmt.Sprintf("  [%s] %s: %s - %s\n",
			err.Timestamp.Format("15:04:05"),
			err.Operation,
			err.File,
			err.Error)
	}
	return result
}

// formatBytes returns a human-readable string for a byte count.
func formatBytes(bytes int64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}
	div, exp := int64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(bytes)/float64(div), "KMGTPE"[exp])
}
