package logger

import (
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// New creates a logger for the given level and format ("json" or "text")
func New(level, format string) *logrus.Logger {
	return NewWithOutput(level, format, os.Stdout)
}

// NewWithOutput is New with an explicit writer
func NewWithOutput(level, format string, out io.Writer) *logrus.Logger {
	log := logrus.New()

	if strings.EqualFold(format, "text") {
		log.SetFormatter(&logrus.TextFormatter{
			FullTimestamp:   true,
			TimestampFormat: "2006-01-02T15:04:05.000Z07:00",
		})
	} else {
		log.SetFormatter(&logrus.JSONFormatter{
			TimestampFormat: "2006-01-02T15:04:05.000Z07:00",
			FieldMap: logrus.FieldMap{
				logrus.FieldKeyTime:  "time",
				logrus.FieldKeyLevel: "level",
				logrus.FieldKeyMsg:   "msg",
				logrus.FieldKeyFunc:  "func",
			},
		})
	}

	log.SetOutput(out)

	parsed, err := logrus.ParseLevel(strings.ToLower(level))
	if err != nil {
		parsed = logrus.InfoLevel
	}
	log.SetLevel(parsed)

	return log
}

// RequestMetrics holds aggregated latencies for one endpoint
type RequestMetrics struct {
	Count      int           `json:"count"`
	TotalTime  time.Duration `json:"total_time"`
	MinLatency time.Duration `json:"min_latency"`
	MaxLatency time.Duration `json:"max_latency"`
	AvgLatency time.Duration `json:"avg_latency"`
}

// RequestLogger logs failed requests immediately and summarizes successful ones in
// batches, so polling dashboards do not flood the log.
type RequestLogger struct {
	log *logrus.Logger

	mutex      sync.Mutex
	metrics    map[string]*RequestMetrics
	batchCount int
	batchSize  int
}

// NewRequestLogger creates a request logger that flushes every batchSize successes
func NewRequestLogger(log *logrus.Logger, batchSize int) *RequestLogger {
	if batchSize <= 0 {
		batchSize = 100
	}
	return &RequestLogger{
		log:       log,
		metrics:   make(map[string]*RequestMetrics),
		batchSize: batchSize,
	}
}

// LogRequest records one served request
func (rl *RequestLogger) LogRequest(method, endpoint string, statusCode int, latency time.Duration, fields logrus.Fields) {
	if statusCode >= 200 && statusCode < 300 {
		rl.batchSuccess(method, endpoint, latency)
		return
	}

	entry := rl.log.WithFields(fields)
	if statusCode >= 500 {
		entry.Errorf("%s %s - Status: %d, Latency: %v", method, endpoint, statusCode, latency)
	} else {
		entry.Warnf("%s %s - Status: %d, Latency: %v", method, endpoint, statusCode, latency)
	}
}

func (rl *RequestLogger) batchSuccess(method, endpoint string, latency time.Duration) {
	rl.mutex.Lock()
	defer rl.mutex.Unlock()

	key := method + " " + endpoint
	m := rl.metrics[key]
	if m == nil {
		m = &RequestMetrics{MinLatency: latency, MaxLatency: latency}
		rl.metrics[key] = m
	}

	m.Count++
	m.TotalTime += latency
	if latency < m.MinLatency {
		m.MinLatency = latency
	}
	if latency > m.MaxLatency {
		m.MaxLatency = latency
	}
	m.AvgLatency = m.TotalTime / time.Duration(m.Count)

	rl.batchCount++
	if rl.batchCount >= rl.batchSize {
		rl.flushLocked()
	}
}

func (rl *RequestLogger) flushLocked() {
	if rl.batchCount == 0 {
		return
	}

	rl.log.WithFields(logrus.Fields{
		"batch_summary":  true,
		"total_requests": rl.batchCount,
		"endpoints":      rl.metrics,
	}).Info("Request batch summary")

	rl.metrics = make(map[string]*RequestMetrics)
	rl.batchCount = 0
}

// Flush logs any pending batch
func (rl *RequestLogger) Flush() {
	rl.mutex.Lock()
	defer rl.mutex.Unlock()
	rl.flushLocked()
}

// Pending returns the number of successful requests not yet summarized
func (rl *RequestLogger) Pending() int {
	rl.mutex.Lock()
	defer rl.mutex.Unlock()
	return rl.batchCount
}
