package hmip

import "time"

// MetricsObserver receives counters from the REST gateway and the session manager
type MetricsObserver interface {
	ObserveRESTCall(path string, statusCode int, duration time.Duration)
	ObserveEvent(eventType EventType)
	ObserveReconnect()
	SetConnected(connected bool)
}

type noopMetrics struct{}

func (noopMetrics) ObserveRESTCall(string, int, time.Duration) {}
func (noopMetrics) ObserveEvent(EventType)                     {}
func (noopMetrics) ObserveReconnect()                          {}
func (noopMetrics) SetConnected(bool)                          {}
