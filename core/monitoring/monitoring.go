package monitoring

import "time"

// Monitor reports fatal errors and recovered panics to an external tracker.
type Monitor interface {
	CaptureException(err error, tags map[string]string)
	CapturePanic(v any, tags map[string]string)
	Flush(timeout time.Duration)
}

type NopMonitor struct{}

func (NopMonitor) CaptureException(error, map[string]string) {}
func (NopMonitor) CapturePanic(any, map[string]string)       {}
func (NopMonitor) Flush(time.Duration)                      {}

var current Monitor = NopMonitor{}

// Init sets the global monitor implementation.
func Init(m Monitor) {
	if m != nil {
		current = m
	}
}

// CaptureException records the error with optional tags.
func CaptureException(err error, tags map[string]string) {
	if err == nil {
		return
	}
	current.CaptureException(err, tags)
}

// Recover reports a panic of the calling goroutine tagged with component
// and stops it there. It only works when deferred directly:
//
//	defer monitoring.Recover("inbound")
func Recover(component string) {
	if r := recover(); r != nil {
		current.CapturePanic(r, map[string]string{"component": component})
	}
}

// Flush flushes buffered events.
func Flush(d time.Duration) {
	current.Flush(d)
}
