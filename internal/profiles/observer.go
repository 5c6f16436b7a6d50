package profiles

import "time"

// Observer receives operational signals from the manager. *metrics.Metrics
// implements it.
type Observer interface {
	LifecycleOp(op string, err error)
	KDFDuration(d time.Duration)
	ProfileCount(regular, guests int)
	EmergencyCleanup()
}

type nopObserver struct{}

func (nopObserver) LifecycleOp(string, error) {}
func (nopObserver) KDFDuration(time.Duration) {}
func (nopObserver) ProfileCount(int, int) {}
func (nopObserver) EmergencyCleanup() {}
