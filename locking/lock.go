package locking

import (
	"runtime"
	"sync"
	"time"

	"github.com/fulldump/segmentdb/dberr"
)

const (
	DefaultTimeout = 15 * time.Minute

	// DefaultDetectInterval is the number of failed attempts between two
	// deadlock checks.
	DefaultDetectInterval = 5

	spinIterations = 64
	maxBackoff     = time.Millisecond
)

// Lock guards one collection. Acquisition spins on try-lock so a waiting
// transaction can give up on timeout or when the detector finds a cycle.
type Lock struct {
	Resource       uint64
	Detector       *Detector
	DetectInterval int

	rw sync.RWMutex
}

func NewLock(resource uint64, detector *Detector) *Lock {
	return &Lock{
		Resource:       resource,
		Detector:       detector,
		DetectInterval: DefaultDetectInterval,
	}
}

// BeginRead acquires a shared lock for trx. detect enables registration with
// the deadlock detector.
func (l *Lock) BeginRead(trx TrxID, timeout time.Duration, detect bool) error {
	return l.begin(trx, false, timeout, detect, l.rw.TryRLock)
}

// BeginWrite acquires the exclusive lock for trx.
func (l *Lock) BeginWrite(trx TrxID, timeout time.Duration, detect bool) error {
	return l.begin(trx, true, timeout, detect, l.rw.TryLock)
}

func (l *Lock) begin(trx TrxID, write bool, timeout time.Duration, detect bool, try func() bool) error {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	interval := l.DetectInterval
	if interval <= 0 {
		interval = DefaultDetectInterval
	}
	detect = detect && l.Detector != nil

	deadline := time.Now().Add(timeout)
	wasBlocked := false
	backoff := time.Microsecond

	for iterations := 0; ; iterations++ {
		if try() {
			if detect {
				l.Detector.AddActive(trx, l.Resource, write, wasBlocked)
			}
			return nil
		}

		if detect {
			if !wasBlocked {
				wasBlocked = true
				if err := l.Detector.SetBlocked(trx, l.Resource, write); err != nil {
					return err
				}
			} else if iterations%interval == 0 {
				if err := l.Detector.DetectDeadlock(trx); err != nil {
					return err
				}
			}
		}

		if time.Now().After(deadline) {
			if wasBlocked {
				l.Detector.UnsetBlocked(trx)
			}
			mode := "read"
			if write {
				mode = "write"
			}
			return dberr.New(dberr.KindLockTimeout, "%s lock on collection %d after %s", mode, l.Resource, timeout)
		}

		if iterations < spinIterations {
			runtime.Gosched()
			continue
		}
		time.Sleep(backoff)
		if backoff < maxBackoff {
			backoff *= 2
		}
	}
}

func (l *Lock) EndRead(trx TrxID) {
	if l.Detector != nil {
		l.Detector.UnsetActive(trx, l.Resource)
	}
	l.rw.RUnlock()
}

func (l *Lock) EndWrite(trx TrxID) {
	if l.Detector != nil {
		l.Detector.UnsetActive(trx, l.Resource)
	}
	l.rw.Unlock()
}
