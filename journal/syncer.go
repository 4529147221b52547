package journal

import (
	"time"

	"github.com/fulldump/segmentdb/logging"
)

// StartSyncer syncs the journal every interval until the returned channel is
// closed.
func StartSyncer(m *Manager, interval time.Duration) chan struct{} {
	stopChan := make(chan struct{})

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				if err := m.Sync(); err != nil {
					m.logger.Errorf(logging.NSJournal+"background sync: %s", err)
				}
			case <-stopChan:
				return
			}
		}
	}()

	return stopChan
}
