package persist

import (
	"context"
	"time"
)

// startAutoSave starts the background flush loop. Caller holds lifeMu.
func (s *Store) startAutoSave() {
	if s.opts.autoSaveInterval <= 0 {
		return
	}
	s.stopCh = make(chan struct{})
	s.doneCh = make(chan struct{})
	go s.runAutoSave(s.stopCh, s.doneCh, s.opts.autoSaveInterval)
}

// stopAutoSave signals the loop and waits for it to exit. A flush in
// progress completes first. Caller holds lifeMu.
func (s *Store) stopAutoSave() {
	if s.stopCh == nil {
		return
	}
	close(s.stopCh)
	<-s.doneCh
	s.stopCh = nil
	s.doneCh = nil
}

func (s *Store) runAutoSave(stop <-chan struct{}, done chan<- struct{}, interval time.Duration) {
	defer close(done)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if !s.Store.Connected() {
				continue
			}
			s.saveMu.Lock()
			_ = s.flushLocked(context.Background(), triggerInterval)
			s.saveMu.Unlock()
		}
	}
}
