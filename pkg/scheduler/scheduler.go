// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

// Package scheduler runs the background maintenance sweep: idle
// sessions are evicted and expired checkpoints removed.
package scheduler

import (
	"log"
	"time"

	"github.com/engramlabs/engram-mcp/internal/checkpoint"
	"github.com/engramlabs/engram-mcp/internal/session"
)

// Scheduler handles periodic maintenance
type Scheduler struct {
	sessions      *session.Manager
	checkpoints   *checkpoint.Manager
	interval      time.Duration
	sessionTTL    time.Duration
	checkpointAge time.Duration
	stopChan      chan bool
}

// NewScheduler creates a new scheduler
func NewScheduler(sessions *session.Manager, checkpoints *checkpoint.Manager,
	interval, sessionTTL, checkpointAge time.Duration) *Scheduler {
	return &Scheduler{
		sessions:      sessions,
		checkpoints:   checkpoints,
		interval:      interval,
		sessionTTL:    sessionTTL,
		checkpointAge: checkpointAge,
		stopChan:      make(chan bool),
	}
}

// Start begins the scheduler
func (s *Scheduler) Start() {
	ticker := time.NewTicker(s.interval)
	go func() {
		for {
			select {
			case <-ticker.C:
				s.sweep()
			case <-s.stopChan:
				ticker.Stop()
				return
			}
		}
	}()
}

// Stop stops the scheduler
func (s *Scheduler) Stop() {
	s.stopChan <- true
}

func (s *Scheduler) sweep() {
	if swept, err := s.sessions.Sweep(s.sessionTTL); err != nil {
		log.Printf("session sweep failed: %v", err)
	} else if swept > 0 {
		log.Printf("swept %d idle sessions", swept)
	}

	if removed, err := s.checkpoints.CleanupExpired(s.checkpointAge); err != nil {
		log.Printf("checkpoint cleanup failed: %v", err)
	} else if removed > 0 {
		log.Printf("removed %d expired checkpoints", removed)
	}
}
