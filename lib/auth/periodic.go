/*
 * AuthGate
 * Copyright (C) 2025  Gravitational, Inc.
 *
 * This program is free software: you can redistribute it and/or modify
 * it under the terms of the GNU Affero General Public License as published by
 * the Free Software Foundation, either version 3 of the License, or
 * (at your option) any later version.
 *
 * This program is distributed in the hope that it will be useful,
 * but WITHOUT ANY WARRANTY; without even the implied warranty of
 * MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
 * GNU Affero General Public License for more details.
 *
 * You should have received a copy of the GNU Affero General Public License
 * along with this program.  If not, see <http://www.gnu.org/licenses/>.
 */

package auth

import (
	"context"
)

const (
	recordChallenges = "challenges"
	recordSessions   = "sessions"
)

// RunPeriodicOperations sweeps expired challenges and sessions on the
// configured interval until the context is canceled. Reads filter by
// expiry on their own, so the sweeper only reclaims space; nothing
// depends on it for correctness.
func (s *Server) RunPeriodicOperations(ctx context.Context) {
	log.InfoContext(ctx, "Starting periodic operations.", "sweep_interval", s.cfg.SweepInterval)
	ticker := s.clock.NewTicker(s.cfg.SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.Chan():
			s.sweepExpiredRecords(ctx)
		case <-ctx.Done():
			return
		}
	}
}

func (s *Server) sweepExpiredRecords(ctx context.Context) {
	if n, err := s.DeleteExpiredChallenges(ctx); err != nil {
		log.WarnContext(ctx, "Failed to sweep expired challenges.", "error", err)
	} else if n > 0 {
		expiredRecordsSwept.WithLabelValues(recordChallenges).Add(float64(n))
		log.DebugContext(ctx, "Swept expired challenges.", "count", n)
	}
	if n, err := s.DeleteExpiredSessions(ctx); err != nil {
		log.WarnContext(ctx, "Failed to sweep expired sessions.", "error", err)
	} else if n > 0 {
		expiredRecordsSwept.WithLabelValues(recordSessions).Add(float64(n))
		log.DebugContext(ctx, "Swept expired sessions.", "count", n)
	}
}
