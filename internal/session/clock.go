package session

import (
	"time"

	"github.com/blitzwager/backend/internal/rules"
)

// Snapshot is the authoritative clock view sent with every message that
// carries clock state. Clocks are never ticked server-side: remaining time is
// derived on demand from the stored values and the last transition time, so
// the snapshot stays consistent across process restarts and delivery gaps.
type Snapshot struct {
	WhiteMs      int64  `json:"white_ms"`
	BlackMs      int64  `json:"black_ms"`
	SideToMove   string `json:"side_to_move"`
	ClockRunning bool   `json:"clock_running"`
	ServerNowMs  int64  `json:"server_now_ms"`
}

// SnapshotAt derives the clock view at now. Only the side to move burns time,
// and only while the clock is running.
func SnapshotAt(whiteMs, blackMs int64, sideToMove string, running bool, lastTick, now time.Time) Snapshot {
	if running {
		elapsed := now.Sub(lastTick).Milliseconds()
		if elapsed < 0 {
			elapsed = 0
		}
		if sideToMove == rules.SideWhite {
			whiteMs -= elapsed
		} else {
			blackMs -= elapsed
		}
	}
	if whiteMs < 0 {
		whiteMs = 0
	}
	if blackMs < 0 {
		blackMs = 0
	}
	return Snapshot{
		WhiteMs:      whiteMs,
		BlackMs:      blackMs,
		SideToMove:   sideToMove,
		ClockRunning: running,
		ServerNowMs:  now.UnixMilli(),
	}
}

// Remaining returns the derived remaining time for side.
func (s Snapshot) Remaining(side string) int64 {
	if side == rules.SideWhite {
		return s.WhiteMs
	}
	return s.BlackMs
}

// FlagFallen reports which side, if any, has run out of time. Only the side
// to move can flag while the clock runs.
func (s Snapshot) FlagFallen() (string, bool) {
	if !s.ClockRunning {
		return "", false
	}
	if s.Remaining(s.SideToMove) <= 0 {
		return s.SideToMove, true
	}
	return "", false
}
