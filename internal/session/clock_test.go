package session

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/blitzwager/backend/internal/rules"
)

func TestSnapshotOnlyMoverBurnsTime(t *testing.T) {
	base := time.Now()
	snap := SnapshotAt(300000, 300000, rules.SideWhite, true, base, base.Add(12*time.Second))

	assert.Equal(t, int64(288000), snap.WhiteMs)
	assert.Equal(t, int64(300000), snap.BlackMs)
	assert.Equal(t, rules.SideWhite, snap.SideToMove)
	assert.True(t, snap.ClockRunning)
	assert.Equal(t, base.Add(12*time.Second).UnixMilli(), snap.ServerNowMs)
}

func TestSnapshotStoppedClockIsFrozen(t *testing.T) {
	base := time.Now()
	snap := SnapshotAt(300000, 300000, rules.SideBlack, false, base, base.Add(time.Hour))

	assert.Equal(t, int64(300000), snap.WhiteMs)
	assert.Equal(t, int64(300000), snap.BlackMs)
	_, fallen := snap.FlagFallen()
	assert.False(t, fallen)
}

func TestSnapshotConsistentAcrossGap(t *testing.T) {
	// A delivery gap must not change the derivation: two observers at the
	// same instant see the same remaining time whatever happened in between.
	base := time.Now()
	at := base.Add(37 * time.Second)

	a := SnapshotAt(120000, 95000, rules.SideBlack, true, base, at)
	b := SnapshotAt(120000, 95000, rules.SideBlack, true, base, at)
	assert.Equal(t, a, b)
	assert.Equal(t, int64(95000-37000), a.BlackMs)
	assert.Equal(t, int64(120000), a.WhiteMs)
}

func TestSnapshotClampsAtZero(t *testing.T) {
	base := time.Now()
	snap := SnapshotAt(5000, 60000, rules.SideWhite, true, base, base.Add(time.Minute))

	assert.Equal(t, int64(0), snap.WhiteMs)
	side, fallen := snap.FlagFallen()
	assert.True(t, fallen)
	assert.Equal(t, rules.SideWhite, side)
}

func TestFlagFallenOnlyForSideToMove(t *testing.T) {
	base := time.Now()
	// White is out of time but black is to move: white's clock is not
	// burning, so no flag.
	snap := SnapshotAt(0, 60000, rules.SideBlack, true, base, base)
	_, fallen := snap.FlagFallen()
	assert.False(t, fallen)
}

func TestSnapshotNegativeElapsedIgnored(t *testing.T) {
	base := time.Now()
	snap := SnapshotAt(60000, 60000, rules.SideWhite, true, base, base.Add(-5*time.Second))
	assert.Equal(t, int64(60000), snap.WhiteMs)
}
