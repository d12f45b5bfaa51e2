package phase

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/betbot/unitgrid/internal/domain"
)

func TestDerive(t *testing.T) {
	cases := []struct {
		prev domain.CyclePhase
		comp domain.Composition
		want domain.CyclePhase
	}{
		{domain.PhaseAdvance, domain.CompositionFullLong, domain.PhaseAdvance},
		{domain.PhaseAdvance, domain.CompositionMixed, domain.PhaseRetracement},
		{domain.PhaseRetracement, domain.CompositionMixed, domain.PhaseRetracement},
		{domain.PhaseRetracement, domain.CompositionFullCash, domain.PhaseDecline},
		{domain.PhaseDecline, domain.CompositionMixed, domain.PhaseRecovery},
		{domain.PhaseRecovery, domain.CompositionMixed, domain.PhaseRecovery},
		{domain.PhaseRecovery, domain.CompositionFullLong, domain.PhaseAdvance},
		{domain.PhaseRetracement, domain.CompositionFullLong, domain.PhaseAdvance},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, Derive(tc.prev, tc.comp), "%s + %s", tc.prev, tc.comp)
	}
}

func TestFullCycle(t *testing.T) {
	tr := New(0)

	// advance to peak 3
	for u := 1; u <= 3; u++ {
		tr.Update(domain.CompositionFullLong, u)
	}
	assert.Equal(t, 3, tr.State().PeakUnit)
	assert.True(t, tr.AtPeak())

	tx := tr.Update(domain.CompositionMixed, 2)
	assert.True(t, tx.Changed)
	assert.Equal(t, domain.PhaseRetracement, tx.New.Phase)
	assert.Equal(t, 3, tx.New.PeakUnit)
	assert.False(t, tr.AtPeak())

	tr.Update(domain.CompositionMixed, 1)
	tr.Update(domain.CompositionMixed, 0)
	tx = tr.Update(domain.CompositionFullCash, -1)
	assert.Equal(t, domain.PhaseDecline, tx.New.Phase)
	v, ok := tx.New.Valley()
	require.True(t, ok)
	assert.Equal(t, -1, v)

	tr.Update(domain.CompositionFullCash, -2)
	v, _ = tr.State().Valley()
	assert.Equal(t, -2, v)

	tx = tr.Update(domain.CompositionMixed, -1)
	assert.Equal(t, domain.PhaseRecovery, tx.New.Phase)
	v, _ = tr.State().Valley()
	assert.Equal(t, -2, v, "valley fixed during recovery")

	tr.Update(domain.CompositionMixed, 0)
	tr.Update(domain.CompositionMixed, 1)
	tx = tr.Update(domain.CompositionFullLong, 2)
	assert.Equal(t, domain.PhaseAdvance, tx.New.Phase)
	assert.True(t, tx.ResetDue)

	tr.Reset(2)
	s := tr.State()
	assert.Equal(t, 2, s.PeakUnit)
	assert.Nil(t, s.ValleyUnit)
}

func TestRetracementReversalIsNotReset(t *testing.T) {
	tr := New(0)
	tr.Update(domain.CompositionFullLong, 1)
	tr.Update(domain.CompositionMixed, 0)
	tx := tr.Update(domain.CompositionFullLong, 1)
	assert.Equal(t, domain.PhaseAdvance, tx.New.Phase)
	assert.False(t, tx.ResetDue)
	assert.Equal(t, 1, tx.New.PeakUnit)
}

func TestPeakNeverBelowCurrentWhileAdvancing(t *testing.T) {
	tr := New(0)
	for u := 1; u <= 10; u++ {
		tr.Update(domain.CompositionFullLong, u)
		s := tr.State()
		assert.GreaterOrEqual(t, s.PeakUnit, s.CurrentUnit)
	}
}

func TestStateIsCopied(t *testing.T) {
	tr := New(0)
	tr.Update(domain.CompositionFullCash, -1)
	s := tr.State()
	*s.ValleyUnit = 42
	v, _ := tr.State().Valley()
	assert.Equal(t, -1, v)

	r := Restore(tr.State())
	assert.Equal(t, tr.State(), r.State())
}
