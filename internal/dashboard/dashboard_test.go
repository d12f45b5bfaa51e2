package dashboard

import (
	"context"
	"errors"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/betbot/unitgrid/internal/domain"
	"github.com/betbot/unitgrid/internal/events"
	"github.com/betbot/unitgrid/internal/journal"
	"github.com/betbot/unitgrid/internal/tracker"
	"github.com/betbot/unitgrid/pkg/persistence"
)

type fakeEvents struct {
	recs   []journal.Record
	counts map[events.Kind]int64
	err    error
}

func (f *fakeEvents) Recent(context.Context, events.Kind, int) ([]journal.Record, error) {
	return f.recs, f.err
}

func (f *fakeEvents) CountByKind(context.Context) (map[events.Kind]int64, error) {
	return f.counts, f.err
}

func sampleSnapshot() tracker.Snapshot {
	valley := -2
	return tracker.Snapshot{
		Version:     tracker.SnapshotVersion,
		Symbol:      "ETH",
		EntryPrice:  decimal.NewFromInt(2500),
		UnitSize:    decimal.NewFromInt(25),
		CurrentUnit: -1,
		PeakUnit:    3,
		ValleyUnit:  &valley,
		Phase:       domain.PhaseRetracement,
		Composition: domain.CompositionMixed,
		TrailingStops: []domain.PendingOrder{
			{ID: "s1", Unit: -2, Side: domain.SideTrailingStop, Status: domain.OrderStatusSubmitted, Price: decimal.NewFromInt(2450)},
		},
		TrailingBuys: []domain.PendingOrder{
			{ID: "b1", Unit: 0, Side: domain.SideTrailingBuy, Status: domain.OrderStatusSubmitted, Price: decimal.NewFromInt(2500)},
		},
		RealizedPnL: decimal.RequireFromString("12.5"),
		WindowSize:  4,
		LastPrice:   decimal.NewFromInt(2480),
		SavedAt:     time.Now(),
	}
}

func TestSourceLoadsSnapshotAndEvents(t *testing.T) {
	svc := persistence.NewJSONFileService(t.TempDir())
	store := svc.NewStore("unitgrid", "ETH", "snapshot")
	require.NoError(t, store.Save(sampleSnapshot()))

	ev := &fakeEvents{
		recs:   []journal.Record{{ID: 1, Symbol: "ETH", Kind: events.KindUnitChanged, At: time.Now()}},
		counts: map[events.Kind]int64{events.KindUnitChanged: 1},
	}
	src := &Source{Store: store, Events: ev}
	v, err := src.Load(context.Background())
	require.NoError(t, err)
	assert.True(t, v.HasSnapshot)
	assert.Equal(t, -1, v.Snapshot.CurrentUnit)
	require.NotNil(t, v.Snapshot.ValleyUnit)
	assert.Equal(t, -2, *v.Snapshot.ValleyUnit)
	assert.Len(t, v.Events, 1)
	assert.EqualValues(t, 1, v.Counts[events.KindUnitChanged])
}

func TestSourceMissingSnapshotIsNotAnError(t *testing.T) {
	svc := persistence.NewJSONFileService(t.TempDir())
	src := &Source{Store: svc.NewStore("unitgrid", "BTC", "snapshot")}
	v, err := src.Load(context.Background())
	require.NoError(t, err)
	assert.False(t, v.HasSnapshot)
	assert.Contains(t, Render(v, nil, 100), "等待快照")
}

func TestSourcePropagatesEventErrors(t *testing.T) {
	src := &Source{Events: &fakeEvents{err: errors.New("db locked")}}
	_, err := src.Load(context.Background())
	assert.Error(t, err)
}

func TestRenderShowsState(t *testing.T) {
	v := View{
		Snapshot:    sampleSnapshot(),
		HasSnapshot: true,
		Events:      []journal.Record{{Kind: events.KindOrderRejected, At: time.Now()}},
		LoadedAt:    time.Now(),
	}
	out := Render(v, nil, 140)
	for _, want := range []string{"ETH", "RETRACEMENT", "Valley: -2", "12.50", "order_rejected", "unit   -2"} {
		assert.Contains(t, out, want)
	}
}

func TestModelUpdate(t *testing.T) {
	m := newModel(context.Background(), &Source{}, time.Second)

	next, cmd := m.Update(viewMsg{view: View{HasSnapshot: true, Snapshot: sampleSnapshot()}})
	assert.NotNil(t, cmd)
	mm := next.(model)
	assert.True(t, mm.view.HasSnapshot)
	assert.Nil(t, mm.err)

	next, _ = mm.Update(viewMsg{err: errors.New("boom")})
	mm = next.(model)
	assert.Error(t, mm.err)
	assert.True(t, mm.view.HasSnapshot, "keeps last good view")

	_, cmd = mm.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("q")})
	require.NotNil(t, cmd)
	assert.IsType(t, tea.QuitMsg{}, cmd())
}
