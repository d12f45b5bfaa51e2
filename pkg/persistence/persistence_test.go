package persistence

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type state struct {
	Unit  int             `json:"unit"`
	Price decimal.Decimal `json:"price"`
}

func testStores(t *testing.T) map[string]Service {
	t.Helper()
	jsonSvc, err := Open(Options{Driver: DriverJSON, Dir: t.TempDir()})
	require.NoError(t, err)
	badgerSvc, err := Open(Options{Driver: DriverBadger, Dir: t.TempDir()})
	require.NoError(t, err)
	t.Cleanup(func() { _ = badgerSvc.Close() })
	return map[string]Service{"json": jsonSvc, "badger": badgerSvc}
}

func TestStoreSaveLoad(t *testing.T) {
	for name, svc := range testStores(t) {
		t.Run(name, func(t *testing.T) {
			store := svc.NewStore("snapshot", "ETH", "tracker")
			assert.Equal(t, "snapshot:ETH:tracker", store.Key())

			var got state
			assert.True(t, IsNotExists(store.Load(&got)))

			want := state{Unit: -3, Price: decimal.RequireFromString("2412.5")}
			require.NoError(t, store.Save(want))
			require.NoError(t, store.Load(&got))
			assert.Equal(t, want.Unit, got.Unit)
			assert.True(t, want.Price.Equal(got.Price))

			// 覆盖写
			require.NoError(t, store.Save(state{Unit: 1, Price: decimal.NewFromInt(1)}))
			require.NoError(t, store.Load(&got))
			assert.Equal(t, 1, got.Unit)
		})
	}
}

func TestJSONFileStoreLeavesNoTempFiles(t *testing.T) {
	dir := t.TempDir()
	store := NewJSONFileService(dir).NewStore("snapshot", "ETH/USD", "tracker").(*JSONFileStore)
	require.NoError(t, store.Save(state{Unit: 2}))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, filepath.Base(store.Path()), entries[0].Name())
	assert.Equal(t, "snapshot_ETH_USD_tracker.json", entries[0].Name())
}

func TestOpenRejectsUnknownDriver(t *testing.T) {
	_, err := Open(Options{Driver: "redis", Dir: t.TempDir()})
	assert.Error(t, err)
}

func TestParseKey(t *testing.T) {
	k, err := ParseKey("")
	require.NoError(t, err)
	assert.Nil(t, k)

	hexKey := "0x" + "00112233445566778899aabbccddeeff00112233445566778899aabbccddeeff"
	k, err = ParseKey(hexKey)
	require.NoError(t, err)
	assert.Len(t, k, 32)

	k, err = ParseKey("AAECAwQFBgcICQoLDA0ODxAREhMUFRYXGBkaGxwdHh8=")
	require.NoError(t, err)
	assert.Len(t, k, 32)

	_, err = ParseKey("abcd")
	assert.Error(t, err)
}

func TestThrottledSaverCoalesces(t *testing.T) {
	store := NewJSONFileService(t.TempDir()).NewStore("snapshot", "ETH", "tracker")
	s := NewThrottledSaver(store, time.Second)
	now := time.Unix(1_700_000_000, 0)
	s.now = func() time.Time { return now }

	require.NoError(t, s.Save(state{Unit: 1}))
	now = now.Add(100 * time.Millisecond)
	require.NoError(t, s.Save(state{Unit: 2}))
	require.NoError(t, s.Save(state{Unit: 3}))
	assert.Equal(t, 1, s.Saves())

	var got state
	require.NoError(t, store.Load(&got))
	assert.Equal(t, 1, got.Unit)

	require.NoError(t, s.Flush())
	require.NoError(t, store.Load(&got))
	assert.Equal(t, 3, got.Unit)
	assert.Equal(t, 2, s.Saves())

	require.NoError(t, s.Flush())
	assert.Equal(t, 2, s.Saves())

	now = now.Add(2 * time.Second)
	require.NoError(t, s.Save(state{Unit: 4}))
	assert.Equal(t, 3, s.Saves())
}
