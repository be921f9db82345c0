package game

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vmihailenco/msgpack/v5"
)

func TestSnapshotPoolLatest(t *testing.T) {
	p := NewSnapshotPool(4, 4)
	_, ok := p.Latest()
	assert.False(t, ok, "nothing published yet")

	s := p.AcquireWrite()
	s.TickNumber = 1
	s.Units = append(s.Units, UnitSnapshot{ID: "0:1", HP: 50})
	p.PublishWrite()

	// A write in progress is invisible to readers.
	s = p.AcquireWrite()
	s.TickNumber = 2

	got, ok := p.Latest()
	require.True(t, ok)
	assert.Equal(t, uint64(1), got.TickNumber)
	require.Len(t, got.Units, 1)

	p.PublishWrite()
	got, _ = p.Latest()
	assert.Equal(t, uint64(2), got.TickNumber)
	assert.Empty(t, got.Units, "slots are reset on acquire")
}

func TestSnapshotCloneIsDeep(t *testing.T) {
	s := BattleSnapshot{
		Units:     []UnitSnapshot{{ID: "a", Path: []Point{{X: 1, Y: 2}}}},
		Buildings: []BuildingSnapshot{{ID: "b"}},
		Cells:     []CellSnapshot{{X: 1, Blocked: true}},
	}
	c := s.Clone()
	c.Units[0].Path[0].X = 99
	c.Buildings[0].ID = "z"
	c.Cells[0].Blocked = false

	assert.Equal(t, 1.0, s.Units[0].Path[0].X)
	assert.Equal(t, "b", s.Buildings[0].ID)
	assert.True(t, s.Cells[0].Blocked)
}

// TestSnapshotPoolConcurrentReaders runs readers against a busy producer
// under the race detector.
func TestSnapshotPoolConcurrentReaders(t *testing.T) {
	p := NewSnapshotPool(8, 0)
	var wg sync.WaitGroup
	stop := make(chan struct{})

	for r := 0; r < 4; r++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
				}
				if snap, ok := p.Latest(); ok && len(snap.Units) != int(snap.TickNumber%8) {
					t.Errorf("torn snapshot: tick %d has %d units", snap.TickNumber, len(snap.Units))
					return
				}
			}
		}()
	}

	for tick := uint64(1); tick <= 2000; tick++ {
		s := p.AcquireWrite()
		s.TickNumber = tick
		for i := uint64(0); i < tick%8; i++ {
			s.Units = append(s.Units, UnitSnapshot{HP: float64(i)})
		}
		p.PublishWrite()
	}
	close(stop)
	wg.Wait()
}

func TestSnapshotMsgpack(t *testing.T) {
	s := BattleSnapshot{
		TickNumber: 7,
		BattleID:   "x",
		Units:      []UnitSnapshot{{ID: "0:1", Pos: Point{X: 1, Y: 2}, State: "moving"}},
	}
	data, err := msgpack.Marshal(&s)
	require.NoError(t, err)

	var back BattleSnapshot
	require.NoError(t, msgpack.Unmarshal(data, &back))
	assert.Equal(t, s.TickNumber, back.TickNumber)
	assert.Equal(t, s.Units[0].Pos, back.Units[0].Pos)
}
