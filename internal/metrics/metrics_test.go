package metrics

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStatsSnapshot(t *testing.T) {
	s := NewStats(4)
	s.SetResidentPageBytes(1024)
	s.RecordCommit("read-committed", true)
	s.RecordCommit("repeatable-read", false)
	s.RecordWitnessSigned()

	snap := s.Snapshot()
	assert.EqualValues(t, 4, snap.Shards)
	assert.EqualValues(t, 1024, snap.ResidentPageBytes)
	assert.EqualValues(t, 1, snap.Committed)
	assert.EqualValues(t, 1, snap.Aborted)
	assert.EqualValues(t, 1, snap.WitnessesSigned)
}
