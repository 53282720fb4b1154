package memevents

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseOomKill(t *testing.T) {
	ord := binary.NativeEndian
	b := make([]byte, RecordSize)
	ord.PutUint64(b[0:], uint64(OomKill))
	ord.PutUint32(b[8:], 1234)
	ord.PutUint64(b[16:], 987654321)
	ord.PutUint64(b[24:], 900)
	ord.PutUint32(b[32:], 10075)
	copy(b[36:], "com.example.app")
	ord.PutUint64(b[56:], 4096)
	ord.PutUint64(b[64:], 2048)
	ord.PutUint64(b[72:], 1024)
	ord.PutUint64(b[80:], 512)
	ord.PutUint64(b[88:], 64)

	ev, err := Parse(b)
	require.NoError(t, err)
	assert.Equal(t, OomKill, ev.Type)
	assert.Equal(t, OomKillData{
		Pid:         1234,
		TimestampMs: 987654321,
		OomScoreAdj: 900,
		UID:         10075,
		ProcessName: "com.example.app",
		TotalVMKb:   4096,
		AnonRssKb:   2048,
		FileRssKb:   1024,
		ShmemRssKb:  512,
		PgtablesKb:  64,
	}, ev.OomKill)
}

func TestParseKswapd(t *testing.T) {
	ord := binary.NativeEndian

	wake := make([]byte, RecordSize)
	ord.PutUint64(wake, uint64(KswapdWake))
	ord.PutUint32(wake[8:], 1)
	ord.PutUint32(wake[12:], 2)
	ord.PutUint32(wake[16:], 3)
	ev, err := Parse(wake)
	require.NoError(t, err)
	assert.Equal(t, KswapdWakeData{NodeID: 1, ZoneID: 2, AllocOrder: 3}, ev.KswapdWake)

	sleep := make([]byte, RecordSize)
	ord.PutUint64(sleep, uint64(KswapdSleep))
	ord.PutUint32(sleep[8:], 7)
	ev, err = Parse(sleep)
	require.NoError(t, err)
	assert.Equal(t, KswapdSleepData{NodeID: 7}, ev.KswapdSleep)
}

func TestParseErrors(t *testing.T) {
	_, err := Parse(make([]byte, RecordSize-1))
	assert.ErrorIs(t, err, ErrShortRecord)

	b := make([]byte, RecordSize)
	binary.NativeEndian.PutUint64(b, uint64(NumEventTypes))
	_, err = Parse(b)
	assert.ErrorIs(t, err, ErrUnknownType)

	_, err = Event{Type: NumEventTypes}.MarshalBinary()
	assert.ErrorIs(t, err, ErrUnknownType)
}

func TestMarshalTruncatesProcessName(t *testing.T) {
	in := Event{Type: OomKill, OomKill: OomKillData{Pid: 42, ProcessName: "a_very_long_process_name"}}
	b, err := in.MarshalBinary()
	require.NoError(t, err)
	require.Len(t, b, RecordSize)

	out, err := Parse(b)
	require.NoError(t, err)
	assert.Equal(t, uint32(42), out.OomKill.Pid)
	assert.Equal(t, "a_very_long_pro", out.OomKill.ProcessName)
}

func TestDirectReclaimHasNoPayload(t *testing.T) {
	b, err := Event{Type: DirectReclaimEnd}.MarshalBinary()
	require.NoError(t, err)
	ev, err := Parse(b)
	require.NoError(t, err)
	assert.Equal(t, Event{Type: DirectReclaimEnd}, ev)
	assert.Equal(t, "direct_reclaim_end", ev.Type.String())
}
