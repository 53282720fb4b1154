// Package memevents decodes the fixed layout records that the kernel memory
// event tracepoint programs publish to their BPF ring buffers.
package memevents

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
)

// EventType identifies the payload of a record.
type EventType uint64

const (
	OomKill EventType = iota
	DirectReclaimBegin
	DirectReclaimEnd
	KswapdWake
	KswapdSleep

	// NumEventTypes always follows the last valid type.
	NumEventTypes
)

func (t EventType) String() string {
	switch t {
	case OomKill:
		return "oom_kill"
	case DirectReclaimBegin:
		return "direct_reclaim_begin"
	case DirectReclaimEnd:
		return "direct_reclaim_end"
	case KswapdWake:
		return "kswapd_wake"
	case KswapdSleep:
		return "kswapd_sleep"
	default:
		return fmt.Sprintf("EventType(%d)", uint64(t))
	}
}

// Pinned ring buffers the events are published to.
const (
	AmsRingBuffer  = "/sys/fs/bpf/map_bpfMemEvents_ams_rb"
	LmkdRingBuffer = "/sys/fs/bpf/map_bpfMemEvents_lmkd_rb"
	TestRingBuffer = "/sys/fs/bpf/map_bpfMemEventsTest_rb"

	RingBufferSize = 4096
)

const (
	// ProcNameLen is the kernel's TASK_COMM_LEN.
	ProcNameLen = 16

	// RecordSize is the size of one record: an 8 byte type followed by the
	// largest payload, padded to 8 byte alignment.
	RecordSize = 96

	payloadOffset = 8
)

// Payload offsets relative to payloadOffset, following natural C alignment.
const (
	oomPidOff         = 0
	oomTimestampOff   = 8
	oomScoreAdjOff    = 16
	oomUIDOff         = 24
	oomProcessNameOff = 28
	oomTotalVMOff     = 48
	oomAnonRssOff     = 56
	oomFileRssOff     = 64
	oomShmemRssOff    = 72
	oomPgtablesOff    = 80

	kswapdNodeOff  = 0
	kswapdZoneOff  = 4
	kswapdOrderOff = 8
)

// ErrShortRecord is returned for buffers smaller than RecordSize.
var ErrShortRecord = errors.New("memevents: short record")

// ErrUnknownType is returned for a type at or beyond NumEventTypes.
var ErrUnknownType = errors.New("memevents: unknown event type")

// OomKillData is the payload of an OomKill event.
type OomKillData struct {
	Pid         uint32
	TimestampMs uint64
	OomScoreAdj uint64
	UID         uint32
	ProcessName string
	TotalVMKb   uint64
	AnonRssKb   uint64
	FileRssKb   uint64
	ShmemRssKb  uint64
	PgtablesKb  uint64
}

// KswapdWakeData is the payload of a KswapdWake event.
type KswapdWakeData struct {
	NodeID     uint32
	ZoneID     uint32
	AllocOrder uint32
}

// KswapdSleepData is the payload of a KswapdSleep event.
type KswapdSleepData struct {
	NodeID uint32
}

// Event is one decoded record. Only the payload matching Type is meaningful;
// direct reclaim events carry none.
type Event struct {
	Type        EventType
	OomKill     OomKillData
	KswapdWake  KswapdWakeData
	KswapdSleep KswapdSleepData
}

// Parse decodes a record in host byte order.
func Parse(b []byte) (Event, error) {
	if len(b) < RecordSize {
		return Event{}, fmt.Errorf("%w: %d bytes", ErrShortRecord, len(b))
	}
	ord := binary.NativeEndian
	ev := Event{Type: EventType(ord.Uint64(b))}
	p := b[payloadOffset:RecordSize]

	switch ev.Type {
	case OomKill:
		name := p[oomProcessNameOff : oomProcessNameOff+ProcNameLen]
		if i := bytes.IndexByte(name, 0); i >= 0 {
			name = name[:i]
		}
		ev.OomKill = OomKillData{
			Pid:         ord.Uint32(p[oomPidOff:]),
			TimestampMs: ord.Uint64(p[oomTimestampOff:]),
			OomScoreAdj: ord.Uint64(p[oomScoreAdjOff:]),
			UID:         ord.Uint32(p[oomUIDOff:]),
			ProcessName: string(name),
			TotalVMKb:   ord.Uint64(p[oomTotalVMOff:]),
			AnonRssKb:   ord.Uint64(p[oomAnonRssOff:]),
			FileRssKb:   ord.Uint64(p[oomFileRssOff:]),
			ShmemRssKb:  ord.Uint64(p[oomShmemRssOff:]),
			PgtablesKb:  ord.Uint64(p[oomPgtablesOff:]),
		}
	case DirectReclaimBegin, DirectReclaimEnd:
	case KswapdWake:
		ev.KswapdWake = KswapdWakeData{
			NodeID:     ord.Uint32(p[kswapdNodeOff:]),
			ZoneID:     ord.Uint32(p[kswapdZoneOff:]),
			AllocOrder: ord.Uint32(p[kswapdOrderOff:]),
		}
	case KswapdSleep:
		ev.KswapdSleep = KswapdSleepData{NodeID: ord.Uint32(p[kswapdNodeOff:])}
	default:
		return Event{}, fmt.Errorf("%w: %d", ErrUnknownType, uint64(ev.Type))
	}
	return ev, nil
}

// MarshalBinary encodes the event in host byte order. Process names longer
// than ProcNameLen-1 bytes are truncated to keep the terminating NUL.
func (ev Event) MarshalBinary() ([]byte, error) {
	if ev.Type >= NumEventTypes {
		return nil, fmt.Errorf("%w: %d", ErrUnknownType, uint64(ev.Type))
	}
	ord := binary.NativeEndian
	b := make([]byte, RecordSize)
	ord.PutUint64(b, uint64(ev.Type))
	p := b[payloadOffset:]

	switch ev.Type {
	case OomKill:
		o := ev.OomKill
		ord.PutUint32(p[oomPidOff:], o.Pid)
		ord.PutUint64(p[oomTimestampOff:], o.TimestampMs)
		ord.PutUint64(p[oomScoreAdjOff:], o.OomScoreAdj)
		ord.PutUint32(p[oomUIDOff:], o.UID)
		copy(p[oomProcessNameOff:oomProcessNameOff+ProcNameLen-1], o.ProcessName)
		ord.PutUint64(p[oomTotalVMOff:], o.TotalVMKb)
		ord.PutUint64(p[oomAnonRssOff:], o.AnonRssKb)
		ord.PutUint64(p[oomFileRssOff:], o.FileRssKb)
		ord.PutUint64(p[oomShmemRssOff:], o.ShmemRssKb)
		ord.PutUint64(p[oomPgtablesOff:], o.PgtablesKb)
	case KswapdWake:
		ord.PutUint32(p[kswapdNodeOff:], ev.KswapdWake.NodeID)
		ord.PutUint32(p[kswapdZoneOff:], ev.KswapdWake.ZoneID)
		ord.PutUint32(p[kswapdOrderOff:], ev.KswapdWake.AllocOrder)
	case KswapdSleep:
		ord.PutUint32(p[kswapdNodeOff:], ev.KswapdSleep.NodeID)
	}
	return b, nil
}
