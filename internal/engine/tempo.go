package engine

import (
	"errors"
	"math"
)

// DefaultTempo is the MIDI default of 120 BPM in microseconds per quarter note.
const DefaultTempo uint32 = 500000

const maxTempo uint32 = 0xFFFFFF

var ErrInvalidTempo = errors.New("invalid tempo")

// TempoRecord is one tempo change and the tick count accumulated when it began.
type TempoRecord struct {
	Tempo          uint32
	TicksPerSecond float64
	Created        float64
	BaseTicks      int
}

// TicksAt converts a virtual time at or after Created into absolute ticks.
func (r TempoRecord) TicksAt(t float64) int {
	return r.BaseTicks + int(math.Round(r.TicksPerSecond*(t-r.Created)))
}

// TempoTrack is the ordered tempo history of the loaded sequence. The last
// record is the active one; records are kept in non-decreasing Created order.
type TempoTrack struct {
	division int
	records  []TempoRecord
}

func NewTempoTrack(division int) *TempoTrack {
	t := &TempoTrack{division: division}
	t.Reset()
	return t
}

// Reset replaces the history with a single default-tempo record at time 0.
func (t *TempoTrack) Reset() {
	t.records = append(t.records[:0], t.makeRecord(DefaultTempo, 0, 0))
}

// SetDivision changes ticks per quarter note and resets the history.
func (t *TempoTrack) SetDivision(division int) {
	t.division = division
	t.Reset()
}

func (t *TempoTrack) makeRecord(tempo uint32, created float64, base int) TempoRecord {
	return TempoRecord{
		Tempo:          tempo,
		TicksPerSecond: float64(t.division) / float64(tempo) * 1000000,
		Created:        created,
		BaseTicks:      base,
	}
}

// Record appends a tempo change that became active at virtual time now.
// Repeating the latest record is a no-op.
func (t *TempoTrack) Record(tempo uint32, now float64) error {
	if tempo == 0 || tempo > maxTempo {
		return ErrInvalidTempo
	}
	last := t.last()
	if now < last.Created {
		now = last.Created
	}
	if now == last.Created && tempo == last.Tempo {
		return nil
	}
	t.records = append(t.records, t.makeRecord(tempo, now, last.TicksAt(now)))
	return nil
}

// TicksAt returns the absolute tick position at virtual time vt.
func (t *TempoTrack) TicksAt(vt float64) int {
	rec := t.at(vt)
	if vt < rec.Created {
		return rec.BaseTicks
	}
	return rec.TicksAt(vt)
}

// TruncateAfter drops tempo changes that happened after vt.
func (t *TempoTrack) TruncateAfter(vt float64) {
	n := len(t.records)
	for n > 0 && t.records[n-1].Created > vt {
		n--
	}
	if n == 0 {
		t.Reset()
		return
	}
	t.records = t.records[:n]
}

// Records returns a copy of the tempo history.
func (t *TempoTrack) Records() []TempoRecord {
	out := make([]TempoRecord, len(t.records))
	copy(out, t.records)
	return out
}

func (t *TempoTrack) Len() int { return len(t.records) }

func (t *TempoTrack) last() TempoRecord {
	if len(t.records) == 0 {
		panic("engine: tempo track is empty")
	}
	return t.records[len(t.records)-1]
}

func (t *TempoTrack) at(vt float64) TempoRecord {
	if len(t.records) == 0 {
		panic("engine: tempo track is empty")
	}
	for i := len(t.records) - 1; i > 0; i-- {
		if t.records[i].Created <= vt {
			return t.records[i]
		}
	}
	return t.records[0]
}
