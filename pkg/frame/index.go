package frame

import (
	"encoding/binary"
	"fmt"
	"strings"
	"time"

	"github.com/cespare/xxhash/v2"
)

// Index resolves (entity, time) pairs to row numbers. Keys are hashed with
// xxhash; every hit is verified against the stored key so hash collisions
// cannot produce a wrong match.
type Index struct {
	buckets map[uint64][]int32
	keys    []string
	times   []int64
}

// NewIndex builds the index over every row of t. A repeated (entity, time)
// pair fails with ErrDuplicateKey.
func NewIndex(t *Table, entities []string, timeCol string) (*Index, error) {
	times, err := t.TimeColumn(timeCol)
	if err != nil {
		return nil, err
	}
	keys, err := EntityKeys(t, entities)
	if err != nil {
		return nil, err
	}
	ix := &Index{
		buckets: make(map[uint64][]int32, len(keys)),
		keys:    keys,
		times:   make([]int64, len(keys)),
	}
	for i := range keys {
		ix.times[i] = times[i].UnixNano()
	}
	for i, k := range keys {
		h := hashKey(k, ix.times[i])
		for _, j := range ix.buckets[h] {
			if ix.keys[j] == k && ix.times[j] == ix.times[i] {
				return nil, fmt.Errorf("entity %q at %s (rows %d and %d): %w",
					displayKey(k), times[i].Format(time.RFC3339), j, i, ErrDuplicateKey)
			}
		}
		ix.buckets[h] = append(ix.buckets[h], int32(i))
	}
	return ix, nil
}

// Lookup returns the row holding entity key at instant ts.
func (ix *Index) Lookup(key string, ts time.Time) (int, bool) {
	nano := ts.UnixNano()
	for _, j := range ix.buckets[hashKey(key, nano)] {
		if ix.times[j] == nano && ix.keys[j] == key {
			return int(j), true
		}
	}
	return 0, false
}

// ShiftBack moves ts back by d. A whole number of days moves by calendar
// days, so the wall-clock time holds across DST changes in ts's location.
func ShiftBack(ts time.Time, d time.Duration) time.Time {
	const day = 24 * time.Hour
	if d != 0 && d%day == 0 {
		return ts.AddDate(0, 0, -int(d/day))
	}
	return ts.Add(-d)
}

// Key returns the entity key of row i.
func (ix *Index) Key(i int) string { return ix.keys[i] }

// CheckUnique fails with ErrDuplicateKey when two rows share an
// (entity, time) pair.
func CheckUnique(t *Table, entities []string, timeCol string) error {
	_, err := NewIndex(t, entities, timeCol)
	return err
}

func hashKey(key string, nano int64) uint64 {
	var d xxhash.Digest
	d.Reset()
	_, _ = d.WriteString(key)
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], uint64(nano))
	_, _ = d.Write(b[:])
	return d.Sum64()
}

func displayKey(k string) string {
	return strings.ReplaceAll(k, keySep, "/")
}
