package series

import (
	"encoding/binary"
	"math"
	"time"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/cespare/xxhash/v2"
)

// EncodeRow appends a byte encoding of row across cols to buf. Equal values
// of the same type class encode identically; null encodes as its own value.
func EncodeRow(buf []byte, cols []arrow.Array, row int) []byte {
	var scratch [8]byte
	for _, col := range cols {
		if col.IsNull(row) {
			buf = append(buf, 0)
			continue
		}
		switch a := col.(type) {
		case *array.String:
			v := a.Value(row)
			binary.LittleEndian.PutUint32(scratch[:4], uint32(len(v)))
			buf = append(buf, 's')
			buf = append(buf, scratch[:4]...)
			buf = append(buf, v...)
		case *array.Boolean:
			if a.Value(row) {
				buf = append(buf, 'b', 1)
			} else {
				buf = append(buf, 'b', 0)
			}
		case *array.Float32, *array.Float64:
			f := ValueAt(col, row).(float64)
			switch {
			case f == 0:
				f = 0
			case math.IsNaN(f):
				f = math.NaN()
			}
			binary.LittleEndian.PutUint64(scratch[:], math.Float64bits(f))
			buf = append(buf, 'f')
			buf = append(buf, scratch[:]...)
		case *array.Timestamp, *array.Date32, *array.Date64:
			ms := ValueAt(col, row).(time.Time).UnixMilli()
			binary.LittleEndian.PutUint64(scratch[:], uint64(ms))
			buf = append(buf, 't')
			buf = append(buf, scratch[:]...)
		default:
			if IsInteger(col.DataType()) {
				binary.LittleEndian.PutUint64(scratch[:], uint64(ValueAt(col, row).(int64)))
				buf = append(buf, 'i')
				buf = append(buf, scratch[:]...)
				continue
			}
			buf = append(buf, '?')
			buf = append(buf, FormatAt(col, row)...)
		}
	}
	return buf
}

// GroupIndex assigns dense ids to composite keys in first-seen order.
// Keys are bucketed by their xxhash and verified on collision.
type GroupIndex struct {
	buckets map[uint64][]int
	keys    []string
}

// NewGroupIndex creates an empty index.
func NewGroupIndex() *GroupIndex {
	return &GroupIndex{buckets: make(map[uint64][]int)}
}

// Insert returns the id of key, assigning the next id when it is new.
func (g *GroupIndex) Insert(key []byte) (int, bool) {
	h := xxhash.Sum64(key)
	for _, id := range g.buckets[h] {
		if g.keys[id] == string(key) {
			return id, false
		}
	}
	id := len(g.keys)
	g.keys = append(g.keys, string(key))
	g.buckets[h] = append(g.buckets[h], id)
	return id, true
}

// Lookup returns the id of key if it has been inserted.
func (g *GroupIndex) Lookup(key []byte) (int, bool) {
	for _, id := range g.buckets[xxhash.Sum64(key)] {
		if g.keys[id] == string(key) {
			return id, true
		}
	}
	return -1, false
}

// Len returns the number of distinct keys.
func (g *GroupIndex) Len() int {
	return len(g.keys)
}

// GroupRows partitions the rows of cols by equal composite key. Groups are
// returned in order of first appearance and rows keep their input order.
func GroupRows(cols []arrow.Array, n int) [][]int {
	if len(cols) == 0 {
		if n == 0 {
			return nil
		}
		all := make([]int, n)
		for i := range all {
			all[i] = i
		}
		return [][]int{all}
	}

	idx := NewGroupIndex()
	var groups [][]int
	var buf []byte
	for row := 0; row < n; row++ {
		buf = EncodeRow(buf[:0], cols, row)
		id, isNew := idx.Insert(buf)
		if isNew {
			groups = append(groups, nil)
		}
		groups[id] = append(groups[id], row)
	}
	return groups
}
