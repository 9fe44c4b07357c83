// Package rowmap folds one-to-many join rows into per-key mappings.
package rowmap

import (
	"strings"

	"reportsdb/pkg/reportapi"
)

// Multi maps a key to an ordered list of values.
type Multi[K comparable] struct {
	order  []K
	values map[K][]string
	seen   map[K]map[string]struct{}
	unique bool
}

// NewMulti keeps every value, duplicates included.
func NewMulti[K comparable]() *Multi[K] {
	return &Multi[K]{values: make(map[K][]string)}
}

// NewUniqueMulti drops repeated values per key, keeping first-seen order.
func NewUniqueMulti[K comparable]() *Multi[K] {
	return &Multi[K]{values: make(map[K][]string), seen: make(map[K]map[string]struct{}), unique: true}
}

func (m *Multi[K]) Add(key K, value string) {
	if m.unique {
		set, ok := m.seen[key]
		if !ok {
			set = make(map[string]struct{})
			m.seen[key] = set
		}
		if _, dup := set[value]; dup {
			return
		}
		set[value] = struct{}{}
	}
	if _, ok := m.values[key]; !ok {
		m.order = append(m.order, key)
	}
	m.values[key] = append(m.values[key], value)
}

// Get returns the values for key; nil when absent.
func (m *Multi[K]) Get(key K) []string {
	return m.values[key]
}

func (m *Multi[K]) Has(key K) bool {
	_, ok := m.values[key]
	return ok
}

// Join concatenates the values for key with sep; "" when absent.
func (m *Multi[K]) Join(key K, sep string) string {
	return strings.Join(m.values[key], sep)
}

// Len is the number of distinct keys.
func (m *Multi[K]) Len() int { return len(m.values) }

// Keys returns keys in first-insertion order.
func (m *Multi[K]) Keys() []K {
	out := make([]K, len(m.order))
	copy(out, m.order)
	return out
}

// Index maps a key to one value. By default the last Set wins.
type Index[K comparable, V any] struct {
	m         map[K]V
	firstWins bool
}

func NewIndex[K comparable, V any]() *Index[K, V] {
	return &Index[K, V]{m: make(map[K]V)}
}

// NewFirstWinsIndex ignores Set calls for keys already present.
func NewFirstWinsIndex[K comparable, V any]() *Index[K, V] {
	return &Index[K, V]{m: make(map[K]V), firstWins: true}
}

func (x *Index[K, V]) Set(key K, value V) {
	if x.firstWins {
		if _, ok := x.m[key]; ok {
			return
		}
	}
	x.m[key] = value
}

func (x *Index[K, V]) Get(key K) (V, bool) {
	v, ok := x.m[key]
	return v, ok
}

// Value returns the stored value or the zero value.
func (x *Index[K, V]) Value(key K) V { return x.m[key] }

func (x *Index[K, V]) Len() int { return len(x.m) }

// GroupRows collects valCol by keyCol. NULL and empty values are skipped.
func GroupRows(rows []reportapi.Row, keyCol, valCol string) *Multi[int64] {
	return groupInto(NewMulti[int64](), rows, keyCol, valCol)
}

// GroupUniqueRows is GroupRows with per-key de-duplication.
func GroupUniqueRows(rows []reportapi.Row, keyCol, valCol string) *Multi[int64] {
	return groupInto(NewUniqueMulti[int64](), rows, keyCol, valCol)
}

func groupInto(m *Multi[int64], rows []reportapi.Row, keyCol, valCol string) *Multi[int64] {
	for _, row := range rows {
		if row.IsNull(keyCol) || row.IsNull(valCol) {
			continue
		}
		v := row.String(valCol)
		if v == "" {
			continue
		}
		m.Add(row.Int(keyCol), v)
	}
	return m
}

// IndexRows keys each row by keyCol; later rows replace earlier ones.
func IndexRows(rows []reportapi.Row, keyCol string) *Index[int64, reportapi.Row] {
	idx := NewIndex[int64, reportapi.Row]()
	for _, row := range rows {
		if row.IsNull(keyCol) {
			continue
		}
		idx.Set(row.Int(keyCol), row)
	}
	return idx
}

// IndexValues maps keyCol to the text of valCol, last row winning.
func IndexValues(rows []reportapi.Row, keyCol, valCol string) *Index[int64, string] {
	idx := NewIndex[int64, string]()
	for _, row := range rows {
		if row.IsNull(keyCol) || row.IsNull(valCol) {
			continue
		}
		idx.Set(row.Int(keyCol), row.String(valCol))
	}
	return idx
}
