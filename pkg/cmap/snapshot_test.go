package cmap

import (
	"reflect"
	"testing"
)

func TestRangeEarlyStop(t *testing.T) {
	m := New[int]()
	for _, k := range []string{"a", "b", "c", "d", "e"} {
		m.Set(k, 0)
	}
	n := 0
	m.Range(func(string, int) bool {
		n++
		return n < 2
	})
	if n != 2 {
		t.Errorf("Range visited %d entries, want 2", n)
	}
}

func TestKeysSorted(t *testing.T) {
	m := New[int]()
	for _, k := range []string{"c", "a", "b"} {
		m.Set(k, 0)
	}
	if got := m.Keys(); !reflect.DeepEqual(got, []string{"a", "b", "c"}) {
		t.Errorf("Keys() = %v", got)
	}
}

func TestSnapshotSorted(t *testing.T) {
	m := New[int]()
	m.Set("z", 26)
	m.Set("a", 1)
	m.Set("m", 13)

	want := []Item[int]{{"a", 1}, {"m", 13}, {"z", 26}}
	if got := m.Snapshot(); !reflect.DeepEqual(got, want) {
		t.Errorf("Snapshot() = %v, want %v", got, want)
	}
}

func TestSnapshotEmpty(t *testing.T) {
	if got := New[int]().Snapshot(); len(got) != 0 {
		t.Errorf("Snapshot() of empty map = %v", got)
	}
}

func TestReplace(t *testing.T) {
	m := New[int]()
	m.Set("old", 1)

	m.Replace([]Item[int]{{"x", 1}, {"y", 2}, {"x", 3}})

	if m.Has("old") {
		t.Error("Replace kept a previous key")
	}
	if v, _ := m.Get("x"); v != 3 {
		t.Errorf("Get(x) = %d, want last duplicate 3", v)
	}
	if m.Count() != 2 {
		t.Errorf("Count() = %d, want 2", m.Count())
	}
}
