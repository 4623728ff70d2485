// Package label provides immutable, reference-counted label tables used
// to resolve integer class ids from model outputs.
package label

import (
	"bufio"
	"fmt"
	"os"
	"strings"
	"sync/atomic"
)

// Table is an ordered list of label strings. Contents never change after
// construction; the table is shared by reference across all records that
// resolve ids through it.
type Table struct {
	labels []string
	refs   atomic.Int64
}

// New creates a table holding its own copy of labels, with one reference
func New(labels []string) *Table {
	t := &Table{labels: make([]string, len(labels))}
	copy(t.labels, labels)
	t.refs.Store(1)
	return t
}

// Load reads a table from a file with one label per line. Blank lines
// and lines starting with '#' are skipped.
func Load(path string) (*Table, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open labels: %w", err)
	}
	defer f.Close()

	var labels []string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		labels = append(labels, line)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read labels: %w", err)
	}
	return New(labels), nil
}

// Len returns the number of labels
func (t *Table) Len() int {
	if t == nil {
		return 0
	}
	return len(t.labels)
}

// At returns label i, or the empty string when i is out of range
func (t *Table) At(i int) string {
	if t == nil || i < 0 || i >= len(t.labels) {
		return ""
	}
	return t.labels[i]
}

// Strings returns a copy of the label list
func (t *Table) Strings() []string {
	out := make([]string, len(t.labels))
	copy(out, t.labels)
	return out
}

// Retain adds a reference and returns the table for chaining
func (t *Table) Retain() *Table {
	if t == nil {
		return nil
	}
	t.refs.Add(1)
	return t
}

// Release drops a reference and returns the remaining count.
// Releasing below zero panics; it indicates a double release.
func (t *Table) Release() int64 {
	if t == nil {
		return 0
	}
	n := t.refs.Add(-1)
	if n < 0 {
		panic("label: table released more times than retained")
	}
	return n
}

// Refs returns the current reference count
func (t *Table) Refs() int64 {
	if t == nil {
		return 0
	}
	return t.refs.Load()
}
