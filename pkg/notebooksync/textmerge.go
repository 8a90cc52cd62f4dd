package notebooksync

import (
	"bytes"
	"sort"
	"strings"

	"github.com/pmezard/go-difflib/difflib"
)

// hunk replaces base lines [i1,i2) by lines of one side.
type hunk struct {
	i1, i2 int
	lines  []string
	local  bool
}

func splitLines(data []byte) []string {
	if len(data) == 0 {
		return nil
	}
	lines := strings.SplitAfter(string(data), "\n")
	if lines[len(lines)-1] == "" {
		lines = lines[:len(lines)-1]
	}
	return lines
}

func isBinary(data []byte) bool {
	n := len(data)
	if n > 8000 {
		n = 8000
	}
	return bytes.IndexByte(data[:n], 0) >= 0
}

func hunks(base, side []string, local bool) []hunk {
	m := difflib.NewMatcherWithJunk(base, side, false, nil)
	var out []hunk
	for _, op := range m.GetOpCodes() {
		if op.Tag == 'e' {
			continue
		}
		out = append(out, hunk{i1: op.I1, i2: op.I2, lines: side[op.J1:op.J2], local: local})
	}
	return out
}

func overlaps(lo, hi int, h hunk) bool {
	if h.i1 < hi && lo < h.i2 {
		return true
	}
	// insertions touching the other change's range count as the same place
	if h.i1 == h.i2 || lo == hi {
		return h.i1 <= hi && lo <= h.i2
	}
	return false
}

// apply rebuilds base[lo:hi] with the given hunks, all inside [lo,hi) and sorted.
func apply(base []string, lo, hi int, hs []hunk) []string {
	var out []string
	pos := lo
	for _, h := range hs {
		out = append(out, base[pos:h.i1]...)
		out = append(out, h.lines...)
		pos = h.i2
	}
	return append(out, base[pos:hi]...)
}

func sameLines(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// merge3 merges local and remote edits of base line by line. Changes that touch
// different base lines are both applied. Where both sides changed the same lines
// differently the local lines win; conflicts counts those regions.
func merge3(base, local, remote []byte) (merged []byte, conflicts int) {
	b := splitLines(base)
	all := append(hunks(b, splitLines(local), true), hunks(b, splitLines(remote), false)...)
	sort.SliceStable(all, func(i, j int) bool {
		if all[i].i1 != all[j].i1 {
			return all[i].i1 < all[j].i1
		}
		return all[i].i2 < all[j].i2
	})

	var out []string
	pos := 0
	for k := 0; k < len(all); {
		lo, hi := all[k].i1, all[k].i2
		var ours, theirs []hunk
		for ; k < len(all) && (len(ours)+len(theirs) == 0 || overlaps(lo, hi, all[k])); k++ {
			h := all[k]
			if h.i1 < lo {
				lo = h.i1
			}
			if h.i2 > hi {
				hi = h.i2
			}
			if h.local {
				ours = append(ours, h)
			} else {
				theirs = append(theirs, h)
			}
		}

		out = append(out, b[pos:lo]...)
		switch {
		case len(theirs) == 0:
			out = append(out, apply(b, lo, hi, ours)...)
		case len(ours) == 0:
			out = append(out, apply(b, lo, hi, theirs)...)
		default:
			mine := apply(b, lo, hi, ours)
			if !sameLines(mine, apply(b, lo, hi, theirs)) {
				conflicts++
			}
			out = append(out, mine...)
		}
		pos = hi
	}
	out = append(out, b[pos:]...)
	return []byte(strings.Join(out, "")), conflicts
}
