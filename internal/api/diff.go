package api

import "strings"

const (
	DiffAdded     = "added"
	DiffRemoved   = "removed"
	DiffUnchanged = "unchanged"
)

// DiffLine is one line of a line-level diff. Line numbers are 1-based and
// omitted on the side the line does not exist.
type DiffLine struct {
	Type    string `json:"type"`
	Content string `json:"content"`
	OldLine int    `json:"old_line,omitempty"`
	NewLine int    `json:"new_line,omitempty"`
}

// computeDiff walks a longest-common-subsequence table of the two texts.
// Removals are listed before additions at each change.
func computeDiff(oldText, newText string) []DiffLine {
	a := strings.Split(oldText, "\n")
	b := strings.Split(newText, "\n")
	m, n := len(a), len(b)

	// suffix[i][j] is the LCS length of a[i:] and b[j:]
	suffix := make([][]int, m+1)
	for i := range suffix {
		suffix[i] = make([]int, n+1)
	}
	for i := m - 1; i >= 0; i-- {
		for j := n - 1; j >= 0; j-- {
			if a[i] == b[j] {
				suffix[i][j] = suffix[i+1][j+1] + 1
			} else {
				suffix[i][j] = max(suffix[i+1][j], suffix[i][j+1])
			}
		}
	}

	diff := make([]DiffLine, 0, max(m, n))
	i, j := 0, 0
	for i < m || j < n {
		switch {
		case i < m && j < n && a[i] == b[j]:
			diff = append(diff, DiffLine{Type: DiffUnchanged, Content: a[i], OldLine: i + 1, NewLine: j + 1})
			i++
			j++
		case i < m && (j == n || suffix[i+1][j] >= suffix[i][j+1]):
			diff = append(diff, DiffLine{Type: DiffRemoved, Content: a[i], OldLine: i + 1})
			i++
		default:
			diff = append(diff, DiffLine{Type: DiffAdded, Content: b[j], NewLine: j + 1})
			j++
		}
	}
	return diff
}
