package protocol

import (
	"errors"
	"fmt"
	"strings"
)

var ErrInvalidDelta = errors.New("invalid delta")

type DeltaAction string

const (
	DeltaInsert  DeltaAction = "insert"
	DeltaRemove  DeltaAction = "remove"
	DeltaReplace DeltaAction = "replace"
)

// Delta is a line-range patch. Rows are zero-based and EndRow is inclusive.
//
// Deltas address raw row indices of the sender's snapshot. Two deltas built
// against different snapshots and applied out of order can land on the
// wrong lines; nothing here rebases them.
type Delta struct {
	Action   DeltaAction `json:"action"`
	StartRow int         `json:"startRow"`
	EndRow   int         `json:"endRow"`
	Lines    []string    `json:"lines"`
}

func (d *Delta) Validate() error {
	switch d.Action {
	case DeltaInsert, DeltaRemove, DeltaReplace:
	case "":
		return fmt.Errorf("%w: action is required", ErrMalformed)
	default:
		return fmt.Errorf("%w: unknown action %q", ErrInvalidDelta, d.Action)
	}
	if d.StartRow < 0 {
		return fmt.Errorf("%w: negative row", ErrInvalidDelta)
	}
	// Insert ignores endRow
	if d.Action != DeltaInsert && d.EndRow < d.StartRow {
		return fmt.Errorf("%w: endRow %d before startRow %d", ErrInvalidDelta, d.EndRow, d.StartRow)
	}
	return nil
}

// ApplyDelta splices d into doc. Rows past the end of the document are
// clamped to its line count.
func ApplyDelta(doc string, d Delta) (string, error) {
	if err := d.Validate(); err != nil {
		return doc, err
	}

	lines := strings.Split(doc, "\n")
	n := len(lines)
	start := min(d.StartRow, n)

	var end int
	switch d.Action {
	case DeltaInsert:
		end = start
	default:
		end = min(d.EndRow+1, n)
	}

	var insert []string
	if d.Action != DeltaRemove {
		insert = d.Lines
	}

	out := make([]string, 0, n-(end-start)+len(insert))
	out = append(out, lines[:start]...)
	out = append(out, insert...)
	out = append(out, lines[end:]...)
	return strings.Join(out, "\n"), nil
}
