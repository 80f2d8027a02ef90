package join

import (
	"fmt"

	"github.com/paveg/partjoin/internal/errors"
	"github.com/paveg/partjoin/internal/execution"
	"github.com/paveg/partjoin/internal/table"
)

// compareDuplicates scans both inputs in lockstep and reports filtered
// duplicate columns whose content differs, as well as a row count mismatch.
// Only the left copy of such a column reaches the output.
func compareDuplicates(ec *execution.Context, left, right table.Table, dups [][2]int) ([]string, error) {
	if len(dups) == 0 {
		return nil, nil
	}
	li, err := left.Iterator()
	if err != nil {
		return nil, errors.NewIOError("CompareDuplicates", err)
	}
	defer li.Close()
	ri, err := right.Iterator()
	if err != nil {
		return nil, errors.NewIOError("CompareDuplicates", err)
	}
	defer ri.Close()

	differs := make([]bool, len(dups))
	var warnings []string
	var sizeWarning string
	var n int64
	for {
		if n%cancelCheckInterval == 0 {
			if err := ec.CheckCanceled("CompareDuplicates"); err != nil {
				return nil, err
			}
		}
		lok, rok := li.Next(), ri.Next()
		if !lok || !rok {
			if err := li.Err(); err != nil {
				return nil, errors.NewIOError("CompareDuplicates", err)
			}
			if err := ri.Err(); err != nil {
				return nil, errors.NewIOError("CompareDuplicates", err)
			}
			switch {
			case lok:
				sizeWarning = "duplicate column check: the left table has more rows than the right table"
			case rok:
				sizeWarning = "duplicate column check: the right table has more rows than the left table"
			}
			break
		}
		n++
		lrow, rrow := li.Row(), ri.Row()
		for i, d := range dups {
			if !differs[i] && !lrow.Cells[d[0]].Equal(rrow.Cells[d[1]]) {
				differs[i] = true
			}
		}
	}

	schema := left.Schema()
	for i, d := range dups {
		if differs[i] {
			warnings = append(warnings, fmt.Sprintf(
				"column %q exists in both tables with different content; the right column is dropped", schema[d[0]].Name))
		}
	}
	if sizeWarning != "" {
		warnings = append(warnings, sizeWarning)
	}
	return warnings, nil
}
