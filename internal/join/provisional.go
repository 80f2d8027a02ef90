package join

import (
	"fmt"

	"github.com/paveg/partjoin/internal/table"
)

// Layout of a provisional row: the left row index, the right row index, the
// right row key and then the surviving right cells. A missing side has
// index -1.
const (
	provLeft = iota
	provRight
	provRightKey
	provCells
)

// provisionalSchema is the schema of the intermediate buckets.
func provisionalSchema(right []table.Column) table.Schema {
	s := make(table.Schema, 0, provCells+len(right))
	s = append(s,
		table.Column{Name: "__left", Type: table.KindInt},
		table.Column{Name: "__right", Type: table.KindInt},
		table.Column{Name: "__right_key", Type: table.KindString},
	)
	for i, c := range right {
		s = append(s, table.Column{Name: fmt.Sprintf("__r%d", i), Type: c.Type})
	}
	return s
}

// provisional builds provisional rows from the right side of the join.
type provisional struct {
	rightCols []int
}

func (p provisional) match(left, right int64, r table.Row) table.Row {
	cells := make([]table.Value, provCells+len(p.rightCols))
	cells[provLeft] = table.Int(left)
	cells[provRight] = table.Int(right)
	cells[provRightKey] = table.String(r.Key)
	for i, col := range p.rightCols {
		cells[provCells+i] = r.Cells[col]
	}
	return table.Row{Cells: cells}
}

func (p provisional) rightOnly(right int64, r table.Row) table.Row {
	return p.match(-1, right, r)
}

func (p provisional) leftOnly(left int64) table.Row {
	cells := make([]table.Value, provCells+len(p.rightCols))
	cells[provLeft] = table.Int(left)
	cells[provRight] = table.Int(-1)
	return table.Row{Cells: cells}
}

func provIndexes(row table.Row) (left, right int64) {
	left, _ = row.Cells[provLeft].AsInt()
	right, _ = row.Cells[provRight].AsInt()
	return left, right
}

// compareProvisional orders provisional rows by left then right index;
// -1 sorts first.
func compareProvisional(a, b table.Row) int {
	al, ar := provIndexes(a)
	bl, br := provIndexes(b)
	switch {
	case al < bl:
		return -1
	case al > bl:
		return 1
	case ar < br:
		return -1
	case ar > br:
		return 1
	}
	return 0
}
