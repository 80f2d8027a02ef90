package join

import "strconv"

// missingKey stands in for the key of the absent side of an unmatched row.
const missingKey = "?"

// rowKeyFunc produces the key of an output row from the keys of its
// inputs. hasLeft or hasRight is false for unmatched rows.
type rowKeyFunc func(leftKey, rightKey string, hasLeft, hasRight bool) string

func newRowKeyFunc(policy RowKeyPolicy, sep string) rowKeyFunc {
	switch policy {
	case ReuseSingle:
		return func(l, r string, hasLeft, _ bool) string {
			if hasLeft {
				return l
			}
			return r
		}
	case Sequence:
		var n int64
		return func(string, string, bool, bool) string {
			key := "Row" + strconv.FormatInt(n, 10)
			n++
			return key
		}
	default:
		return func(l, r string, hasLeft, hasRight bool) string {
			if !hasLeft {
				l = missingKey
			}
			if !hasRight {
				r = missingKey
			}
			return l + sep + r
		}
	}
}
