package join

import (
	"fmt"
	"slices"

	"github.com/paveg/partjoin/internal/errors"
	"github.com/paveg/partjoin/internal/table"
	"github.com/paveg/partjoin/internal/validation"
)

// plan is the schema-dependent part of a join: resolved key columns, the
// surviving columns of each side and the output schema.
type plan struct {
	leftKeys  []int
	rightKeys []int

	leftCols  []int
	rightCols []int
	output    table.Schema

	// duplicates pairs the left and right indexes of same-named columns
	// whose right copy was filtered out.
	duplicates [][2]int
	warnings   []string
	rowKeys    RowKeyPolicy
	separator  string
}

func (p *plan) rightColumns(right table.Schema) []table.Column {
	cols := make([]table.Column, len(p.rightCols))
	for i, c := range p.rightCols {
		cols[i] = right[c]
	}
	return cols
}

func resolvePlan(s Settings, left, right table.Schema) (*plan, error) {
	if err := s.Validate(); err != nil {
		return nil, err
	}
	if err := left.Validate(); err != nil {
		return nil, errors.NewConfigurationError("Join", "left table: "+err.Error())
	}
	if err := right.Validate(); err != nil {
		return nil, errors.NewConfigurationError("Join", "right table: "+err.Error())
	}

	leftNames := make([]string, len(s.Keys))
	rightNames := make([]string, len(s.Keys))
	for i, k := range s.Keys {
		leftNames[i] = k.Left
		rightNames[i] = k.Right
	}
	if err := validation.NewColumnValidator(left, "Join", leftNames...).Except(RowKeyColumn).Validate(); err != nil {
		return nil, err
	}
	if err := validation.NewColumnValidator(right, "Join", rightNames...).Except(RowKeyColumn).Validate(); err != nil {
		return nil, err
	}

	p := &plan{
		leftKeys:  keyIndexes(left, leftNames),
		rightKeys: keyIndexes(right, rightNames),
	}

	if err := checkKeyTypes(s.Keys, left, right, p); err != nil {
		return nil, err
	}

	leftInc, err := included(left, s.LeftInclude, leftNames, s.RemoveLeftKeys)
	if err != nil {
		return nil, err
	}
	rightInc, err := included(right, s.RightInclude, rightNames, s.RemoveRightKeys)
	if err != nil {
		return nil, err
	}

	leftSet := make(map[string]struct{}, len(leftInc))
	for _, c := range leftInc {
		leftSet[left[c].Name] = struct{}{}
	}
	var dups []string
	for _, c := range rightInc {
		if _, ok := leftSet[right[c].Name]; ok {
			dups = append(dups, right[c].Name)
		}
	}

	if len(dups) > 0 && s.DuplicateHandling == DontExecute {
		return nil, errors.NewConfigurationError("Join",
			fmt.Sprintf("found duplicate columns %v, won't execute", dups))
	}

	p.leftCols = leftInc
	for _, c := range leftInc {
		p.output = append(p.output, left[c])
	}

	taken := make(map[string]struct{}, len(leftInc)+len(rightInc))
	for name := range leftSet {
		taken[name] = struct{}{}
	}
	rightSet := make(map[string]struct{}, len(rightInc))
	for _, c := range rightInc {
		rightSet[right[c].Name] = struct{}{}
	}

	for _, c := range rightInc {
		col := right[c]
		if _, dup := leftSet[col.Name]; dup {
			if s.DuplicateHandling == Filter {
				l := left.Index(col.Name)
				if left[l].Type != col.Type {
					p.warnings = append(p.warnings, fmt.Sprintf(
						"column %q exists in both tables with different types (%s and %s); the right column is dropped",
						col.Name, left[l].Type, col.Type))
				}
				p.duplicates = append(p.duplicates, [2]int{l, c})
				continue
			}
			name := col.Name
			for {
				name += s.Suffix
				_, l := taken[name]
				_, r := rightSet[name]
				if !l && !r {
					break
				}
			}
			col.Name = name
		}
		taken[col.Name] = struct{}{}
		p.rightCols = append(p.rightCols, c)
		p.output = append(p.output, col)
	}

	p.rowKeys = s.RowKeyPolicy
	p.separator = s.RowKeySeparator
	switch {
	case s.RowKeyPolicy == Concatenate && s.joinsOnRowKeys():
		p.rowKeys = ReuseSingle
	case s.RowKeyPolicy == ReuseSingle && !s.joinsOnRowKeys():
		return nil, errors.NewConfigurationError("Join",
			fmt.Sprintf("row keys can only be reused when joining %s on both sides", RowKeyColumn))
	}

	return p, nil
}

func keyIndexes(s table.Schema, names []string) []int {
	idx := make([]int, len(names))
	for i, name := range names {
		if name == RowKeyColumn {
			idx[i] = rowKeyIndex
			continue
		}
		idx[i] = s.Index(name)
	}
	return idx
}

func keyKind(s table.Schema, col int) table.Kind {
	if col == rowKeyIndex {
		return table.KindString
	}
	return s[col].Type
}

func checkKeyTypes(keys []KeyPair, left, right table.Schema, p *plan) error {
	v := validation.NewCompoundValidator()
	for i, k := range keys {
		v.Add(validation.NewKeyPairValidator(
			k.Left, keyKind(left, p.leftKeys[i]),
			k.Right, keyKind(right, p.rightKeys[i]),
			"Join"))
	}
	return v.Validate()
}

// included returns the indexes of the columns that survive on one side, in
// schema order.
func included(s table.Schema, include []string, keys []string, removeKeys bool) ([]int, error) {
	if include != nil {
		if err := validation.ValidateColumns(s, "Join", include...); err != nil {
			return nil, err
		}
	}
	var cols []int
	for i, c := range s {
		if include != nil && !slices.Contains(include, c.Name) {
			continue
		}
		if removeKeys && slices.Contains(keys, c.Name) {
			continue
		}
		cols = append(cols, i)
	}
	return cols, nil
}
