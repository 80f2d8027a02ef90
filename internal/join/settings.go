package join

import (
	"fmt"

	"github.com/paveg/partjoin/internal/common"
	"github.com/paveg/partjoin/internal/config"
	"github.com/paveg/partjoin/internal/errors"
	"github.com/paveg/partjoin/internal/validation"
)

// RowKeyColumn is the pseudo column name that selects a row's key instead
// of a physical column in a join column pair.
const RowKeyColumn = "$RowID$"

// JoinMode selects which unmatched rows are retained.
type JoinMode int

const (
	Inner JoinMode = iota
	LeftOuter
	RightOuter
	FullOuter
)

// RetainLeft reports whether unmatched left rows appear in the output.
func (m JoinMode) RetainLeft() bool { return m == LeftOuter || m == FullOuter }

// RetainRight reports whether unmatched right rows appear in the output.
func (m JoinMode) RetainRight() bool { return m == RightOuter || m == FullOuter }

func (m JoinMode) String() string { return common.FormatJoinMode(int(m)) }

// CompositionMode decides how several join column pairs combine.
type CompositionMode int

const (
	// MatchAll requires every pair to be equal.
	MatchAll CompositionMode = iota
	// MatchAny requires at least one pair to be equal.
	MatchAny
)

func (m CompositionMode) String() string { return common.FormatCompositionMode(int(m)) }

// DuplicateHandling decides what happens to columns present in both inputs.
type DuplicateHandling int

const (
	// Filter keeps the left column and drops the right one.
	Filter DuplicateHandling = iota
	// AppendSuffix renames the right column.
	AppendSuffix
	// DontExecute rejects the configuration.
	DontExecute
)

func (d DuplicateHandling) String() string { return common.FormatDuplicateHandling(int(d)) }

// RowKeyPolicy decides how output row keys are produced.
type RowKeyPolicy int

const (
	// Concatenate joins the left and right keys with a separator.
	Concatenate RowKeyPolicy = iota
	// ReuseSingle keeps the input key when both sides join on their row keys.
	ReuseSingle
	// Sequence numbers output rows Row0, Row1, ...
	Sequence
)

func (p RowKeyPolicy) String() string { return common.FormatRowKeyPolicy(int(p)) }

// KeyPair is one left/right join column pair.
type KeyPair struct {
	Left  string
	Right string
}

// Settings is the immutable configuration of one join.
type Settings struct {
	Mode        JoinMode
	Composition CompositionMode
	Keys        []KeyPair

	// LeftInclude and RightInclude restrict the output columns. nil keeps all.
	LeftInclude  []string
	RightInclude []string

	RemoveLeftKeys  bool
	RemoveRightKeys bool

	DuplicateHandling DuplicateHandling
	Suffix            string

	RowKeyPolicy     RowKeyPolicy
	RowKeySeparator  string
	TrackCorrelation bool

	InitialPartitionBits int
	MaxPartitionBits     int
	MaxOpenFiles         int
}

const (
	DefaultSuffix          = " (#1)"
	DefaultRowKeySeparator = "_"
	maxPartitionBits       = 32
)

// DefaultSettings returns an inner match-all join with no key pairs.
func DefaultSettings() Settings {
	return Settings{
		Mode:                 Inner,
		Composition:          MatchAll,
		DuplicateHandling:    AppendSuffix,
		Suffix:               DefaultSuffix,
		RowKeyPolicy:         Concatenate,
		RowKeySeparator:      DefaultRowKeySeparator,
		InitialPartitionBits: config.DefaultInitialPartitionBits,
		MaxPartitionBits:     config.DefaultMaxPartitionBits,
		MaxOpenFiles:         config.DefaultMaxOpenFiles,
	}
}

// Pairs builds key pairs from parallel column lists.
func Pairs(left, right []string) ([]KeyPair, error) {
	if err := validation.ValidateLength(len(left), len(right), "Join", "number of right join columns"); err != nil {
		return nil, err
	}
	pairs := make([]KeyPair, len(left))
	for i := range left {
		pairs[i] = KeyPair{Left: left[i], Right: right[i]}
	}
	return pairs, nil
}

// Validate checks the settings that do not depend on the input schemas.
func (s Settings) Validate() error {
	v := validation.NewCompoundValidator(
		validation.NewNotEmptyValidator(len(s.Keys), "Join", "no join columns selected"),
		validation.NewRangeValidator("maximum partition bits", s.MaxPartitionBits, 0, maxPartitionBits, "Join"),
		validation.NewRangeValidator("initial partition bits", s.InitialPartitionBits, 0, s.MaxPartitionBits, "Join"),
		validation.NewRangeValidator("maximum open files", s.MaxOpenFiles, config.MinMaxOpenFiles, 1<<20, "Join"),
	)
	if err := v.Validate(); err != nil {
		return err
	}

	if s.Mode < Inner || s.Mode > FullOuter {
		return errors.NewConfigurationError("Join", fmt.Sprintf("unknown join mode %d", s.Mode))
	}
	if s.Composition != MatchAll && s.Composition != MatchAny {
		return errors.NewConfigurationError("Join", fmt.Sprintf("unknown composition mode %d", s.Composition))
	}
	for i, p := range s.Keys {
		if p.Left == "" || p.Right == "" {
			return errors.NewConfigurationError("Join", fmt.Sprintf("join column pair %d is incomplete", i))
		}
	}
	switch s.DuplicateHandling {
	case Filter, DontExecute:
	case AppendSuffix:
		if s.Suffix == "" {
			return errors.NewConfigurationError("Join", "no suffix for duplicate columns provided")
		}
	default:
		return errors.NewConfigurationError("Join", fmt.Sprintf("unknown duplicate handling %d", s.DuplicateHandling))
	}
	if s.RowKeyPolicy < Concatenate || s.RowKeyPolicy > Sequence {
		return errors.NewConfigurationError("Join", fmt.Sprintf("unknown row key policy %d", s.RowKeyPolicy))
	}
	return nil
}

// joinsOnRowKeys reports whether the only pair joins both row keys.
func (s Settings) joinsOnRowKeys() bool {
	return len(s.Keys) == 1 && s.Keys[0].Left == RowKeyColumn && s.Keys[0].Right == RowKeyColumn
}

// multipleMatch reports whether each key pair yields its own tuple.
func (s Settings) multipleMatch() bool {
	return s.Composition == MatchAny && len(s.Keys) > 1
}

// SettingsFromConfig converts the textual join settings and engine tuning
// knobs into Settings. Empty strings select the defaults.
func SettingsFromConfig(js config.JoinSettings, cfg config.Config) (Settings, error) {
	s := DefaultSettings()
	cfg = cfg.WithDefaults()
	s.InitialPartitionBits = cfg.InitialPartitionBits
	s.MaxPartitionBits = cfg.MaxPartitionBits
	s.MaxOpenFiles = cfg.MaxOpenFiles
	if s.InitialPartitionBits > s.MaxPartitionBits {
		s.InitialPartitionBits = s.MaxPartitionBits
	}

	keys, err := Pairs(js.LeftKeys, js.RightKeys)
	if err != nil {
		return s, err
	}
	s.Keys = keys
	s.LeftInclude = js.LeftInclude
	s.RightInclude = js.RightInclude
	s.RemoveLeftKeys = js.RemoveLeftKeys
	s.RemoveRightKeys = js.RemoveRightKeys
	s.TrackCorrelation = js.TrackCorrelation
	if js.Suffix != "" {
		s.Suffix = js.Suffix
	}
	if js.RowKeySeparator != "" {
		s.RowKeySeparator = js.RowKeySeparator
	}

	parse := func(kind, value string, parser func(string) (int, bool), dst *int) error {
		if value == "" {
			return nil
		}
		v, ok := parser(value)
		if !ok {
			return errors.NewConfigurationError("Join", fmt.Sprintf("unknown %s %q, expected one of %v", kind, value, common.EnumNames(kind)))
		}
		*dst = v
		return nil
	}

	mode, comp, dup, policy := int(s.Mode), int(s.Composition), int(s.DuplicateHandling), int(s.RowKeyPolicy)
	if err := parse("JoinMode", js.Mode, common.ParseJoinMode, &mode); err != nil {
		return s, err
	}
	if err := parse("CompositionMode", js.Composition, common.ParseCompositionMode, &comp); err != nil {
		return s, err
	}
	if err := parse("DuplicateHandling", js.DuplicateHandling, common.ParseDuplicateHandling, &dup); err != nil {
		return s, err
	}
	if err := parse("RowKeyPolicy", js.RowKeyPolicy, common.ParseRowKeyPolicy, &policy); err != nil {
		return s, err
	}
	s.Mode = JoinMode(mode)
	s.Composition = CompositionMode(comp)
	s.DuplicateHandling = DuplicateHandling(dup)
	s.RowKeyPolicy = RowKeyPolicy(policy)

	return s, s.Validate()
}
