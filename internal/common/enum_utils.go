// Package common holds the name registry for the enums that appear in
// configuration files and on the command line.
package common

import (
	"fmt"
	"sort"
	"strings"
)

// EnumStringMap maps enum values to their canonical names.
type EnumStringMap map[int]string

// EnumRegistry provides utilities for managing enum string representations.
type EnumRegistry struct {
	mappings map[string]EnumStringMap
	reverse  map[string]map[string]int
}

// NewEnumRegistry creates a new EnumRegistry instance.
func NewEnumRegistry() *EnumRegistry {
	return &EnumRegistry{
		mappings: make(map[string]EnumStringMap),
		reverse:  make(map[string]map[string]int),
	}
}

// RegisterEnum registers an enum type with its string mapping. Extra
// aliases may be accepted when parsing.
func (er *EnumRegistry) RegisterEnum(typeName string, mapping EnumStringMap, aliases map[string]int) {
	er.mappings[typeName] = mapping
	reverseMap := make(map[string]int, len(mapping)+len(aliases))
	for value, str := range mapping {
		reverseMap[normalize(str)] = value
	}
	for alias, value := range aliases {
		reverseMap[normalize(alias)] = value
	}
	er.reverse[typeName] = reverseMap
}

// FormatEnum formats an enum value for a registered type.
func (er *EnumRegistry) FormatEnum(typeName string, value int) string {
	if mapping, exists := er.mappings[typeName]; exists {
		if str, found := mapping[value]; found {
			return str
		}
	}
	return fmt.Sprintf("unknown_%s(%d)", typeName, value)
}

// ParseEnum parses a name case-insensitively; '-', ' ' and '_' are
// interchangeable.
func (er *EnumRegistry) ParseEnum(typeName, str string) (int, bool) {
	if reverseMap, exists := er.reverse[typeName]; exists {
		value, found := reverseMap[normalize(str)]
		return value, found
	}
	return 0, false
}

// Names returns the canonical names of a registered type in value order.
func (er *EnumRegistry) Names(typeName string) []string {
	mapping := er.mappings[typeName]
	values := make([]int, 0, len(mapping))
	for v := range mapping {
		values = append(values, v)
	}
	sort.Ints(values)
	names := make([]string, len(values))
	for i, v := range values {
		names[i] = mapping[v]
	}
	return names
}

func normalize(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	return strings.NewReplacer("-", "_", " ", "_").Replace(s)
}

// Enum mappings used by the join settings

// JoinModeMapping maps join modes to their names.
var JoinModeMapping = EnumStringMap{
	0: "inner",       // Inner
	1: "left_outer",  // LeftOuter
	2: "right_outer", // RightOuter
	3: "full_outer",  // FullOuter
}

// CompositionModeMapping maps key composition modes to their names.
var CompositionModeMapping = EnumStringMap{
	0: "match_all", // MatchAll
	1: "match_any", // MatchAny
}

// DuplicateHandlingMapping maps duplicate column policies to their names.
var DuplicateHandlingMapping = EnumStringMap{
	0: "filter",        // Filter
	1: "append_suffix", // AppendSuffix
	2: "dont_execute",  // DontExecute
}

// RowKeyPolicyMapping maps row key policies to their names.
var RowKeyPolicyMapping = EnumStringMap{
	0: "concatenate", // Concatenate
	1: "reuse",       // ReuseSingle
	2: "sequence",    // Sequence
}

// Default enum registry with the join mappings.
var defaultEnumRegistry = func() *EnumRegistry {
	registry := NewEnumRegistry()
	registry.RegisterEnum("JoinMode", JoinModeMapping, map[string]int{
		"left": 1, "right": 2, "full": 3, "outer": 3,
	})
	registry.RegisterEnum("CompositionMode", CompositionModeMapping, map[string]int{
		"all": 0, "and": 0, "any": 1, "or": 1,
	})
	registry.RegisterEnum("DuplicateHandling", DuplicateHandlingMapping, map[string]int{
		"suffix": 1, "fail": 2,
	})
	registry.RegisterEnum("RowKeyPolicy", RowKeyPolicyMapping, map[string]int{
		"concat": 0, "keep": 1, "generate": 2,
	})
	return registry
}()

// FormatJoinMode formats a join mode enum value.
func FormatJoinMode(v int) string {
	return defaultEnumRegistry.FormatEnum("JoinMode", v)
}

// ParseJoinMode parses a join mode name.
func ParseJoinMode(str string) (int, bool) {
	return defaultEnumRegistry.ParseEnum("JoinMode", str)
}

// FormatCompositionMode formats a composition mode enum value.
func FormatCompositionMode(v int) string {
	return defaultEnumRegistry.FormatEnum("CompositionMode", v)
}

// ParseCompositionMode parses a composition mode name.
func ParseCompositionMode(str string) (int, bool) {
	return defaultEnumRegistry.ParseEnum("CompositionMode", str)
}

// FormatDuplicateHandling formats a duplicate handling enum value.
func FormatDuplicateHandling(v int) string {
	return defaultEnumRegistry.FormatEnum("DuplicateHandling", v)
}

// ParseDuplicateHandling parses a duplicate handling name.
func ParseDuplicateHandling(str string) (int, bool) {
	return defaultEnumRegistry.ParseEnum("DuplicateHandling", str)
}

// FormatRowKeyPolicy formats a row key policy enum value.
func FormatRowKeyPolicy(v int) string {
	return defaultEnumRegistry.FormatEnum("RowKeyPolicy", v)
}

// ParseRowKeyPolicy parses a row key policy name.
func ParseRowKeyPolicy(str string) (int, bool) {
	return defaultEnumRegistry.ParseEnum("RowKeyPolicy", str)
}

// EnumNames lists the canonical names of a registered enum type.
func EnumNames(typeName string) []string {
	return defaultEnumRegistry.Names(typeName)
}
