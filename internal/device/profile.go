package device

import (
	"strings"
)

// Wire contract with the bottle firmware. These must match exactly or discovery fails.
const (
	ServiceUUID          = "12345678-1234-5678-1234-56789abcdef0"
	ImageCharUUID        = "abcdef01-1234-5678-1234-56789abcdef0"
	CommandCharUUID      = "abcdef02-1234-5678-1234-56789abcdef0"
	AckValue        byte = 0x01
)

// Filter selects peripherals during RequestDevice. A filter with both fields set
// requires both to match; an empty filter matches nothing.
type Filter struct {
	Name       string `yaml:"name,omitempty"`
	NamePrefix string `yaml:"name_prefix,omitempty"`
}

// Matches reports whether a peripheral advertising name satisfies the filter.
func (f Filter) Matches(name string) bool {
	if f.Name == "" && f.NamePrefix == "" {
		return false
	}
	if f.Name != "" && name != f.Name {
		return false
	}
	if f.NamePrefix != "" && !strings.HasPrefix(name, f.NamePrefix) {
		return false
	}
	return true
}

// MatchAny reports whether name satisfies at least one filter.
// An empty filter list accepts every peripheral.
func MatchAny(filters []Filter, name string) bool {
	if len(filters) == 0 {
		return true
	}
	for _, f := range filters {
		if f.Matches(name) {
			return true
		}
	}
	return false
}

// DefaultFilters returns the filter set the bottle firmware is known to advertise under.
func DefaultFilters() []Filter {
	return []Filter{
		{Name: "MoodSip"},
		{Name: "MoodSip-Bottle"},
		{NamePrefix: "MoodSip"},
		{NamePrefix: "ESP32"},
		{NamePrefix: "Arduino"},
	}
}
