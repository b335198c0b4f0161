package harness

import (
	"fmt"

	"lab-harness/internal/suite"
)

// Mode is one of the lab server's operating modes.
type Mode string

const (
	ModeParse Mode = "parse"
	ModeEcho  Mode = "echo"
	ModeMap   Mode = "map"
	ModeFull  Mode = "full"
)

// SelectAll runs every mode in order.
const SelectAll = "all"

// Modes returns every mode in the order "all" runs them.
func Modes() []Mode {
	return []Mode{ModeParse, ModeEcho, ModeMap, ModeFull}
}

// ParseSelector turns the --mode value into the modes to run.
func ParseSelector(s string) ([]Mode, error) {
	if s == SelectAll {
		return Modes(), nil
	}
	for _, m := range Modes() {
		if string(m) == s {
			return []Mode{m}, nil
		}
	}
	return nil, fmt.Errorf("unknown mode %q (want parse, echo, map, full or all)", s)
}

// ModeSpec binds a mode to its suite.
type ModeSpec struct {
	Mode     Mode
	Title    string
	NewSuite suite.Factory
	// RequiresAssets marks the one mode that is started with -root.
	RequiresAssets bool
}

// ModeTable is the mode lookup table. It is built once and only read after
// that; With returns a modified copy.
type ModeTable struct {
	specs map[Mode]ModeSpec
}

// NewModeTable builds the table for the lab8 suites. assetsRoot is what the
// full-mode suite compares served files against.
func NewModeTable(assetsRoot string, opts suite.Options) ModeTable {
	specs := make(map[Mode]ModeSpec, len(Modes()))
	for _, m := range Modes() {
		var spec ModeSpec
		switch m {
		case ModeParse:
			spec = ModeSpec{Title: "Lab8 Structure Parse", NewSuite: func(host string, port int) suite.Suite {
				return suite.NewStructureParse(host, port, opts)
			}}
		case ModeEcho:
			spec = ModeSpec{Title: "Lab8 Web Echo", NewSuite: func(host string, port int) suite.Suite {
				return suite.NewWebEcho(host, port, opts)
			}}
		case ModeMap:
			spec = ModeSpec{Title: "Lab8 URI Mapping", NewSuite: func(host string, port int) suite.Suite {
				return suite.NewURIMapping(host, port, opts)
			}}
		case ModeFull:
			spec = ModeSpec{Title: "Lab8 Resource Retrieve", RequiresAssets: true, NewSuite: func(host string, port int) suite.Suite {
				return suite.NewResourceRetrieve(host, port, assetsRoot, opts)
			}}
		default:
			panic(fmt.Sprintf("no suite for mode %q", m))
		}
		spec.Mode = m
		specs[m] = spec
	}
	return ModeTable{specs: specs}
}

// Lookup returns the spec for m.
func (t ModeTable) Lookup(m Mode) (ModeSpec, bool) {
	spec, ok := t.specs[m]
	return spec, ok
}

// With returns a copy of t with spec replacing the entry for spec.Mode.
func (t ModeTable) With(spec ModeSpec) ModeTable {
	specs := make(map[Mode]ModeSpec, len(t.specs))
	for m, s := range t.specs {
		specs[m] = s
	}
	specs[spec.Mode] = spec
	return ModeTable{specs: specs}
}

// RequiresAssets reports whether any of modes needs the assets directory.
func (t ModeTable) RequiresAssets(modes []Mode) bool {
	for _, m := range modes {
		if spec, ok := t.specs[m]; ok && spec.RequiresAssets {
			return true
		}
	}
	return false
}
