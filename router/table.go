package router

import (
	"fmt"
	"io"
	"os"

	"github.com/pelletier/go-toml/v2"
)

// Table is the on-disk form of a capability table.
//
//	threshold = 0.5
//	default_agent = "echo"
//
//	[[profiles]]
//	agent = "finance"
//	keywords = ["bitcoin", "wallet"]
//
//	[[profiles.terms]]
//	phrase = "smart contract"
//	weight = 1.0
type Table struct {
	Threshold    float64   `toml:"threshold"`
	DefaultAgent string    `toml:"default_agent"`
	Profiles     []Profile `toml:"profiles"`
}

// LoadTable decodes a TOML capability table.
func LoadTable(r io.Reader) (Table, error) {
	var t Table
	dec := toml.NewDecoder(r)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&t); err != nil {
		return Table{}, fmt.Errorf("decode capability table: %w", err)
	}
	for i, p := range t.Profiles {
		if p.AgentID == "" {
			return Table{}, fmt.Errorf("capability table: profile %d has no agent", i)
		}
	}
	return t, nil
}

// LoadTableFile reads a TOML capability table from path.
func LoadTableFile(path string) (Table, error) {
	f, err := os.Open(path)
	if err != nil {
		return Table{}, fmt.Errorf("open capability table: %w", err)
	}
	defer f.Close()
	return LoadTable(f)
}

// Apply configures router options from the table. Zero values leave the
// defaults in place.
func (t Table) Apply(o *Options) {
	if t.Threshold > 0 {
		o.Threshold = t.Threshold
	}
	if t.DefaultAgent != "" {
		o.DefaultAgent = t.DefaultAgent
	}
	if len(t.Profiles) > 0 {
		o.Profiles = t.Profiles
	}
}
