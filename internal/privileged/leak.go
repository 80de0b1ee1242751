package privileged

import (
	"fmt"
	"maps"
	"os"
	"path/filepath"
	"runtime"
	"slices"
	"strings"

	"github.com/goccy/go-yaml"
	"github.com/pelletier/go-toml/v2"
)

// Baseline is the expected live-object count per class after a clean
// shutdown, with adjustments for subjects left open and for macOS, which
// keeps extra documents alive.
type Baseline struct {
	Base      map[string]int64 `yaml:"base" toml:"base"`
	LeaveOpen map[string]int64 `yaml:"leave_open" toml:"leave_open"`
	Darwin    map[string]int64 `yaml:"darwin" toml:"darwin"`
}

// DefaultBaseline returns the counts a Gecko debug build reports.
func DefaultBaseline() *Baseline {
	return &Baseline{
		Base: map[string]int64{
			"nsGlobalWindow":          4,
			"nsDocument":              4,
			"nsDocShell":              5,
			"BackstagePass":           1,
			"nsGenericElement":        1927,
			"nsHTMLDivElement":        4,
			"xpc::CompartmentPrivate": 3,
		},
		LeaveOpen: map[string]int64{
			"nsGlobalWindow": 6,
			"nsDocument":     24,
		},
		Darwin: map[string]int64{
			"nsDocument": 4,
		},
	}
}

// ChromeBaseline returns the DOM counters a Chromium renderer reports for
// the blank probe page once every subject is closed.
func ChromeBaseline() *Baseline {
	return &Baseline{
		Base: map[string]int64{
			"documents":        1,
			"nodes":            4,
			"jsEventListeners": 0,
		},
		LeaveOpen: map[string]int64{
			"documents":        2,
			"nodes":            400,
			"jsEventListeners": 40,
		},
	}
}

// BaselineFor picks the default baseline matching a host driver's counters.
func BaselineFor(driver string) *Baseline {
	if driver == "cdp" {
		return ChromeBaseline()
	}
	return DefaultBaseline()
}

// LoadBaseline reads a baseline file. Files ending in .toml are parsed as
// TOML, anything else as YAML.
func LoadBaseline(path string) (*Baseline, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read baseline: %w", err)
	}
	var b Baseline
	if strings.EqualFold(filepath.Ext(path), ".toml") {
		err = toml.Unmarshal(data, &b)
	} else {
		err = yaml.Unmarshal(data, &b)
	}
	if err != nil {
		return nil, fmt.Errorf("parse baseline %s: %w", path, err)
	}
	if len(b.Base) == 0 {
		return nil, fmt.Errorf("baseline %s has no base counts", path)
	}
	return &b, nil
}

// Expected returns the per-class expectation for this run.
func (b *Baseline) Expected(leaveOpen bool, goos string) map[string]int64 {
	out := maps.Clone(b.Base)
	if leaveOpen {
		for class, extra := range b.LeaveOpen {
			out[class] += extra
		}
	}
	if goos == "darwin" {
		for class, extra := range b.Darwin {
			out[class] += extra
		}
	}
	return out
}

// Compare checks counts against the expectation. Classes the host did not
// report are skipped.
func (b *Baseline) Compare(counts map[string]int64, leaveOpen bool) *LeakReport {
	return b.compare(counts, leaveOpen, runtime.GOOS)
}

func (b *Baseline) compare(counts map[string]int64, leaveOpen bool, goos string) *LeakReport {
	report := &LeakReport{Prefix: "Leaked until shutdown"}
	if leaveOpen {
		report.Prefix = "Leaked until tab close"
	}

	expected := b.Expected(leaveOpen, goos)
	for _, class := range slices.Sorted(maps.Keys(expected)) {
		n, ok := counts[class]
		if !ok {
			continue
		}
		report.Compared++
		want := expected[class]
		switch {
		case n > want:
			report.Leaked = append(report.Leaked, Finding{Class: class, Count: n, Expected: want})
		case n < want:
			report.Odd = append(report.Odd, Finding{Class: class, Count: n, Expected: want})
		}
	}
	return report
}

// Finding is one class whose count differs from its expectation.
type Finding struct {
	Class    string `json:"class"`
	Count    int64  `json:"count"`
	Expected int64  `json:"expected"`
}

// LeakReport is the result of a leak check. Compared is the number of
// baseline classes the host reported.
type LeakReport struct {
	Prefix   string    `json:"prefix"`
	Compared int       `json:"compared"`
	Leaked   []Finding `json:"leaked"`
	Odd      []Finding `json:"odd"`
}

// Lines renders the report in the format log scrapers look for.
func (r *LeakReport) Lines() []string {
	lines := make([]string, 0, len(r.Leaked)+len(r.Odd))
	for _, f := range r.Leaked {
		lines = append(lines, fmt.Sprintf("%s: %s(%d > %d)", r.Prefix, f.Class, f.Count, f.Expected))
	}
	for _, f := range r.Odd {
		lines = append(lines, fmt.Sprintf("That's odd: %s(%d < %d)", f.Class, f.Count, f.Expected))
	}
	return lines
}
