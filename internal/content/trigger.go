package content

import (
	"errors"
	"fmt"
	"math"
	"net/url"
	"strings"
)

// ErrNoFuzzScript is returned for a fuzz trigger without a script URL.
var ErrNoFuzzScript = errors.New("fuzz trigger has no script URL")

const fuzzPrefix = "fuzz="

// TriggerKind says what a navigation asks for.
type TriggerKind int

const (
	NoTrigger TriggerKind = iota
	HarnessTrigger
	FuzzTrigger
)

func (k TriggerKind) String() string {
	switch k {
	case HarnessTrigger:
		return "harness"
	case FuzzTrigger:
		return "fuzz"
	default:
		return "none"
	}
}

// Trigger is the action encoded in a page URL.
type Trigger struct {
	Kind TriggerKind
	Page *url.URL

	// harness
	Timeout  float64
	Location string

	// fuzz
	Settings  []float64
	ScriptURL *url.URL
}

// ParseTrigger inspects a page URL.
//
// http://localhost:PORT/...#N or http://127.0.0.1:PORT/...#N, where N is
// anything Number() accepts, starts the harness against that origin.
// file:///...#fuzz=p1,...,pN,script loads script (resolved against the page)
// and runs it with fuzzSettings = [p1,...,pN].
func ParseTrigger(raw string) (Trigger, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return Trigger{}, fmt.Errorf("parse page url: %w", err)
	}
	t := Trigger{Kind: NoTrigger, Page: u}

	switch {
	case u.Scheme == "file" && strings.HasPrefix(u.Fragment, fuzzPrefix):
		parts := strings.Split(strings.TrimPrefix(u.Fragment, fuzzPrefix), ",")
		ref := parts[len(parts)-1]
		if strings.TrimSpace(ref) == "" {
			return Trigger{}, ErrNoFuzzScript
		}
		script, err := u.Parse(ref)
		if err != nil {
			return Trigger{}, fmt.Errorf("parse fuzz script url: %w", err)
		}
		t.Kind = FuzzTrigger
		t.ScriptURL = script
		t.Settings = make([]float64, 0, len(parts)-1)
		for _, p := range parts[:len(parts)-1] {
			t.Settings = append(t.Settings, parseJSNumber(p))
		}

	case u.Scheme == "http" && isLoopbackName(u.Hostname()) && u.Fragment != "":
		timeout := parseJSNumber(u.Fragment)
		if math.IsNaN(timeout) {
			return t, nil
		}
		t.Kind = HarnessTrigger
		t.Timeout = timeout
		t.Location = "http://" + u.Host
	}
	return t, nil
}

func isLoopbackName(host string) bool {
	return host == "localhost" || host == "127.0.0.1"
}
