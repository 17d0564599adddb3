package runtimelib

import (
	"fmt"
	"net/url"
	"strings"
)

// Wheel holds the fields of a PEP 427 wheel filename:
//
//	{distribution}-{version}(-{build})?-{python}-{abi}-{platform}.whl
type Wheel struct {
	Distribution string
	Version      string
	Build        string
	PythonTag    string
	ABITag       string
	PlatformTag  string
}

// LocalLabel returns the local version label (the part after "+"), e.g.
// "cu128.torch270" for version "2.7.4.post1+cu128.torch270".
func (w Wheel) LocalLabel() string {
	_, local, _ := strings.Cut(w.Version, "+")
	return local
}

// NormalizedLocal returns the local label lowercased with the ".", "-" and
// "_" separators removed, so "cu128.torch270" and "cu128torch2.7.0" both
// read "cu128torch270".
func (w Wheel) NormalizedLocal() string {
	return normalizeLabel(w.LocalLabel())
}

func normalizeLabel(label string) string {
	return strings.Map(func(r rune) rune {
		if r == '.' || r == '-' || r == '_' {
			return -1
		}
		return r
	}, strings.ToLower(label))
}

// ParseWheelName parses the wheel filename at the end of ref, which may be
// a URL or a filesystem path. Query strings and fragments are ignored and
// percent-escapes (a "+" is often served as %2B) are decoded.
func ParseWheelName(ref string) (Wheel, error) {
	name := ref
	if i := strings.IndexAny(name, "?#"); i >= 0 {
		name = name[:i]
	}
	if i := strings.LastIndexAny(name, `/\`); i >= 0 {
		name = name[i+1:]
	}
	if decoded, err := url.PathUnescape(name); err == nil {
		name = decoded
	}

	stem, ok := strings.CutSuffix(name, ".whl")
	if !ok {
		return Wheel{}, fmt.Errorf("not a wheel filename: %q", name)
	}

	parts := strings.Split(stem, "-")
	var w Wheel
	switch len(parts) {
	case 5:
		w = Wheel{
			Distribution: parts[0], Version: parts[1],
			PythonTag: parts[2], ABITag: parts[3], PlatformTag: parts[4],
		}
	case 6:
		w = Wheel{
			Distribution: parts[0], Version: parts[1], Build: parts[2],
			PythonTag: parts[3], ABITag: parts[4], PlatformTag: parts[5],
		}
	default:
		return Wheel{}, fmt.Errorf("malformed wheel filename %q: expected 5 or 6 dash-separated fields, got %d", name, len(parts))
	}

	for _, f := range []string{w.Distribution, w.Version, w.PythonTag, w.ABITag, w.PlatformTag} {
		if f == "" {
			return Wheel{}, fmt.Errorf("malformed wheel filename %q: empty field", name)
		}
	}
	return w, nil
}
