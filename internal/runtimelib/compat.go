package runtimelib

import (
	"errors"
	"fmt"
	"regexp"
	"slices"
	"strings"

	"github.com/Masterminds/semver/v3"

	"github.com/shinji-kodama/hidream-installer/internal/model"
)

// ErrIncompatible is returned (wrapped) when pins break the build
// identifier relation.
var ErrIncompatible = errors.New("incompatible runtime library pins")

// ErrOpaqueWheel is returned (wrapped) when compatibility of an extension
// reference cannot be decided: it is not a wheel filename, or its local
// label names no accelerator or tensor build.
var ErrOpaqueWheel = errors.New("extension build cannot be identified")

// cudaTag matches an accelerator tag such as "cu128" in a normalized label.
var cudaTag = regexp.MustCompile(`cu\d+`)

// BuildTags returns the tags extension wheels use to name the tensor build
// they were compiled against, most specific first: "torch270" and
// "torch27" for torch 2.7.0.
func BuildTags(tensor model.Pin) ([]string, error) {
	v, err := semver.NewVersion(tensor.Version)
	if err != nil {
		return nil, fmt.Errorf("parse %s version %q: %w", tensor.Name, tensor.Version, err)
	}
	name := strings.ToLower(tensor.Name)
	return []string{
		fmt.Sprintf("%s%d%d%d", name, v.Major(), v.Minor(), v.Patch()),
		fmt.Sprintf("%s%d%d", name, v.Major(), v.Minor()),
	}, nil
}

// localLabel returns the build identifier of a pin ("cu128" for
// "2.7.0+cu128"). semver keeps the PEP 440 local label as build metadata.
func localLabel(p model.Pin) (string, error) {
	v, err := semver.NewVersion(p.Version)
	if err != nil {
		return "", fmt.Errorf("parse %s version %q: %w", p.Name, p.Version, err)
	}
	return strings.ToLower(v.Metadata()), nil
}

// CheckCompatibility enforces the build-identifier relation of a spec:
//
//   - every companion shares the tensor library's local label;
//   - the extension wheel's local label names the tensor library's local
//     label (e.g. "cu128") and its build (e.g. "torch270" or "torch2.7"),
//     see CheckWheel.
func CheckCompatibility(spec model.RuntimeLibrarySpec) error {
	if spec.Tensor.Name == "" || spec.Tensor.Version == "" {
		return fmt.Errorf("%w: tensor library pin is empty", ErrIncompatible)
	}

	local, err := localLabel(spec.Tensor)
	if err != nil {
		return err
	}

	for _, c := range spec.Companions {
		cl, err := localLabel(c)
		if err != nil {
			return err
		}
		if cl != local {
			return fmt.Errorf("%w: %s is built for %q but %s is built for %q",
				ErrIncompatible, c, labelOrDefault(cl), spec.Tensor, labelOrDefault(local))
		}
	}

	if !spec.HasExtension() {
		return nil
	}
	return CheckWheel(spec.Tensor, spec.ExtensionWheel)
}

// CheckWheel checks a single extension reference against the tensor pin.
//
// Wheel publishers spell the build differently ("cu128.torch270",
// "cu128torch2.7.0cxx11abiFALSE"), so the local label is compared in its
// normalized form. The tensor build matches on major.minor.patch or
// major.minor. Only a positively different tag is ErrIncompatible; a label
// that names neither tag yields ErrOpaqueWheel.
func CheckWheel(tensor model.Pin, ref string) error {
	wheel, err := ParseWheelName(ref)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrOpaqueWheel, err)
	}

	local, err := localLabel(tensor)
	if err != nil {
		return err
	}
	tags, err := BuildTags(tensor)
	if err != nil {
		return err
	}

	label := wheel.NormalizedLocal()
	undecided := false

	if want := normalizeLabel(local); want != "" && !strings.Contains(label, want) {
		if found := cudaTag.FindAllString(label, -1); len(found) > 0 {
			return fmt.Errorf("%w: %s %s is built for %s, not %s",
				ErrIncompatible, wheel.Distribution, wheel.Version, strings.Join(found, "/"), local)
		}
		undecided = true
	}

	name := strings.ToLower(tensor.Name)
	builds := regexp.MustCompile(regexp.QuoteMeta(name) + `\d+`).FindAllString(label, -1)
	switch {
	case len(builds) == 0:
		undecided = true
	case !slices.ContainsFunc(builds, func(b string) bool { return slices.Contains(tags, b) }):
		return fmt.Errorf("%w: %s %s is not built against %s (local label %q)",
			ErrIncompatible, wheel.Distribution, wheel.Version, tensor, wheel.LocalLabel())
	}

	if undecided {
		return fmt.Errorf("%w: local label %q of %s does not name the %s build",
			ErrOpaqueWheel, wheel.LocalLabel(), wheel.Distribution, tensor)
	}
	return nil
}

func labelOrDefault(label string) string {
	if label == "" {
		return "default build"
	}
	return label
}
