// Package runtimelib holds the pinned tensor-library sets per platform and
// the compatibility rules that keep them consistent.
//
// The attention-extension wheel is a native binary built against one exact
// tensor-library build. Any drift between the two breaks the binary
// interface silently (the import succeeds, then the kernel crashes or
// computes garbage), so version equality is a hard requirement and is
// checked before anything is installed.
package runtimelib

import (
	"errors"
	"fmt"
	"sort"

	"github.com/shinji-kodama/hidream-installer/internal/model"
)

const (
	// CUDAIndexURL is the PyTorch index serving the cu128 builds.
	CUDAIndexURL = "https://download.pytorch.org/whl/cu128"

	// DefaultExtensionWheel is a FlashAttention build for torch 2.7.0,
	// CUDA 12.8, CPython 3.10 on 64-bit Windows.
	DefaultExtensionWheel = "https://github.com/petermg/flash_attn_windows/releases/download/v2.7.4.post1/" +
		"flash_attn-2.7.4.post1+cu128.torch270-cp310-cp310-win_amd64.whl"
)

// Table maps each platform to its runtime-library set.
type Table map[model.PlatformKind]model.RuntimeLibrarySpec

// Default returns the built-in pins.
//
// Windows gets the cu128 builds from the PyTorch index plus the matching
// prebuilt FlashAttention wheel; stale extension and tensor variants are
// uninstalled first. Other platforms take the default-index builds and no
// extension wheel.
func Default() Table {
	return Table{
		model.PlatformWindows: {
			Tensor: model.Pin{Name: "torch", Version: "2.7.0+cu128"},
			Companions: []model.Pin{
				{Name: "torchvision", Version: "0.22.0+cu128"},
				{Name: "torchaudio", Version: "2.7.0+cu128"},
			},
			IndexURL:       CUDAIndexURL,
			ExtensionWheel: DefaultExtensionWheel,
			Uninstall: []string{
				"flash-attn", "flash_attn", "flash_attn_cuda",
				"torch", "torchvision", "torchaudio",
			},
		},
		model.PlatformOther: {
			Tensor: model.Pin{Name: "torch", Version: "2.8.0"},
			Companions: []model.Pin{
				{Name: "torchvision", Version: "0.23.0"},
				{Name: "torchaudio", Version: "2.8.0"},
			},
		},
	}
}

// Lookup returns the spec for platform.
func (t Table) Lookup(platform model.PlatformKind) (model.RuntimeLibrarySpec, error) {
	spec, ok := t[platform]
	if !ok {
		return model.RuntimeLibrarySpec{}, fmt.Errorf("no runtime library set for platform %q", platform)
	}
	return spec, nil
}

// Clone returns a deep copy, so overrides never mutate Default().
func (t Table) Clone() Table {
	out := make(Table, len(t))
	for k, v := range t {
		v.Companions = append([]model.Pin(nil), v.Companions...)
		v.Uninstall = append([]string(nil), v.Uninstall...)
		out[k] = v
	}
	return out
}

// Platforms returns the table's platforms in a stable order.
func (t Table) Platforms() []model.PlatformKind {
	out := make([]model.PlatformKind, 0, len(t))
	for k := range t {
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Validate checks every spec in the table. An extension reference whose
// build cannot be identified is accepted; only ErrIncompatible and
// malformed pins fail.
func (t Table) Validate() error {
	for _, p := range t.Platforms() {
		if err := CheckCompatibility(t[p]); err != nil && !errors.Is(err, ErrOpaqueWheel) {
			return fmt.Errorf("platform %s: %w", p, err)
		}
	}
	return nil
}
