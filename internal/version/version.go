// Copyright (c) 2013-2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package version provides a single location to house the version information
// for pkgrelayd.
package version

import (
	"fmt"
	"strings"
)

// semanticAlphabet defines the allowed characters for the pre-release and
// build portions of a semantic version string.
const semanticAlphabet = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz-."

// These constants define the application version and follow the semantic
// versioning 2.0.0 spec (http://semver.org/).
const (
	Major uint = 0
	Minor uint = 1
	Patch uint = 0
)

var (
	// PreRelease is defined as a variable so it can be overridden during
	// the build process with:
	// '-ldflags "-X github.com/btcsuite/pkgrelay/internal/version.PreRelease=foo"'
	// if needed.
	PreRelease = "beta"

	// BuildMetadata is defined as a variable so it can be overridden
	// during the build process with:
	// '-ldflags "-X github.com/btcsuite/pkgrelay/internal/version.BuildMetadata=foo"'
	// if needed.
	BuildMetadata = ""
)

// String returns the application version as a properly formed string per the
// semantic versioning 2.0.0 spec (http://semver.org/).  Invalid characters in
// the pre-release and build portions are dropped, as are the dots in the
// pre-release portion.
func String() string {
	version := fmt.Sprintf("%d.%d.%d", Major, Minor, Patch)

	preRelease := normalize(strings.ReplaceAll(PreRelease, ".", ""))
	if preRelease != "" {
		version = fmt.Sprintf("%s-%s", version, preRelease)
	}

	build := normalize(BuildMetadata)
	if build != "" {
		version = fmt.Sprintf("%s+%s", version, build)
	}

	return version
}

// normalize returns str stripped of every character outside semanticAlphabet.
func normalize(str string) string {
	return strings.Map(func(r rune) rune {
		if strings.ContainsRune(semanticAlphabet, r) {
			return r
		}
		return -1
	}, str)
}
