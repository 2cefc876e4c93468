package p2pswap

import (
	"fmt"
	"strings"
)

// Commit is the commit the binary was built from, set through -ldflags.
var Commit string

// semanticAlphabet holds the characters semver allows in pre-release and
// build metadata identifiers.
const semanticAlphabet = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz-"

const (
	appMajor uint = 0
	appMinor uint = 1
	appPatch uint = 0

	// appPreRelease may only contain characters of semanticAlphabet.
	appPreRelease = "alpha"
)

// Version returns the semantic version and the commit of the build.
func Version() string {
	return fmt.Sprintf("%s commit=%s", semanticVersion(), Commit)
}

func semanticVersion() string {
	version := fmt.Sprintf("%d.%d.%d", appMajor, appMinor, appPatch)

	if preRelease := normalizeVerString(
		appPreRelease, semanticAlphabet,
	); preRelease != "" {
		version += "-" + preRelease
	}

	return version
}

// normalizeVerString drops the characters of str that are not in alphabet.
func normalizeVerString(str, alphabet string) string {
	return strings.Map(func(r rune) rune {
		if strings.ContainsRune(alphabet, r) {
			return r
		}

		return -1
	}, str)
}
