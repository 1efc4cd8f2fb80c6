package image

import (
	"strings"

	"github.com/coreos/go-semver/semver"
)

// CompareVersions orders two descriptor versions. Versions are compared as
// semantic versions with an optional leading "v". ok is false when either
// side is not a semantic version; the result is then meaningless.
func CompareVersions(a, b string) (cmp int, ok bool) {
	va, err := semver.NewVersion(strings.TrimPrefix(a, "v"))
	if err != nil {
		return 0, false
	}
	vb, err := semver.NewVersion(strings.TrimPrefix(b, "v"))
	if err != nil {
		return 0, false
	}
	return va.Compare(*vb), true
}
