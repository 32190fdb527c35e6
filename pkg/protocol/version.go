package protocol

import (
	"errors"
	"fmt"
)

// Version identifies a protocol version. The high byte is the major
// version and the low byte the minor, so the natural ordering of the
// integer matches the ordering of versions.
type Version uint16

// Known protocol versions.
const (
	V1_0 Version = 0x0100 // v1.0
)

// SupportedVersions is the process-wide candidate pool offered during
// negotiation, in ascending order.
var SupportedVersions = []Version{V1_0}

var ErrNoCommonVersion = errors.New("no mutually supported protocol version")

// String renders the version as "major.minor".
func (v Version) String() string {
	return fmt.Sprintf("%d.%d", uint16(v)>>8, uint16(v)&0xFF)
}

// NegotiateVersion selects the highest version present in both sets.
// It returns ErrNoCommonVersion when the sets are disjoint.
func NegotiateVersion(local, offered []Version) (Version, error) {
	var best Version
	found := false

	for _, l := range local {
		for _, o := range offered {
			if l != o {
				continue
			}
			if !found || l > best {
				best = l
				found = true
			}
		}
	}

	if !found {
		return 0, ErrNoCommonVersion
	}
	return best, nil
}
