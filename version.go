package shmpipe

import (
	"fmt"
	"strconv"
	"strings"
)

// Version is the version of the region layout and control protocol carried
// in every Handoff. Minor and Patch are -1 when absent.
type Version struct {
	Major, Minor, Patch int
}

// ProtocolVersion is what this build speaks. A spawned process refuses a
// handoff whose major version differs and logs a minor or patch skew.
var ProtocolVersion = Version{Major: 1, Minor: 0, Patch: 0}

// ParseVersion reads up to three dot-separated numbers from the front of s.
// Anything after the last number, such as "-rc1", is ignored.
func ParseVersion(s string) (Version, error) {
	parts := [3]int{-1, -1, -1}
	rest := s
	for i := range parts {
		end := strings.IndexFunc(rest, func(r rune) bool { return r < '0' || r > '9' })
		if end < 0 {
			end = len(rest)
		}
		if end == 0 {
			if i == 0 {
				return Version{}, fmt.Errorf("parse version %q: no major number", s)
			}
			break
		}
		n, err := strconv.Atoi(rest[:end])
		if err != nil {
			return Version{}, fmt.Errorf("parse version %q: %w", s, err)
		}
		parts[i] = n
		rest = rest[end:]
		if !strings.HasPrefix(rest, ".") {
			break
		}
		rest = rest[1:]
	}
	return Version{Major: parts[0], Minor: parts[1], Patch: parts[2]}, nil
}

// Compare returns -1, 0 or 1 as v is older than, equal to or newer than
// other. Absent components compare as -1.
func (v Version) Compare(other Version) int {
	for _, d := range [...]int{v.Major - other.Major, v.Minor - other.Minor, v.Patch - other.Patch} {
		switch {
		case d < 0:
			return -1
		case d > 0:
			return 1
		}
	}
	return 0
}

func (v Version) String() string {
	s := strconv.Itoa(v.Major)
	for _, n := range [...]int{v.Minor, v.Patch} {
		if n < 0 {
			break
		}
		s += "." + strconv.Itoa(n)
	}
	return s
}

// checkPeerVersion validates the version carried by a handoff. It returns
// the peer's version, which may differ from ProtocolVersion in minor or patch.
func checkPeerVersion(s string) (Version, error) {
	peer, err := ParseVersion(s)
	if err != nil {
		return Version{}, err
	}
	if peer.Major != ProtocolVersion.Major {
		return peer, fmt.Errorf("protocol version %s is not compatible with %s", peer, ProtocolVersion)
	}
	return peer, nil
}
