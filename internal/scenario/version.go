package scenario

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/iwvelando/finance-model/pkg/constants"
)

type version struct {
	major int
	minor int
}

func parseVersion(s string) (version, error) {
	parts := strings.SplitN(strings.TrimSpace(s), ".", 2)
	major, err := strconv.Atoi(parts[0])
	if err != nil {
		return version{}, fmt.Errorf("invalid version %q", s)
	}
	minor := 0
	if len(parts) == 2 {
		if minor, err = strconv.Atoi(parts[1]); err != nil {
			return version{}, fmt.Errorf("invalid version %q", s)
		}
	}
	if major < 0 || minor < 0 {
		return version{}, fmt.Errorf("invalid version %q", s)
	}
	return version{major: major, minor: minor}, nil
}

func (v version) String() string {
	return fmt.Sprintf("%d.%d", v.major, v.minor)
}

// nextChildVersion returns parent major.(minor + siblings + 1), stepping the
// minor further while the candidate is already taken.
func nextChildVersion(parent string, siblings int, taken map[string]bool) string {
	v, err := parseVersion(parent)
	if err != nil {
		v, _ = parseVersion(constants.InitialScenarioVersion)
	}
	v.minor += siblings + 1
	for taken[v.String()] {
		v.minor++
	}
	return v.String()
}

// nextRootVersion returns the initial version, or the next free major
// version when another root scenario on the same file already holds it.
func nextRootVersion(taken map[string]bool) string {
	v, _ := parseVersion(constants.InitialScenarioVersion)
	for taken[v.String()] {
		v.major++
	}
	return v.String()
}
