// Package proximity decides whether a caller is attached to the access
// point a room was opened on.
package proximity

import (
	"context"
	"os/exec"
	"regexp"
	"runtime"
)

// Validator compares access-point identifiers. With Required false every
// check passes, for deployments that do not gate on network location.
type Validator struct {
	Required bool
}

// Validate reports whether current matches the room's bound identifier.
// Comparison is exact; an empty current identifier never matches.
func (v Validator) Validate(bound, current string) bool {
	if !v.Required {
		return true
	}
	if current == "" || bound == "" {
		return false
	}
	return bound == current
}

var (
	netshBSSID   = regexp.MustCompile(`BSSID\s*:\s*([0-9A-Fa-f:-]+)`)
	iwconfigAP   = regexp.MustCompile(`Access Point:\s*([0-9A-Fa-f:]{17})`)
	iwLinkBSSIDs = regexp.MustCompile(`Connected to\s+([0-9A-Fa-f:]{17})`)
)

// ParseBSSID extracts the attached access point from `netsh wlan show
// interfaces`, `iwconfig` or `iw dev <if> link` output. It returns "" when
// none is present.
func ParseBSSID(output string) string {
	for _, re := range []*regexp.Regexp{netshBSSID, iwconfigAP, iwLinkBSSIDs} {
		if m := re.FindStringSubmatch(output); m != nil {
			return m[1]
		}
	}
	return ""
}

// Probe runs the platform wireless tool and returns the current BSSID, or
// "" if it cannot be determined. Failure is not an error: an unknown
// attachment point simply fails validation.
func Probe(ctx context.Context) string {
	var cmd *exec.Cmd
	switch runtime.GOOS {
	case "windows":
		cmd = exec.CommandContext(ctx, "netsh", "wlan", "show", "interfaces")
	default:
		cmd = exec.CommandContext(ctx, "iwconfig")
	}
	out, err := cmd.Output()
	if err != nil && len(out) == 0 {
		return ""
	}
	return ParseBSSID(string(out))
}
