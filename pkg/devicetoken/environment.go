package devicetoken

import (
	"bytes"
	"fmt"
	"os"
	"regexp"

	"github.com/gp-webrtc/gp-webrtc-ios/pkg/contracts"
)

var (
	plistStart = []byte("<plist")
	plistEnd   = []byte("</plist>")

	apsEnvironment = regexp.MustCompile(`<key>aps-environment</key>\s*<string>([^<]*)</string>`)
)

// EnvironmentFromProvisioning extracts the aps-environment entitlement
// from an embedded provisioning profile. The profile is a signed container
// wrapping an XML property list; only the plist section is scanned.
// Profiles without the entitlement, including simulator builds that ship
// no profile, map to development.
func EnvironmentFromProvisioning(profile []byte) contracts.Environment {
	start := bytes.Index(profile, plistStart)
	if start < 0 {
		return contracts.EnvironmentDevelopment
	}
	end := bytes.Index(profile[start:], plistEnd)
	if end < 0 {
		return contracts.EnvironmentDevelopment
	}
	m := apsEnvironment.FindSubmatch(profile[start : start+end])
	if m == nil {
		return contracts.EnvironmentDevelopment
	}
	return contracts.ParseEnvironment(string(bytes.TrimSpace(m[1])))
}

// LoadEnvironment reads the provisioning profile at path. A missing file
// is not an error and yields development.
func LoadEnvironment(path string) (contracts.Environment, error) {
	if path == "" {
		return contracts.EnvironmentDevelopment, nil
	}
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return contracts.EnvironmentDevelopment, nil
	}
	if err != nil {
		return contracts.EnvironmentDevelopment, fmt.Errorf("read provisioning profile: %w", err)
	}
	return EnvironmentFromProvisioning(data), nil
}
