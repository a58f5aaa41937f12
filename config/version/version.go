// Package version is used to inject build time information via -X variables
package version

import (
	"fmt"
	"os"
	"strings"
)

// Default build-time variable.
// These values can (should) be overridden via ldflags when built with
// `make`
var (
	version   = "unknown-version"
	goVersion = "unknown-goversion"
	vcsRef    = "unknown-vcsref"
	vcsDirty  = "unknown-vcsdirty"
	buildTime = "unknown-buildtime"
	buildOs   = "unknown-os"
	arch      = "unknown-arch"
)

// InfoType is a collection of build time environment variables
type InfoType struct {
	Version   string `json:"version"`
	GoVersion string `json:"goversion"`
	VcsRef    string `json:"vcsref"`
	VcsDirty  string `json:"vcsdirty"`
	BuildTime string `json:"buildtime"`
	Os        string `json:"os"`
	Arch      string `json:"arch"`
}

// VersionInfo is an instance of build time environment variables populated at build time via -X arguments
var VersionInfo InfoType

func init() {
	VersionInfo = InfoType{
		Version:   version,
		VcsRef:    vcsRef,
		VcsDirty:  vcsDirty,
		GoVersion: goVersion,
		Os:        buildOs,
		Arch:      arch,
		BuildTime: buildTime,
	}
}

func (v InfoType) String(indent string) string {
	builder := strings.Builder{}

	builder.WriteString(fmt.Sprintf("%sVersion:      %s\n", indent, VersionInfo.Version))
	builder.WriteString(fmt.Sprintf("%sGoVersion:    %s\n", indent, VersionInfo.GoVersion))
	builder.WriteString(fmt.Sprintf("%sVCS Ref:      %s\n", indent, VersionInfo.VcsRef))
	builder.WriteString(fmt.Sprintf("%sVCS Dirty:    %s\n", indent, VersionInfo.VcsDirty))
	builder.WriteString(fmt.Sprintf("%sBuilt:        %s\n", indent, VersionInfo.BuildTime))
	builder.WriteString(fmt.Sprintf("%sOS/Arch:      %s/%s\n", indent, VersionInfo.Os, VersionInfo.Arch))
	return builder.String()
}

// GetCodeVersion returns the injected version, falling back to the VERSION
// file when built without ldflags
func GetCodeVersion() string {
	if VersionInfo.Version == "unknown-version" {
		content, err := os.ReadFile("VERSION")
		if err == nil {
			return (string(content))
		}
		return VersionInfo.Version
	}
	return VersionInfo.Version
}
