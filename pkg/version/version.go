package version

import "fmt"

// Name of the tool as shown in the banner and error log
const Name = "sessionhunt"

// Version is overridden at build time with
// -ldflags "-X github.com/projectdiscovery/sessionhunt/pkg/version.Version=vX.Y.Z"
var Version = "v0.1.0"

// GetVersion returns the version string
func GetVersion() string {
	return Version
}

// String returns the tool name and version
func String() string {
	return fmt.Sprintf("%s %s", Name, Version)
}
