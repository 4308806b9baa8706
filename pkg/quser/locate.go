package quser

import (
	"errors"
	"os"
	"os/exec"
	"path/filepath"

	envutil "github.com/projectdiscovery/utils/env"
	fileutil "github.com/projectdiscovery/utils/file"
	osutils "github.com/projectdiscovery/utils/os"
)

// ErrToolNotFound is returned when no quser executable can be located
var ErrToolNotFound = errors.New("quser executable not found in system directories or PATH")

// ToolName is the base name of the session enumeration tool
const ToolName = "quser"

// FindPath locates the quser executable.
//
// An explicit override wins when it exists. Otherwise the Windows system
// directories are checked in order (System32, Sysnative for 32-bit
// processes on 64-bit hosts, SysWOW64) before falling back to PATH.
func FindPath(override string) (string, error) {
	if override != "" {
		if fileutil.FileExists(override) {
			return override, nil
		}
		return "", ErrToolNotFound
	}

	for _, candidate := range systemCandidates() {
		if fileutil.FileExists(candidate) {
			return candidate, nil
		}
	}

	path, err := exec.LookPath(executableName())
	if err != nil {
		return "", ErrToolNotFound
	}
	return path, nil
}

func executableName() string {
	if osutils.IsWindows() {
		return ToolName + ".exe"
	}
	return ToolName
}

func systemCandidates() []string {
	if !osutils.IsWindows() {
		return nil
	}
	systemRoot := envutil.GetEnvOrDefault("SystemRoot", `C:\Windows`)
	name := executableName()
	return []string{
		filepath.Join(systemRoot, "System32", name),
		filepath.Join(systemRoot, "Sysnative", name),
		filepath.Join(systemRoot, "SysWOW64", name),
	}
}

// isNotFound reports whether err from starting a command means the
// executable itself is missing
func isNotFound(err error) bool {
	return errors.Is(err, exec.ErrNotFound) || errors.Is(err, os.ErrNotExist)
}
