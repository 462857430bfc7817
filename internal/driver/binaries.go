package driver

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
)

// BinaryName returns the conventional driver binary name for an engine major
// version on the current platform.
func BinaryName(major string) string {
	if runtime.GOOS == "windows" {
		return fmt.Sprintf("chromedriver%s.exe", major)
	}
	return fmt.Sprintf("chromedriver%s", major)
}

// BinaryPath returns the expected driver binary location under dir.
func BinaryPath(dir, major string) string {
	return filepath.Join(dir, BinaryName(major))
}

// VerifyBinaries lists the provisioned driver binaries under dir. It is a
// preflight for the CLI; the attacher still checks the specific binary it
// needs at attach time.
func VerifyBinaries(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read driver dir: %w", err)
	}
	var names []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasPrefix(e.Name(), "chromedriver") {
			names = append(names, e.Name())
		}
	}
	return names, nil
}
