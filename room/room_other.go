//go:build !(darwin && arm64)

package room

import "fmt"

// jump is unreachable off arm64 Darwin; EntryVA's RegionProtection call
// already fails first on this build, but this stub keeps the package
// linkable for cross-platform tests.
func jump(va uintptr, progName string) error {
	return fmt.Errorf("room: entry jump unsupported on this platform")
}
