//go:build !(darwin && arm64)

package vm

import "testing"

func TestStubReturnsUnsupported(t *testing.T) {
	task := Self()
	if _, err := Allocate(task, 4096); err == nil {
		t.Fatal("Allocate: want error on non-darwin/arm64 build")
	}
	if err := Deallocate(task, 0, 4096); err == nil {
		t.Fatal("Deallocate: want error on non-darwin/arm64 build")
	}
	if err := Write(task, 0, []byte("x")); err == nil {
		t.Fatal("Write: want error on non-darwin/arm64 build")
	}
	if err := Protect(task, 0, 4096, true, 0); err == nil {
		t.Fatal("Protect: want error on non-darwin/arm64 build")
	}
	if _, err := RegionProtection(task, 0); err == nil {
		t.Fatal("RegionProtection: want error on non-darwin/arm64 build")
	}
}
