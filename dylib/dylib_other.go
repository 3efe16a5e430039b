//go:build !(darwin && arm64)

package dylib

// Open and Sym are unreachable off arm64 Darwin; every Sym call and every
// non-weak Open call fails, so callers see the same error taxonomy the
// real implementation uses. A weak (FlagNoLoad) Open returns a zero handle
// and no error, as the real implementation does for a missing weak dylib.
func Open(path string, flag Flag) (Handle, error) {
	if flag == FlagNoLoad {
		return 0, nil
	}
	return 0, &DlopenFailed{Path: path}
}

func Sym(h Handle, name string) (uintptr, error) {
	return 0, &DlsymFailed{Name: name}
}
