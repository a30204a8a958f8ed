package temppool

import "unsafe"

// sliceKey derives a stable map key from a slice's backing array address,
// used only to recover a block's owning page on Deallocate.
func sliceKey(s []byte) uintptr {
	if len(s) == 0 {
		return 0
	}
	return uintptr(unsafe.Pointer(&s[0]))
}
