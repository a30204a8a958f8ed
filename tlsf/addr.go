package tlsf

import "unsafe"

// addrOf returns the address of a byte as an unsafe.Pointer, used only to
// derive a stable map key for a slice's backing array; no pointer
// arithmetic crosses the returned value.
func addrOf(p *byte) unsafe.Pointer {
	return unsafe.Pointer(p)
}
