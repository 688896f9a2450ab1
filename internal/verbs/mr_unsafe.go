package verbs

import "unsafe"

// addrOf returns the address of a byte slice's backing array, used only
// to detect virtual contiguity between ring blocks for whole-ring MR
// registration.
func addrOf(b []byte) int {
	if len(b) == 0 {
		return 0
	}
	return int(uintptr(unsafe.Pointer(&b[0])))
}

// unsafeSliceFromRange reconstructs a single slice spanning [start, end)
// given that the backing memory is known (via contiguous) to be one
// virtually contiguous range starting at first's base address.
func unsafeSliceFromRange(first []byte, start, end int) []byte {
	n := end - start
	return unsafe.Slice((*byte)(unsafe.Pointer(&first[0])), n)
}
