//go:build linux && cgo

package verbs

/*
#include <stdint.h>

// x86-64 store fence to ensure all prior stores are globally visible
static inline void sfence_impl(void) {
    __asm__ __volatile__("sfence" ::: "memory");
}

// x86-64 full memory fence to ensure all prior memory operations are complete
static inline void mfence_impl(void) {
    __asm__ __volatile__("mfence" ::: "memory");
}
*/
import "C"

// Sfence issues a store fence (x86 SFENCE instruction), ensuring all
// prior stores (e.g. a prepared work-request chain) are globally visible
// before a subsequent doorbell write. The verbs work queues are
// shared-memory producer/consumer rings between userspace and the
// device, with the ordering needs of any doorbell protocol.
func Sfence() {
	C.sfence_impl()
}

// Mfence issues a full memory fence (x86 MFENCE instruction).
func Mfence() {
	C.mfence_impl()
}
