package ring

import "encoding/binary"

// The control trailer occupies the last headerControlSize bytes of the
// ring's header block, after the ASCII record's text area. The writer
// is its only mutator; reader processes attached to the same segment
// poll it to track publication progress and to detect end-of-data.
//
//	[HeaderSize-16, HeaderSize-8)  uint64 LE  published block count
//	[HeaderSize-8,  HeaderSize)    uint64 LE  EOD flag (0 or 1)
const (
	ctrlWriteCountOff = HeaderSize - 16
	ctrlEODOff        = HeaderSize - 8
)

// writeControlCount publishes the writer's cumulative block count into
// the shared segment, called once per published block.
func writeControlCount(seg []byte, count uint64) {
	binary.LittleEndian.PutUint64(seg[ctrlWriteCountOff:ctrlEODOff], count)
}

// writeControlEOD raises the EOD flag in the shared segment. A reader
// observing the flag knows the count beside it is final.
func writeControlEOD(seg []byte) {
	binary.LittleEndian.PutUint64(seg[ctrlEODOff:HeaderSize], 1)
}

// ReadControl decodes the control trailer from a header block, for
// reader processes and tests.
func ReadControl(seg []byte) (writeCount uint64, eod bool) {
	writeCount = binary.LittleEndian.Uint64(seg[ctrlWriteCountOff:ctrlEODOff])
	eod = binary.LittleEndian.Uint64(seg[ctrlEODOff:HeaderSize]) != 0
	return writeCount, eod
}
