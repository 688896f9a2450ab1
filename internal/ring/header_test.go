package ring

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestHeaderRoundTrip(t *testing.T) {
	h := Header{
		Version:        "1.0",
		NAnt:           1,
		PktHeader:      0,
		PktData:        4096,
		PktNSamp:       1024,
		PktTSamp:       0.000512,
		PktNPol:        2,
		PktNBit:        8,
		BytesPerSecond: 8_000_000_000,
		FileSize:       1 << 40,
		MJDStart:       60000.5,
		UTCStart:       "2026-07-31-00:00:00",
	}

	buf, err := h.Encode()
	require.NoError(t, err)
	require.Len(t, buf, HeaderSize)

	decoded, err := DecodeHeader(buf)
	require.NoError(t, err)

	require.Equal(t, h.Version, decoded.Version)
	require.Equal(t, h.NAnt, decoded.NAnt)
	require.Equal(t, h.PktData, decoded.PktData)
	require.Equal(t, h.PktNSamp, decoded.PktNSamp)
	require.InDelta(t, h.PktTSamp, decoded.PktTSamp, 1e-9)
	require.Equal(t, h.PktNPol, decoded.PktNPol)
	require.Equal(t, h.PktNBit, decoded.PktNBit)
	require.Equal(t, h.BytesPerSecond, decoded.BytesPerSecond)
	require.Equal(t, h.FileSize, decoded.FileSize)
	require.InDelta(t, h.MJDStart, decoded.MJDStart, 1e-9)
	require.Equal(t, h.UTCStart, decoded.UTCStart)
}

func TestHeaderEncodeRejectsOversizedContent(t *testing.T) {
	h := Header{UTCStart: string(make([]byte, HeaderSize*2))}
	_, err := h.Encode()
	require.Error(t, err)
}

func TestDecodeHeaderRejectsUndersizedBuffer(t *testing.T) {
	_, err := DecodeHeader(make([]byte, 10))
	require.Error(t, err)
}

const templateText = `HDR_VERSION  1.0
HDR_SIZE     4096
NANT         1
PKT_HEADER   64
PKT_DATA     8192
PKT_NSAMP    2048
PKT_TSAMP    0.000512
PKT_NPOL     2
PKT_NBIT     8
BYTES_PER_SECOND 8000000000
`

func TestParseHeaderTemplateAcceptsCompleteTemplate(t *testing.T) {
	h, err := ParseHeaderTemplate([]byte(templateText))
	require.NoError(t, err)
	require.Equal(t, "1.0", h.Version)
	require.Equal(t, 64, h.PktHeader)
	require.Equal(t, 8192, h.PktData)
	require.Equal(t, 2048, h.PktNSamp)
	require.InDelta(t, 0.000512, h.PktTSamp, 1e-9)
	require.Equal(t, int64(8000000000), h.BytesPerSecond)
}

func TestParseHeaderTemplateNamesMissingFields(t *testing.T) {
	_, err := ParseHeaderTemplate([]byte("HDR_VERSION 1.0\nNANT 1\n"))
	require.Error(t, err)
	require.Contains(t, err.Error(), "PKT_DATA")
	require.Contains(t, err.Error(), "PKT_TSAMP")
	require.Contains(t, err.Error(), "BYTES_PER_SECOND")
}

func TestLoadHeaderTemplateFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "header.template")
	require.NoError(t, os.WriteFile(path, []byte(templateText), 0o644))

	h, err := LoadHeaderTemplate(path)
	require.NoError(t, err)
	require.Equal(t, 8192, h.PktData)
}

func TestLoadHeaderTemplateMissingFile(t *testing.T) {
	_, err := LoadHeaderTemplate(filepath.Join(t.TempDir(), "absent"))
	require.Error(t, err)
}

func TestEncodeLeavesControlTrailerZero(t *testing.T) {
	buf, err := Header{Version: "1.0"}.Encode()
	require.NoError(t, err)

	count, eod := ReadControl(buf)
	require.Zero(t, count)
	require.False(t, eod)
}
