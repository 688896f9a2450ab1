package ring

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"
)

// HeaderSize is the fixed size in bytes of the ASCII key/value header
// record written once at ring attach, matching PSRDADA's conventional
// 4096-byte header block.
const HeaderSize = 4096

// The last headerControlSize bytes of the header block are reserved as
// a binary control trailer the writer updates during capture (published
// block count, EOD flag), leaving headerTextSize bytes for the ASCII
// record. See control.go.
const (
	headerControlSize = 16
	headerTextSize    = HeaderSize - headerControlSize
)

// Header is the decoded form of the ring's header record, matching
// PSRDADA's dada_header_t field set.
type Header struct {
	Version         string
	Size            int
	NAnt            int
	PktHeader       int
	PktData         int
	PktNSamp        int
	PktTSamp        float64
	PktNPol         int
	PktNBit         int
	BytesPerSecond  int64
	FileSize        int64
	MJDStart        float64
	UTCStart        string
}

// requiredTemplateKeys are the fields a header template file must carry.
// FILE_SIZE, MJD_START, and UTC_START are stamped by the writer at
// attach time and may be omitted from the template.
var requiredTemplateKeys = []string{
	"HDR_VERSION",
	"HDR_SIZE",
	"NANT",
	"PKT_HEADER",
	"PKT_DATA",
	"PKT_NSAMP",
	"PKT_TSAMP",
	"PKT_NPOL",
	"PKT_NBIT",
	"BYTES_PER_SECOND",
}

// Encode renders h as the fixed-size ASCII key/value header record.
// Unused trailing bytes are zero-padded, matching PSRDADA's convention of
// a NUL-terminated text block inside a fixed-size buffer. The text must
// leave the control trailer untouched.
func (h Header) Encode() ([]byte, error) {
	var sb strings.Builder
	writeKV(&sb, "HDR_VERSION", h.Version)
	writeKV(&sb, "HDR_SIZE", strconv.Itoa(HeaderSize))
	writeKV(&sb, "NANT", strconv.Itoa(h.NAnt))
	writeKV(&sb, "PKT_HEADER", strconv.Itoa(h.PktHeader))
	writeKV(&sb, "PKT_DATA", strconv.Itoa(h.PktData))
	writeKV(&sb, "PKT_NSAMP", strconv.Itoa(h.PktNSamp))
	writeKV(&sb, "PKT_TSAMP", strconv.FormatFloat(h.PktTSamp, 'f', -1, 64))
	writeKV(&sb, "PKT_NPOL", strconv.Itoa(h.PktNPol))
	writeKV(&sb, "PKT_NBIT", strconv.Itoa(h.PktNBit))
	writeKV(&sb, "BYTES_PER_SECOND", strconv.FormatInt(h.BytesPerSecond, 10))
	writeKV(&sb, "FILE_SIZE", strconv.FormatInt(h.FileSize, 10))
	writeKV(&sb, "MJD_START", strconv.FormatFloat(h.MJDStart, 'f', 15, 64))
	writeKV(&sb, "UTC_START", h.UTCStart)

	if sb.Len() > headerTextSize {
		return nil, fmt.Errorf("rocecap/ring: encoded header (%d bytes) exceeds the %d-byte text area", sb.Len(), headerTextSize)
	}

	buf := make([]byte, HeaderSize)
	copy(buf, sb.String())
	return buf, nil
}

func writeKV(sb *strings.Builder, key, value string) {
	fmt.Fprintf(sb, "%-20s %s\n", key, value)
}

// scanHeaderFields parses ASCII key/value lines into a map, ignoring
// blank lines, comments, and NUL padding.
func scanHeaderFields(buf []byte) map[string]string {
	fields := map[string]string{}
	scanner := bufio.NewScanner(strings.NewReader(string(buf)))
	for scanner.Scan() {
		line := strings.TrimRight(scanner.Text(), "\x00")
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		parts := strings.Fields(line)
		if len(parts) < 2 {
			continue
		}
		fields[parts[0]] = strings.Join(parts[1:], " ")
	}
	return fields
}

func headerFromFields(fields map[string]string) Header {
	h := Header{}
	h.Version = fields["HDR_VERSION"]
	h.Size = atoiOr(fields["HDR_SIZE"], HeaderSize)
	h.NAnt = atoiOr(fields["NANT"], 0)
	h.PktHeader = atoiOr(fields["PKT_HEADER"], 0)
	h.PktData = atoiOr(fields["PKT_DATA"], 0)
	h.PktNSamp = atoiOr(fields["PKT_NSAMP"], 0)
	h.PktTSamp = atofOr(fields["PKT_TSAMP"], 0)
	h.PktNPol = atoiOr(fields["PKT_NPOL"], 0)
	h.PktNBit = atoiOr(fields["PKT_NBIT"], 0)
	h.BytesPerSecond = atoi64Or(fields["BYTES_PER_SECOND"], 0)
	h.FileSize = atoi64Or(fields["FILE_SIZE"], 0)
	h.MJDStart = atofOr(fields["MJD_START"], 0)
	h.UTCStart = fields["UTC_START"]
	return h
}

// DecodeHeader parses a fixed-size header record back into a Header.
// Encode-then-Decode round-trips every field except Size, which Encode
// always writes as HeaderSize. Reading back an already
// written record is lenient about absent fields; template loading is
// not (see ParseHeaderTemplate).
func DecodeHeader(buf []byte) (Header, error) {
	if len(buf) < HeaderSize {
		return Header{}, fmt.Errorf("rocecap/ring: header buffer too small (%d < %d)", len(buf), HeaderSize)
	}
	return headerFromFields(scanHeaderFields(buf[:headerTextSize])), nil
}

// ParseHeaderTemplate parses the operator-supplied header template.
// Every key in requiredTemplateKeys must be present; a missing key is a
// startup-fatal error naming the field.
func ParseHeaderTemplate(buf []byte) (Header, error) {
	fields := scanHeaderFields(buf)

	var missing []string
	for _, key := range requiredTemplateKeys {
		if _, ok := fields[key]; !ok {
			missing = append(missing, key)
		}
	}
	if len(missing) > 0 {
		return Header{}, fmt.Errorf("rocecap/ring: header template missing required field(s): %s", strings.Join(missing, ", "))
	}

	return headerFromFields(fields), nil
}

// LoadHeaderTemplate reads and parses the header template file named by
// the --dump-header flag.
func LoadHeaderTemplate(path string) (Header, error) {
	buf, err := os.ReadFile(path)
	if err != nil {
		return Header{}, fmt.Errorf("rocecap/ring: reading header template: %w", err)
	}
	return ParseHeaderTemplate(buf)
}

func atoiOr(s string, def int) int {
	if s == "" {
		return def
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return n
}

func atoi64Or(s string, def int64) int64 {
	if s == "" {
		return def
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return def
	}
	return n
}

func atofOr(s string, def float64) float64 {
	if s == "" {
		return def
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return def
	}
	return f
}
