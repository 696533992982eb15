// Package wire implements the fixed binary layout agents and the
// collector exchange over UDP: one messageblock per datagram, carrying
// up to eight datablocks of folded write-latency samples.
//
// The layout is a packed struct with no padding, fixed byte for
// byte. Nothing here depends on Go struct field alignment; every
// field is encoded and decoded explicitly.
package wire

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

const (
	MagicLen    = 16
	HostnameLen = 64
	TextLen     = 64

	VersionMajor = 0
	VersionMinor = 1

	DatablockArrayLen = 8

	// ExtremeBigInterval marks a datablock with no real measurements.
	// 31 years in seconds; larger than any plausible write latency.
	ExtremeBigInterval = 1000000000.0

	datablockSize  = 8 + 16 + 16 + 8 + 8 + 8 + 8 // 72
	timespecSize   = 16
	MessageSize    = MagicLen + 2 + 2 + HostnameLen + TextLen + timespecSize + DatablockArrayLen*datablockSize
)

// Magic is the fixed 16-byte protocol identifier: "fslatency"
// space-padded to 15 visible chars plus a trailing NUL.
var Magic = [MagicLen]byte{'f', 's', 'l', 'a', 't', 'e', 'n', 'c', 'y', ' ', ' ', ' ', ' ', ' ', ' ', 0}

// Timespec is the wire encoding of a POSIX timespec: seconds and
// nanoseconds, each a signed 64-bit integer.
type Timespec struct {
	Sec  int64
	Nsec int64
}

// Datablock is one folded window of latency samples.
type Datablock struct {
	MeasurementCount uint64
	StartTime        Timespec
	EndTime          Timespec
	Min              float64
	Max              float64
	SumX             float64
	SumXX            float64
}

// IsEmpty reports whether d carries no real measurements, by count
// or by the min-sentinel.
func (d Datablock) IsEmpty() bool {
	return d.MeasurementCount == 0 || d.Min >= ExtremeBigInterval
}

// EmptyDatablock returns the canonical "no measurement" sentinel value.
func EmptyDatablock() Datablock {
	return Datablock{Min: ExtremeBigInterval}
}

// Message is a complete UDP payload: one agent's identity, its clock
// precision, and its most recent eight folded windows, newest first.
type Message struct {
	Major             uint16
	Minor             uint16
	Hostname          [HostnameLen]byte
	Text              [TextLen]byte
	Precision         Timespec
	DatablockArray    [DatablockArrayLen]Datablock
}

// SetHostname copies s into the fixed hostname field, truncating if s
// is longer than HostnameLen. No NUL terminator is guaranteed when s
// fills the field exactly.
func (m *Message) SetHostname(s string) {
	setFixedString(m.Hostname[:], s)
}

// SetText copies s into the fixed text field with the same truncation
// behavior as SetHostname. Per design note, inputs of 64 bytes or more
// are truncated with no terminator guarantee.
func (m *Message) SetText(s string) {
	setFixedString(m.Text[:], s)
}

func setFixedString(dst []byte, s string) {
	for i := range dst {
		dst[i] = 0
	}
	copy(dst, s)
}

// HostnameString returns the hostname field as a NUL-trimmed string.
func (m *Message) HostnameString() string {
	return trimNul(m.Hostname[:])
}

// TextString returns the text field as a NUL-trimmed string.
func (m *Message) TextString() string {
	return trimNul(m.Text[:])
}

func trimNul(b []byte) string {
	if i := bytes.IndexByte(b, 0); i >= 0 {
		return string(b[:i])
	}
	return string(b)
}

// Key returns the combined hostname+text identity the collector's
// name registry indexes by: both fields concatenated into one key.
func (m *Message) Key() [HostnameLen + TextLen]byte {
	var k [HostnameLen + TextLen]byte
	copy(k[:HostnameLen], m.Hostname[:])
	copy(k[HostnameLen:], m.Text[:])
	return k
}

// Encode serializes m into its fixed 740-byte wire form.
func Encode(m *Message) []byte {
	buf := make([]byte, 0, MessageSize)
	b := bytes.NewBuffer(buf)
	b.Write(Magic[:])
	binary.Write(b, binary.LittleEndian, m.Major)
	binary.Write(b, binary.LittleEndian, m.Minor)
	b.Write(m.Hostname[:])
	b.Write(m.Text[:])
	writeTimespec(b, m.Precision)
	for _, d := range m.DatablockArray {
		writeDatablock(b, d)
	}
	return b.Bytes()
}

func writeTimespec(b *bytes.Buffer, t Timespec) {
	binary.Write(b, binary.LittleEndian, t.Sec)
	binary.Write(b, binary.LittleEndian, t.Nsec)
}

func writeDatablock(b *bytes.Buffer, d Datablock) {
	binary.Write(b, binary.LittleEndian, d.MeasurementCount)
	writeTimespec(b, d.StartTime)
	writeTimespec(b, d.EndTime)
	binary.Write(b, binary.LittleEndian, d.Min)
	binary.Write(b, binary.LittleEndian, d.Max)
	binary.Write(b, binary.LittleEndian, d.SumX)
	binary.Write(b, binary.LittleEndian, d.SumXX)
}

// Decode parses a received datagram into a Message. It validates the
// exact length, the magic prefix, and the protocol version before
// returning.
func Decode(data []byte) (*Message, error) {
	if len(data) != MessageSize {
		return nil, fmt.Errorf("wire: short packet: got %d bytes, want %d", len(data), MessageSize)
	}
	r := bytes.NewReader(data)

	var magic [MagicLen]byte
	if _, err := r.Read(magic[:]); err != nil {
		return nil, fmt.Errorf("wire: reading magic: %w", err)
	}
	if magic != Magic {
		return nil, fmt.Errorf("wire: bad magic")
	}

	m := &Message{}
	binary.Read(r, binary.LittleEndian, &m.Major)
	binary.Read(r, binary.LittleEndian, &m.Minor)
	if m.Major != VersionMajor || m.Minor != VersionMinor {
		return nil, fmt.Errorf("wire: unsupported version %d.%d", m.Major, m.Minor)
	}
	if _, err := r.Read(m.Hostname[:]); err != nil {
		return nil, fmt.Errorf("wire: reading hostname: %w", err)
	}
	if _, err := r.Read(m.Text[:]); err != nil {
		return nil, fmt.Errorf("wire: reading text: %w", err)
	}
	m.Precision = readTimespec(r)
	for i := range m.DatablockArray {
		m.DatablockArray[i] = readDatablock(r)
	}
	return m, nil
}

func readTimespec(r *bytes.Reader) Timespec {
	var t Timespec
	binary.Read(r, binary.LittleEndian, &t.Sec)
	binary.Read(r, binary.LittleEndian, &t.Nsec)
	return t
}

func readDatablock(r *bytes.Reader) Datablock {
	var d Datablock
	binary.Read(r, binary.LittleEndian, &d.MeasurementCount)
	d.StartTime = readTimespec(r)
	d.EndTime = readTimespec(r)
	binary.Read(r, binary.LittleEndian, &d.Min)
	binary.Read(r, binary.LittleEndian, &d.Max)
	binary.Read(r, binary.LittleEndian, &d.SumX)
	binary.Read(r, binary.LittleEndian, &d.SumXX)
	return d
}
