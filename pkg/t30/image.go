package t30

import (
	"errors"
	"fmt"

	"github.com/fxnode/fax-nexus/pkg/protocol"
)

// ErrNoMorePages is returned by StartPage when the document is
// exhausted.
var ErrNoMorePages = errors.New("no more pages")

// TransferStats reports the progress of an image transfer, used by the
// copy quality judge and the session statistics.
type TransferStats struct {
	Pages            int // pages fully transferred so far
	PagesInFile      int // pages in the source document (tx side)
	Width            int // pixels per row of the most recent page
	Length           int // rows in the most recent page
	BadRows          int
	LongestBadRowRun int
	XResolution      int
	YResolution      int
	ImageSize        int // octets of encoded image data
}

// PageInfo carries the negotiated parameters a receiver applies to each
// incoming page.
type PageInfo struct {
	Width       int
	XResolution int
	YResolution int
	Encoding    protocol.Compression
	FarIdent    string
	SubAddress  string
	DCSTrace    string // hex rendering of the received DCS, for archival
}

// ImageSource supplies encoded page data to a transmitting session. The
// T.4/TIFF codec behind it is an external collaborator; the session only
// pulls bits and chunks and steers page boundaries.
type ImageSource interface {
	// StartPage prepares the next page for transmission.
	StartPage() error
	// RestartPage rewinds the current page for retransmission.
	RestartPage() error
	// EndPage completes the current page after confirmation.
	EndPage() error
	// MorePages reports whether pages remain after the current one.
	MorePages() bool
	// NextBit returns the next image bit. done is set on the first call
	// past the end of the page data.
	NextBit() (bit int, done bool)
	// NextChunk fills buf with image octets and returns the count, which
	// is short (possibly zero) at the end of the page.
	NextChunk(buf []byte) int
	// AtPageEnd reports whether the read position is at the end of the
	// page data.
	AtPageEnd() bool
	// SetMinRowBits applies the negotiated minimum scan line time as a
	// per-row bit floor.
	SetMinRowBits(bits int)
	Width() int
	XResolution() int
	YResolution() int
	Stats() TransferStats
	// Close releases the source. Closing twice is harmless.
	Close() error
}

// ImageSink accepts decoded page data on a receiving session.
type ImageSink interface {
	// StartPage begins a page with the negotiated parameters.
	StartPage(info PageInfo) error
	// PutBit stores one image bit and reports whether the end of page
	// marker has been seen.
	PutBit(bit int) bool
	// PutChunk stores image octets and reports whether the end of page
	// marker has been seen.
	PutChunk(data []byte) bool
	// EndPage completes the current page.
	EndPage() error
	Stats() TransferStats
	// Close releases the sink. Closing twice is harmless.
	Close() error
}

// MemorySource is an ImageSource over raw pre-encoded page buffers. It
// stands in for the T.4 transmit codec in tests, the loopback demo, and
// embedders that bring their own encoder.
type MemorySource struct {
	pages       [][]byte
	page        int
	pos         int // octet position within the page
	bitPos      int // bit position within the current octet, MSB first
	minRowBits  int
	width       int
	xRes        int
	yRes        int
	sentPages   int
	sentOctets  int
	open        bool
}

// NewMemorySource builds a source delivering the given pages at the
// given geometry.
func NewMemorySource(pages [][]byte, width, xRes, yRes int) *MemorySource {
	return &MemorySource{
		pages: pages,
		page:  -1,
		width: width,
		xRes:  xRes,
		yRes:  yRes,
		open:  true,
	}
}

func (m *MemorySource) StartPage() error {
	if m.page+1 >= len(m.pages) {
		return ErrNoMorePages
	}
	m.page++
	m.pos = 0
	m.bitPos = 0
	return nil
}

func (m *MemorySource) RestartPage() error {
	if m.page < 0 {
		return fmt.Errorf("no page started")
	}
	m.pos = 0
	m.bitPos = 0
	return nil
}

func (m *MemorySource) EndPage() error {
	m.sentPages++
	return nil
}

func (m *MemorySource) MorePages() bool {
	return m.page+1 < len(m.pages)
}

func (m *MemorySource) NextBit() (int, bool) {
	data := m.pages[m.page]
	if m.pos >= len(data) {
		return 0, true
	}
	bit := int(data[m.pos]>>(7-m.bitPos)) & 1
	m.bitPos++
	if m.bitPos == 8 {
		m.bitPos = 0
		m.pos++
	}
	return bit, false
}

func (m *MemorySource) NextChunk(buf []byte) int {
	data := m.pages[m.page]
	n := copy(buf, data[m.pos:])
	m.pos += n
	m.sentOctets += n
	return n
}

func (m *MemorySource) AtPageEnd() bool {
	return m.pos >= len(m.pages[m.page])
}

func (m *MemorySource) SetMinRowBits(bits int) {
	m.minRowBits = bits
}

func (m *MemorySource) Width() int       { return m.width }
func (m *MemorySource) XResolution() int { return m.xRes }
func (m *MemorySource) YResolution() int { return m.yRes }

func (m *MemorySource) Stats() TransferStats {
	return TransferStats{
		Pages:       m.sentPages,
		PagesInFile: len(m.pages),
		Width:       m.width,
		XResolution: m.xRes,
		YResolution: m.yRes,
		ImageSize:   m.sentOctets,
	}
}

func (m *MemorySource) Close() error {
	m.open = false
	return nil
}

// MemorySink is an ImageSink collecting raw page data. The end of a
// non-ECM page is declared after ExpectedBits image bits; ECM commits
// arrive as chunks and are bounded by the protocol itself.
type MemorySink struct {
	Pages        [][]byte
	ExpectedBits int

	info     PageInfo
	current  []byte
	bits     int
	bitAcc   byte
	bitCount int
	rows     int
	badRows  int
	open     bool
}

// NewMemorySink builds a sink. expectedBits bounds each non-ECM page;
// zero means pages only end on carrier loss.
func NewMemorySink(expectedBits int) *MemorySink {
	return &MemorySink{ExpectedBits: expectedBits, open: true}
}

func (m *MemorySink) StartPage(info PageInfo) error {
	m.info = info
	m.current = nil
	m.bits = 0
	m.bitAcc = 0
	m.bitCount = 0
	return nil
}

func (m *MemorySink) PutBit(bit int) bool {
	m.bitAcc = m.bitAcc<<1 | byte(bit&1)
	m.bitCount++
	if m.bitCount == 8 {
		m.current = append(m.current, m.bitAcc)
		m.bitAcc = 0
		m.bitCount = 0
	}
	m.bits++
	return m.ExpectedBits > 0 && m.bits >= m.ExpectedBits
}

func (m *MemorySink) PutChunk(data []byte) bool {
	m.current = append(m.current, data...)
	m.bits += 8 * len(data)
	return m.ExpectedBits > 0 && m.bits >= m.ExpectedBits
}

func (m *MemorySink) EndPage() error {
	m.Pages = append(m.Pages, m.current)
	if m.info.Width > 0 {
		m.rows = 8 * len(m.current) / m.info.Width
	}
	m.current = nil
	return nil
}

func (m *MemorySink) Stats() TransferStats {
	rows := m.rows
	if len(m.current) > 0 && m.info.Width > 0 {
		rows = 8 * len(m.current) / m.info.Width
	}
	return TransferStats{
		Pages:       len(m.Pages),
		Width:       m.info.Width,
		Length:      rows,
		BadRows:     m.badRows,
		XResolution: m.info.XResolution,
		YResolution: m.info.YResolution,
	}
}

// SetBadRows lets a decoder (or a test) report damaged rows for the copy
// quality judge.
func (m *MemorySink) SetBadRows(n int) {
	m.badRows = n
}

func (m *MemorySink) Close() error {
	m.open = false
	return nil
}
