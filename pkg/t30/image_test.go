package t30

import (
	"bytes"
	"testing"

	"github.com/fxnode/fax-nexus/pkg/protocol"
)

func TestMemorySource_PagesAndChunks(t *testing.T) {
	pages := [][]byte{{0x01, 0x02, 0x03}, {0x04, 0x05}}
	src := NewMemorySource(pages, protocol.WidthR8A4, protocol.XResR8, protocol.YResFine)

	if !src.MorePages() {
		t.Fatal("Fresh source should have pages")
	}
	if err := src.StartPage(); err != nil {
		t.Fatal(err)
	}
	buf := make([]byte, 2)
	if n := src.NextChunk(buf); n != 2 || !bytes.Equal(buf, []byte{0x01, 0x02}) {
		t.Errorf("Unexpected first chunk: %d %X", n, buf)
	}
	if src.AtPageEnd() {
		t.Error("Not at page end with an octet left")
	}
	if n := src.NextChunk(buf); n != 1 || buf[0] != 0x03 {
		t.Errorf("Unexpected tail chunk: %d %X", n, buf[:1])
	}
	if !src.AtPageEnd() {
		t.Error("Should be at page end")
	}
	if err := src.EndPage(); err != nil {
		t.Fatal(err)
	}
	if !src.MorePages() {
		t.Fatal("One page should remain")
	}
	if err := src.StartPage(); err != nil {
		t.Fatal(err)
	}
	if src.MorePages() {
		t.Error("No pages should remain after the last page starts")
	}
	if err := src.EndPage(); err != nil {
		t.Fatal(err)
	}
	if err := src.StartPage(); err != ErrNoMorePages {
		t.Errorf("Expected ErrNoMorePages, got %v", err)
	}

	stats := src.Stats()
	if stats.Pages != 2 || stats.PagesInFile != 2 {
		t.Errorf("Unexpected stats: %+v", stats)
	}
}

func TestMemorySource_Bits(t *testing.T) {
	src := NewMemorySource([][]byte{{0xA5}}, protocol.WidthR8A4, protocol.XResR8, protocol.YResStandard)
	if err := src.StartPage(); err != nil {
		t.Fatal(err)
	}
	want := []int{1, 0, 1, 0, 0, 1, 0, 1}
	for i, w := range want {
		bit, done := src.NextBit()
		if done {
			t.Fatalf("Premature end at bit %d", i)
		}
		if bit != w {
			t.Errorf("Bit %d = %d, want %d", i, bit, w)
		}
	}
	if _, done := src.NextBit(); !done {
		t.Error("Expected end of data after 8 bits")
	}

	if err := src.RestartPage(); err != nil {
		t.Fatal(err)
	}
	if bit, done := src.NextBit(); done || bit != 1 {
		t.Error("RestartPage should rewind to the first bit")
	}
}

func TestMemorySink_BitAssembly(t *testing.T) {
	sink := NewMemorySink(16)
	if err := sink.StartPage(PageInfo{Width: protocol.WidthR8A4}); err != nil {
		t.Fatal(err)
	}
	bits := []int{1, 0, 1, 0, 0, 1, 0, 1, 1, 1, 1, 1, 0, 0, 0}
	for _, b := range bits {
		if sink.PutBit(b) {
			t.Fatal("Page ended early")
		}
	}
	if !sink.PutBit(0) {
		t.Fatal("Page should end at the configured bit bound")
	}
	if err := sink.EndPage(); err != nil {
		t.Fatal(err)
	}
	if len(sink.Pages) != 1 || !bytes.Equal(sink.Pages[0], []byte{0xA5, 0xF0}) {
		t.Errorf("Unexpected page content: %X", sink.Pages)
	}
}
