package androidsparse

import (
	"encoding/binary"
	"os"
	"testing"

	"github.com/imgeditor/imgeditor/internal/imgedit"
	"github.com/imgeditor/imgeditor/internal/vfile"
)

func putHeader(buf []byte, h Header) {
	binary.LittleEndian.PutUint32(buf[0:4], headerMagic)
	binary.LittleEndian.PutUint16(buf[4:6], h.MajorVersion)
	binary.LittleEndian.PutUint16(buf[6:8], h.MinorVersion)
	binary.LittleEndian.PutUint16(buf[8:10], h.FileHdrSize)
	binary.LittleEndian.PutUint16(buf[10:12], h.ChunkHdrSize)
	binary.LittleEndian.PutUint32(buf[12:16], h.BlockSize)
	binary.LittleEndian.PutUint32(buf[16:20], h.TotalBlocks)
	binary.LittleEndian.PutUint32(buf[20:24], h.TotalChunks)
	binary.LittleEndian.PutUint32(buf[24:28], h.ImageCRC32)
}

func putChunkHeader(buf []byte, chunkType uint16, blocks, totalSz uint32) {
	binary.LittleEndian.PutUint16(buf[0:2], chunkType)
	binary.LittleEndian.PutUint16(buf[2:4], 0)
	binary.LittleEndian.PutUint32(buf[4:8], blocks)
	binary.LittleEndian.PutUint32(buf[8:12], totalSz)
}

func buildImage(t *testing.T) (string, []byte) {
	t.Helper()
	const blockSize = 4

	raw := []byte{0x11, 0x22, 0x33, 0x44} // one raw block
	fill := []byte{0xAA, 0xAA, 0xAA, 0xAA}

	h := Header{MajorVersion: 1, FileHdrSize: headerSize, ChunkHdrSize: chunkHdrSize,
		BlockSize: blockSize, TotalBlocks: 2, TotalChunks: 2}

	var buf []byte
	hdr := make([]byte, headerSize)
	putHeader(hdr, h)
	buf = append(buf, hdr...)

	rawChunk := make([]byte, chunkHdrSize)
	putChunkHeader(rawChunk, chunkRaw, 1, uint32(chunkHdrSize+len(raw)))
	buf = append(buf, rawChunk...)
	buf = append(buf, raw...)

	fillChunk := make([]byte, chunkHdrSize)
	putChunkHeader(fillChunk, chunkFill, 1, uint32(chunkHdrSize+4))
	buf = append(buf, fillChunk...)
	buf = append(buf, fill...)

	f, err := os.CreateTemp(t.TempDir(), "sparse*.img")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := f.Write(buf); err != nil {
		t.Fatal(err)
	}
	f.Close()

	want := append(append([]byte{}, raw...), fill...)
	return f.Name(), want
}

func TestDetectAndUnpackExpandsChunks(t *testing.T) {
	path, want := buildImage(t)
	fh, err := vfile.Open(path, 0)
	if err != nil {
		t.Fatal(err)
	}
	defer fh.Close()

	ctx := imgedit.NewContext()
	st := Editor.NewState()
	if err := Editor.Detect(ctx, st, fh, true, false); err != nil {
		t.Fatalf("Detect: %v", err)
	}

	outPath := t.TempDir() + "/flat.img"
	if err := Editor.Unpack(ctx, st, fh, outPath); err != nil {
		t.Fatalf("Unpack: %v", err)
	}

	got, err := os.ReadFile(outPath)
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != string(want) {
		t.Fatalf("unsparsed image = %x, want %x", got, want)
	}
}
