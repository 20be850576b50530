package ext2

import (
	"encoding/binary"
	"os"
	"testing"

	"github.com/imgeditor/imgeditor/internal/imgedit"
	"github.com/imgeditor/imgeditor/internal/vfile"
)

const blockSize = 1024

// buildImage assembles a minimal ext2 image: superblock at 1024,
// one block group descriptor, an inode table with a non-extent root
// inode whose first direct block holds "." ".." and one file entry.
func buildImage(t *testing.T) string {
	t.Helper()
	le := binary.LittleEndian

	const (
		inodesPerGroup = 32
		inodeTableBlk  = 3
		rootDataBlk    = 5
		totalBlocks    = 8
	)

	img := make([]byte, totalBlocks*blockSize)

	sb := img[superblockStart : superblockStart+superblockSize]
	le.PutUint32(sb[0:4], inodesPerGroup)
	le.PutUint32(sb[4:8], totalBlocks)
	le.PutUint32(sb[20:24], 1) // first_data_block
	le.PutUint32(sb[24:28], 0) // log2_block_size -> 1024 byte blocks
	le.PutUint32(sb[32:36], 8192)
	le.PutUint32(sb[40:44], inodesPerGroup)
	le.PutUint16(sb[56:58], magicValue)
	le.PutUint32(sb[76:80], 1) // revision_level (dynamic)
	le.PutUint32(sb[84:88], 11)
	le.PutUint16(sb[88:90], inodeOnDiskSize)

	group := img[2*blockSize : 2*blockSize+32] // the block after the superblock's
	le.PutUint32(group[8:12], inodeTableBlk)

	inodeOff := inodeTableBlk*blockSize + (rootInode-1)*inodeOnDiskSize
	inode := img[inodeOff : inodeOff+inodeOnDiskSize]
	le.PutUint16(inode[0:2], 0x4000) // S_IFDIR
	le.PutUint32(inode[40:44], rootDataBlk)

	dataOff := rootDataBlk * blockSize
	writeDirent(img[dataOff:], 2, ".", 2)
	writeDirent(img[dataOff+12:], 2, "..", 2)
	writeDirent(img[dataOff+24:], 11, "hello.txt", 1)

	f, err := os.CreateTemp(t.TempDir(), "ext2*.img")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := f.Write(img); err != nil {
		t.Fatal(err)
	}
	f.Close()
	return f.Name()
}

func writeDirent(buf []byte, inode uint32, name string, fileType uint8) {
	le := binary.LittleEndian
	le.PutUint32(buf[0:4], inode)
	recLen := uint16((8 + len(name) + 3) &^ 3) // rec_len is 4-byte aligned
	le.PutUint16(buf[4:6], recLen)
	buf[6] = byte(len(name))
	buf[7] = fileType
	copy(buf[8:], name)
}

func TestDetectReadsRootDirectory(t *testing.T) {
	path := buildImage(t)
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

	s := st.(*State)
	var found bool
	for _, ent := range s.RootDir {
		if ent.Name == "hello.txt" {
			found = true
		}
	}
	if !found {
		t.Fatalf("root directory missing hello.txt: %+v", s.RootDir)
	}
}

func TestPackIsUnsupported(t *testing.T) {
	if _, ok := interface{}(Editor).(imgedit.Packer); ok {
		t.Fatal("ext2 editor should not implement Packer")
	}
}
