package crc

import "testing"

var checkBytes = []byte("123456789")

func TestCRC32CheckValues(t *testing.T) {
	cases := []struct {
		name string
		p    Params32
		want uint32
	}{
		{"ISO-HDLC", CRC32ISOHDLC, 0xCBF43926},
		{"BZIP2", CRC32Bzip2, 0xFC891918},
		{"JAMCRC", CRC32Jam, 0x340BC6D9},
		{"MPEG-2", CRC32Mpeg2, 0x0376E6E7},
		{"C (Castagnoli)", CRC32C, 0xE3069283},
		{"XFER", CRC32Xfer, 0xBD0BE338},
	}
	for _, c := range cases {
		if got := Checksum32(c.p, checkBytes); got != c.want {
			t.Errorf("%s: got 0x%08x, want 0x%08x", c.name, got, c.want)
		}
	}
}

func TestCRC16CheckValues(t *testing.T) {
	cases := []struct {
		name string
		p    Params16
		want uint16
	}{
		{"CCITT-FALSE", CRC16CCITTFalse, 0x29B1},
		{"XMODEM", CRC16XModem, 0x31C3},
		{"MODBUS", CRC16Modbus, 0x4B37},
		{"X-25", CRC16X25, 0x906E},
		{"IBM/ARC", CRC16IBM, 0xBB3D},
		{"MAXIM", CRC16Maxim, 0x44C2},
		{"USB", CRC16USB, 0xB4C8},
	}
	for _, c := range cases {
		if got := Checksum16(c.p, checkBytes); got != c.want {
			t.Errorf("%s: got 0x%04x, want 0x%04x", c.name, got, c.want)
		}
	}
}

func TestUpdateIsIncremental(t *testing.T) {
	whole := Checksum32(CRC32ISOHDLC, checkBytes)

	c := NewCRC32(CRC32ISOHDLC)
	c.Update(checkBytes[:4])
	c.Update(checkBytes[4:])
	if got := c.Finish(); got != whole {
		t.Fatalf("incremental Update = 0x%08x, want 0x%08x", got, whole)
	}
}
