package emv

import "testing"

func TestCRC16KnownValues(t *testing.T) {
	// CRC-16/CCITT-FALSE check values.
	cases := []struct {
		in   string
		want uint16
	}{
		{"123456789", 0x29B1},
		{"", 0xFFFF},
		{"A", 0xB915},
	}
	for _, tc := range cases {
		if got := crc16(tc.in); got != tc.want {
			t.Errorf("crc16(%q) = %04X, want %04X", tc.in, got, tc.want)
		}
	}
}
