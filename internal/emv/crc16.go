package emv

// crc16 computes CRC-16/CCITT-FALSE over the UTF-8 bytes of s: polynomial
// 0x1021, initial register 0xFFFF, MSB-first, no final XOR.
func crc16(s string) uint16 {
	crc := uint16(0xFFFF)
	for _, b := range []byte(s) {
		crc ^= uint16(b) << 8
		for i := 0; i < 8; i++ {
			if crc&0x8000 != 0 {
				crc = (crc << 1) ^ 0x1021
			} else {
				crc <<= 1
			}
		}
	}
	return crc
}
