package adsb

// Mode-S CRC-24, generator polynomial 0xFFF409. The parity field of a
// transmitted frame is the remainder over the data bits, so dividing a
// whole frame leaves zero when it arrived intact.

const crcPoly = 0xFFF409

var crcTable [256]uint32

func init() {
	for i := range crcTable {
		c := uint32(i) << 16
		for j := 0; j < 8; j++ {
			if c&0x800000 != 0 {
				c = (c << 1) ^ crcPoly
			} else {
				c <<= 1
			}
		}
		crcTable[i] = c & 0xFFFFFF
	}
}

// Checksum returns the CRC-24 remainder over data.
func Checksum(data []byte) uint32 {
	var rem uint32
	for _, b := range data {
		rem = ((rem << 8) & 0xFFFFFF) ^ crcTable[byte(rem>>16)^b]
	}
	return rem
}
