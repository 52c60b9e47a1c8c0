package record

import "hash/crc32"

// Checksum computes the CRC-32 (IEEE, reflected 0xEDB88320) of b.
//
// The lookup table is owned by hash/crc32 and built on first use, so
// there is nothing to initialise before calling it.
func Checksum(b []byte) uint32 {
	return crc32.ChecksumIEEE(b)
}

// ValidateChecksum returns true if checksum matches the CRC-32 of b.
func ValidateChecksum(b []byte, checksum uint32) bool {
	return Checksum(b) == checksum
}
