package crypto11

import (
	"encoding/binary"
	"encoding/hex"
)

// BytesToUlong converts CK_ULONG attribute value
func BytesToUlong(bs []byte) uint {
	switch len(bs) {
	case 8:
		return uint(binary.NativeEndian.Uint64(bs))
	case 4:
		return uint(binary.NativeEndian.Uint32(bs))
	case 1:
		return uint(bs[0])
	}
	return 0
}

// BytesToBool converts CK_BBOOL attribute value
func BytesToBool(bs []byte) bool {
	return len(bs) > 0 && bs[0] != 0
}

// FormatID returns CKA_ID value as printable string
func FormatID(id []byte) string {
	return hex.EncodeToString(id)
}

// ParseID returns CKA_ID value from string created by FormatID
func ParseID(s string) ([]byte, error) {
	return hex.DecodeString(s)
}
