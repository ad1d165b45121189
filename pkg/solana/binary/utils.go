package binary

import (
	"crypto/ed25519"
	"encoding/binary"
	"errors"
	"unicode/utf8"
)

func PutKey32(dst []byte, src []byte, offset *int) {
	copy(dst, src)
	*offset += ed25519.PublicKeySize
}

func PutOptionalKey32(dst []byte, src []byte, offset *int, optionSize int) {
	if len(src) > 0 {
		dst[0] = 1
		copy(dst[optionSize:], src)
	}

	*offset += optionSize + ed25519.PublicKeySize
}

func PutUint64(dst []byte, v uint64, offset *int) {
	binary.LittleEndian.PutUint64(dst, v)
	*offset += 8
}

func PutOptionalUint64(dst []byte, v *uint64, offset *int, optionSize int) {
	if v != nil {
		dst[0] = 1
		binary.LittleEndian.PutUint64(dst[optionSize:], *v)
	}
	*offset += optionSize + 8
}

func GetKey32(src []byte, dst *ed25519.PublicKey, offset *int) {
	*dst = make([]byte, ed25519.PublicKeySize)
	copy(*dst, src)
	*offset += ed25519.PublicKeySize
}

func GetOptionalKey32(src []byte, dst *ed25519.PublicKey, offset *int, optionSize int) {
	if src[0] == 1 {
		*dst = make([]byte, ed25519.PublicKeySize)
		copy(*dst, src[optionSize:])
	}
	*offset += optionSize + ed25519.PublicKeySize
}

func GetUint64(src []byte, dst *uint64, offset *int) {
	*dst = binary.LittleEndian.Uint64(src)
	*offset += 8
}

func GetOptionalUint64(src []byte, dst **uint64, offset *int, optionSize int) {
	if src[0] == 1 {
		val := binary.LittleEndian.Uint64(src[optionSize:])
		*dst = &val
	}
	*offset += optionSize + 8
}

// The Append and Read helpers below implement the borsh encoding used by
// program account state, where lengths are variable and the input is not
// trusted. Read helpers take an absolute offset and never panic on short input.

var (
	ErrUnexpectedEOF = errors.New("unexpected end of buffer")
	ErrInvalidBool   = errors.New("invalid bool encoding")
	ErrInvalidString = errors.New("invalid utf8 string")
)

func AppendBool(dst []byte, v bool) []byte {
	if v {
		return append(dst, 1)
	}
	return append(dst, 0)
}

func AppendUint32(dst []byte, v uint32) []byte {
	return binary.LittleEndian.AppendUint32(dst, v)
}

func AppendUint64(dst []byte, v uint64) []byte {
	return binary.LittleEndian.AppendUint64(dst, v)
}

func AppendKey32(dst []byte, key []byte) []byte {
	var padded [ed25519.PublicKeySize]byte
	copy(padded[:], key)
	return append(dst, padded[:]...)
}

func AppendString(dst []byte, v string) []byte {
	dst = AppendUint32(dst, uint32(len(v)))
	return append(dst, v...)
}

func ReadBool(src []byte, dst *bool, offset *int) error {
	var raw uint8
	if err := ReadUint8(src, &raw, offset); err != nil {
		return err
	}

	switch raw {
	case 0:
		*dst = false
	case 1:
		*dst = true
	default:
		return ErrInvalidBool
	}
	return nil
}

func ReadUint8(src []byte, dst *uint8, offset *int) error {
	if len(src) < *offset+1 {
		return ErrUnexpectedEOF
	}
	*dst = src[*offset]
	*offset += 1
	return nil
}

func ReadUint32(src []byte, dst *uint32, offset *int) error {
	if len(src) < *offset+4 {
		return ErrUnexpectedEOF
	}
	*dst = binary.LittleEndian.Uint32(src[*offset:])
	*offset += 4
	return nil
}

func ReadUint64(src []byte, dst *uint64, offset *int) error {
	if len(src) < *offset+8 {
		return ErrUnexpectedEOF
	}
	*dst = binary.LittleEndian.Uint64(src[*offset:])
	*offset += 8
	return nil
}

func ReadKey32(src []byte, dst *ed25519.PublicKey, offset *int) error {
	if len(src) < *offset+ed25519.PublicKeySize {
		return ErrUnexpectedEOF
	}
	*dst = make([]byte, ed25519.PublicKeySize)
	copy(*dst, src[*offset:])
	*offset += ed25519.PublicKeySize
	return nil
}

func ReadString(src []byte, dst *string, offset *int) error {
	var length uint32
	if err := ReadUint32(src, &length, offset); err != nil {
		return err
	}
	if uint64(len(src)) < uint64(*offset)+uint64(length) {
		return ErrUnexpectedEOF
	}

	raw := src[*offset : *offset+int(length)]
	if !utf8.Valid(raw) {
		return ErrInvalidString
	}

	*dst = string(raw)
	*offset += int(length)
	return nil
}
