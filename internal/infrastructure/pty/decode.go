package pty

import (
	"bytes"
	"strings"
	"unicode/utf16"
	"unicode/utf8"
)

// DecodeOutput converts raw terminal bytes to text. UTF-8 is preferred; a
// BOM selects the matching UTF-16 variant; without a BOM, a heuristic on
// odd-index NUL density detects BOM-less UTF-16LE. Undecodable bytes become
// replacement characters.
func DecodeOutput(data []byte) string {
	if len(data) == 0 {
		return ""
	}
	if bytes.HasPrefix(data, []byte{0xEF, 0xBB, 0xBF}) {
		return decodeUTF8Lossy(data[3:])
	}
	if bytes.HasPrefix(data, []byte{0xFF, 0xFE}) {
		return decodeUTF16(data[2:], true)
	}
	if bytes.HasPrefix(data, []byte{0xFE, 0xFF}) {
		return decodeUTF16(data[2:], false)
	}
	if looksLikeUTF16LE(data) {
		return decodeUTF16(data, true)
	}
	return decodeUTF8Lossy(data)
}

// looksLikeUTF16LE probes the first bytes for the NUL pattern of BOM-less
// UTF-16LE ASCII text.
func looksLikeUTF16LE(data []byte) bool {
	probe := len(data)
	if probe > 2000 {
		probe = 2000
	}
	if probe < 4 {
		return false
	}
	zeroOdd := 0
	zeroEven := 0
	for i := 0; i < probe; i++ {
		if data[i] != 0 {
			continue
		}
		if i%2 == 1 {
			zeroOdd++
		} else {
			zeroEven++
		}
	}
	threshold := zeroEven * 2
	if threshold < 10 {
		threshold = 10
	}
	return zeroOdd > threshold
}

func decodeUTF16(data []byte, littleEndian bool) string {
	if len(data)%2 == 1 {
		data = data[:len(data)-1]
	}
	units := make([]uint16, 0, len(data)/2)
	for i := 0; i+1 < len(data); i += 2 {
		if littleEndian {
			units = append(units, uint16(data[i])|uint16(data[i+1])<<8)
		} else {
			units = append(units, uint16(data[i])<<8|uint16(data[i+1]))
		}
	}
	return string(utf16.Decode(units))
}

// decodeUTF8Lossy replaces invalid sequences with the replacement rune.
func decodeUTF8Lossy(data []byte) string {
	if utf8.Valid(data) {
		return string(data)
	}
	var sb strings.Builder
	for len(data) > 0 {
		r, size := utf8.DecodeRune(data)
		if r == utf8.RuneError && size == 1 {
			sb.WriteRune(utf8.RuneError)
		} else {
			sb.WriteRune(r)
		}
		data = data[size:]
	}
	return sb.String()
}
