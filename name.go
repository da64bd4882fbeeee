package fatfs

import (
	"strings"
	"unicode"

	"golang.org/x/text/encoding/charmap"

	"github.com/aligator/fatfs/checkpoint"
)

// invalidNameChars may not appear in a short name. Control characters and space are rejected separately.
const invalidNameChars = `"*+,./:;<=>?[\]|`

// NormalizedName is a space padded 8.3 name as stored on disk, encoded in code page 437.
type NormalizedName [11]byte

var (
	dotName    = NormalizedName{'.', ' ', ' ', ' ', ' ', ' ', ' ', ' ', ' ', ' ', ' '}
	dotDotName = NormalizedName{'.', '.', ' ', ' ', ' ', ' ', ' ', ' ', ' ', ' ', ' '}
)

// NormalizeName converts a single path component into its 8.3 form.
// The name is upper cased, split at the last dot and padded with spaces.
func NormalizeName(name string) (NormalizedName, error) {
	var result NormalizedName

	if name == "" || name == "." || name == ".." {
		return result, checkpoint.Wrapf(ErrInvalidName, "%q is reserved", name)
	}

	base, ext := name, ""
	if i := strings.LastIndexByte(name, '.'); i >= 0 {
		base, ext = name[:i], name[i+1:]
	}

	encodedBase, err := encodeNamePart(base, 8)
	if err != nil {
		return result, checkpoint.Wrapf(err, "base of %q", name)
	}
	if len(encodedBase) == 0 {
		return result, checkpoint.Wrapf(ErrInvalidName, "%q has an empty base name", name)
	}
	encodedExt, err := encodeNamePart(ext, 3)
	if err != nil {
		return result, checkpoint.Wrapf(err, "extension of %q", name)
	}

	for i := range result {
		result[i] = ' '
	}
	copy(result[:8], encodedBase)
	copy(result[8:], encodedExt)
	return result, nil
}

func encodeNamePart(part string, maxLen int) ([]byte, error) {
	encoded := make([]byte, 0, maxLen)
	for _, r := range part {
		if r <= ' ' || r == 0x7F || strings.ContainsRune(invalidNameChars, r) {
			return nil, checkpoint.Wrapf(ErrInvalidName, "character %q not allowed", r)
		}

		b, ok := charmap.CodePage437.EncodeRune(unicode.ToUpper(r))
		if !ok {
			return nil, checkpoint.Wrapf(ErrInvalidName, "character %q has no code page 437 representation", r)
		}
		encoded = append(encoded, b)
	}

	if len(encoded) > maxLen {
		return nil, checkpoint.Wrapf(ErrInvalidName, "%q is longer than %d characters", part, maxLen)
	}
	return encoded, nil
}

// String returns the readable form, e.g. "README.TXT".
func (n NormalizedName) String() string {
	base := decodeOEMString(n[:8])
	ext := decodeOEMString(n[8:])
	if ext == "" {
		return base
	}
	return base + "." + ext
}

// IsDotEntry reports whether the name is one of the "." and ".." entries.
func (n NormalizedName) IsDotEntry() bool {
	return n == dotName || n == dotDotName
}

// decodeOEMString decodes code page 437 bytes and trims the padding.
func decodeOEMString(data []byte) string {
	var sb strings.Builder
	for _, b := range data {
		if b == 0 {
			break
		}
		sb.WriteRune(charmap.CodePage437.DecodeByte(b))
	}
	return strings.TrimRight(sb.String(), " ")
}

// encodeLabel converts a volume label into its upper cased, space padded form.
func encodeLabel(label string) ([11]byte, error) {
	var result [11]byte
	for i := range result {
		result[i] = ' '
	}

	i := 0
	for _, r := range label {
		if r < ' ' || strings.ContainsRune(invalidNameChars, r) {
			return result, checkpoint.Wrapf(ErrInvalidName, "character %q not allowed in a label", r)
		}
		b, ok := charmap.CodePage437.EncodeRune(unicode.ToUpper(r))
		if !ok {
			return result, checkpoint.Wrapf(ErrInvalidName, "character %q has no code page 437 representation", r)
		}
		if i >= len(result) {
			return result, checkpoint.Wrapf(ErrInvalidName, "label %q is longer than 11 characters", label)
		}
		result[i] = b
		i++
	}
	return result, nil
}
