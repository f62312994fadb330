package artifact

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

// ---------------------------------------------------------------------------
// Binary image
// ---------------------------------------------------------------------------

// An image is a 4-byte magic, a little-endian uint32 format version, and
// the canonical CBOR encoding of the Unit.

// ImageMagic opens every image file.
var ImageMagic = [4]byte{'A', 'T', 'M', 'I'}

// ImageVersion is the current image format version.
const ImageVersion uint32 = 1

const imageHeaderSize = 8

var cborEncMode cbor.EncMode

func init() {
	em, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("artifact: failed to create CBOR enc mode: %v", err))
	}
	cborEncMode = em
}

// MarshalImage serializes u into an image. Encoding is deterministic, so
// equal units produce equal bytes.
func MarshalImage(u *Unit) ([]byte, error) {
	body, err := cborEncMode.Marshal(u)
	if err != nil {
		return nil, fmt.Errorf("artifact: marshal image: %w", err)
	}
	out := make([]byte, imageHeaderSize, imageHeaderSize+len(body))
	copy(out, ImageMagic[:])
	binary.LittleEndian.PutUint32(out[4:], ImageVersion)
	return append(out, body...), nil
}

// UnmarshalImage deserializes an image produced by MarshalImage.
func UnmarshalImage(data []byte) (*Unit, error) {
	if !IsImage(data) {
		return nil, ErrImageMagic
	}
	if v := binary.LittleEndian.Uint32(data[4:]); v != ImageVersion {
		return nil, fmt.Errorf("%w: got %d, want %d", ErrImageVersion, v, ImageVersion)
	}
	var u Unit
	if err := cbor.Unmarshal(data[imageHeaderSize:], &u); err != nil {
		return nil, fmt.Errorf("artifact: unmarshal image: %w", err)
	}
	return &u, nil
}

// IsImage reports whether data starts with the image magic.
func IsImage(data []byte) bool {
	return len(data) >= imageHeaderSize && bytes.Equal(data[:4], ImageMagic[:])
}

// Decode reads either form, picking the codec by the leading magic.
func Decode(data []byte) (*Unit, error) {
	if IsImage(data) {
		return UnmarshalImage(data)
	}
	return DecodeJSON(data)
}
