package persist

import "errors"

var (
	// ErrNoSnapshot is returned by Load when nothing has been saved yet.
	ErrNoSnapshot = errors.New("no snapshot")

	// ErrCorruptSnapshot is returned by Load when the stored bytes do not decode.
	ErrCorruptSnapshot = errors.New("corrupt snapshot")

	// ErrUnsupportedVersion is returned by Load for an envelope written by an
	// incompatible format version.
	ErrUnsupportedVersion = errors.New("unsupported snapshot version")

	// ErrUnknownCodec is returned by CodecByName.
	ErrUnknownCodec = errors.New("unknown snapshot codec")
)
