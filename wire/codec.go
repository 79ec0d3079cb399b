package wire

import (
	"bytes"

	"github.com/ethereum/go-ethereum/rlp"
)

// Encode serializes v using the canonical RLP encoding shared by every
// consensus message (PrePrepare, Prepare, PostPrepare, Commit,
// PostCommit, Rejection, Tip, and the three block types). Using a single
// canonical codec for hashing, wire transmission, and storage means the
// same bytes that were hashed and signed are the bytes that come back out.
func Encode(v interface{}) ([]byte, error) {
	return rlp.EncodeToBytes(v)
}

// Decode deserializes into v the bytes previously produced by Encode.
func Decode(data []byte, v interface{}) error {
	return rlp.Decode(bytes.NewReader(data), v)
}
