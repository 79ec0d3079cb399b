package wire

import "errors"

var (
	errInvalidHeaderSize = errors.New("wire: invalid message header size")
	// ErrPayloadTooLarge guards the framing layer against a peer
	// advertising an implausible payload_size ahead of actually reading it.
	ErrPayloadTooLarge = errors.New("wire: payload size exceeds maximum frame size")
	// ErrUnknownMessageType is returned by the dispatcher when a header's
	// type byte does not match any known MessageType.
	ErrUnknownMessageType = errors.New("wire: unknown message type")
)

// MaxFrameSize bounds a single message's payload; a RequestBlock at
// chain.BatchSize requests comfortably fits well under this.
const MaxFrameSize = 16 << 20 // 16 MiB
