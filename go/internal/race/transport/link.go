package transport

import (
	"errors"

	"github.com/google/uuid"
)

var (
	// ErrNoLink is returned when a command is issued without a transport link.
	ErrNoLink = errors.New("transport: no link")
	// ErrLinkLost is reported when the link drops.
	ErrLinkLost = errors.New("transport: link lost")
)

// Link is the raw transport primitive: addressable cells with asynchronous completions.
// Each call only starts the operation. The result arrives later through a Handler.
// An error means the operation never started.
type Link interface {
	Read(target uuid.UUID) error
	Write(target uuid.UUID, value []byte) error
	// SetNotify enables or disables change notifications for target. Its completion is
	// reported through Handler.OnWriteComplete.
	SetNotify(target uuid.UUID, enable bool) error
}

// Handler receives link callbacks. Implementations must not block.
type Handler interface {
	OnLinkUp(link Link)
	OnLinkDown(err error)
	OnCharacteristicChanged(target uuid.UUID, value []byte)
	OnReadComplete(target uuid.UUID, value []byte, err error)
	OnWriteComplete(target uuid.UUID, err error)
}
