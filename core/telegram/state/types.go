package state

import (
	"context"
	"errors"
	"strconv"
)

// ErrNoSession is returned by Store.Load when nothing is stored under the key.
var ErrNoSession = errors.New("state: no session")

// Store holds encoded sessions. Implementations must be read-your-own-write
// consistent for a single key.
type Store interface {
	Load(ctx context.Context, key string) ([]byte, error)
	Save(ctx context.Context, key string, data []byte) error
	Delete(ctx context.Context, key string) error
}

// Codec converts between stored bytes and a typed session. Decode must never
// fail: malformed input is repaired to a fresh default and reported through
// the repaired flag.
type Codec[T any] interface {
	New() T
	Decode(data []byte) (session T, repaired bool)
	Encode(session T) ([]byte, error)
}

// Key builds the session key for a chat and user pair.
func Key(chatID, userID int64) string {
	return strconv.FormatInt(chatID, 10) + ":" + strconv.FormatInt(userID, 10)
}
