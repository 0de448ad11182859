package appdata

import (
	"encoding"

	"github.com/vmihailenco/msgpack/v5"
)

// ApplicationData is an application object replicated from the master to
// every slave. Its bytes are opaque to the cluster core.
// both methods are invoked on render goroutine
type ApplicationData interface {
	encoding.BinaryMarshaler
	encoding.BinaryUnmarshaler
}

// MsgpackData replicates any msgpack encodable value.
type MsgpackData[T any] struct {
	Value T
}

func NewMsgpackData[T any](value T) *MsgpackData[T] {
	return &MsgpackData[T]{
		Value: value,
	}
}

func (d *MsgpackData[T]) MarshalBinary() ([]byte, error) {
	return msgpack.Marshal(&d.Value)
}

// UnmarshalBinary leaves Value untouched when data does not decode.
func (d *MsgpackData[T]) UnmarshalBinary(data []byte) error {
	var value T
	err := msgpack.Unmarshal(data, &value)
	if err != nil {
		return err
	}
	d.Value = value
	return nil
}
