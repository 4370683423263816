package queue

import (
	"fmt"
	"reflect"

	"github.com/fxamacker/cbor/v2"

	mint "github.com/permitmint/mint/go"
)

// Queue payloads are CBOR so task images are stored as raw bytes.
var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	var err error

	encOptions := cbor.CoreDetEncOptions()
	// CollectionType travels as its name, not its ordinal.
	encOptions.TextMarshaler = cbor.TextMarshalerTextString
	encOptions.Time = cbor.TimeRFC3339Nano
	encMode, err = encOptions.EncMode()
	if err != nil {
		panic("queue: CBOR encoder initialization failed: " + err.Error())
	}

	decMode, err = cbor.DecOptions{
		// Attribute values decode into interface{}.
		DefaultMapType:  reflect.TypeOf(map[string]any(nil)),
		TextUnmarshaler: cbor.TextUnmarshalerTextString,
	}.DecMode()
	if err != nil {
		panic("queue: CBOR decoder initialization failed: " + err.Error())
	}
}

func encodeTask(task mint.MintTask) ([]byte, error) {
	payload, err := encMode.Marshal(task)
	if err != nil {
		return nil, fmt.Errorf("failed to encode task %s: %w", task.ID, err)
	}
	return payload, nil
}

func decodeTask(payload []byte) (mint.MintTask, error) {
	var task mint.MintTask
	if err := decMode.Unmarshal(payload, &task); err != nil {
		return mint.MintTask{}, fmt.Errorf("failed to decode task: %w", err)
	}
	if task.ID == "" {
		return mint.MintTask{}, fmt.Errorf("failed to decode task: missing id")
	}
	return task, nil
}
