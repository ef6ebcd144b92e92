// Wrap the json library to control encoding.

package json

import (
	"bytes"
	"sync"

	"github.com/Velocidex/json"
	"github.com/Velocidex/ordereddict"
)

type encoderHandler struct {
	sample interface{}
	cb     json.EncoderCallback
}

var (
	mu       sync.Mutex
	handlers []*encoderHandler
)

// RegisterCustomEncoder adds an encoder callback for the concrete type
// of sample. Should be called once from an init() function.
func RegisterCustomEncoder(sample interface{}, cb json.EncoderCallback) {
	mu.Lock()
	defer mu.Unlock()

	handlers = append(handlers, &encoderHandler{sample, cb})
}

func NewEncOpts() *json.EncOpts {
	mu.Lock()
	defer mu.Unlock()

	opts := json.NewEncOpts()
	for _, h := range handlers {
		opts.WithCallback(h.sample, h.cb)
	}
	return opts
}

// Encode ordereddict.Dict instances preserving key order.
func marshalDict(v interface{}, opts *json.EncOpts) ([]byte, error) {
	dict, ok := v.(*ordereddict.Dict)
	if !ok {
		return nil, json.EncoderCallbackSkip
	}

	buf := bytes.Buffer{}
	buf.WriteByte('{')
	for idx, key := range dict.Keys() {
		if idx > 0 {
			buf.WriteByte(',')
		}

		serialized_key, err := json.MarshalWithOptions(key, opts)
		if err != nil {
			return nil, err
		}
		buf.Write(serialized_key)
		buf.WriteByte(':')

		value, pres := dict.Get(key)
		if !pres {
			buf.WriteString("null")
			continue
		}

		serialized, err := json.MarshalWithOptions(value, opts)
		if err != nil {
			buf.WriteString("null")
			continue
		}
		buf.Write(serialized)
	}
	buf.WriteByte('}')

	return buf.Bytes(), nil
}

func init() {
	RegisterCustomEncoder(ordereddict.NewDict(), marshalDict)
}
