// Package messages contains the envelope and payload types exchanged
// between the task runner and endpoint agents. Payloads are carried
// serialized inside the envelope together with their registered type
// name, so a message can round trip through any transport unchanged.
package messages

import (
	"fmt"
	"sync"

	errors "github.com/pkg/errors"
	"www.velocidex.com/golang/memflow/json"
)

type StatusCode int

const (
	StatusOK StatusCode = iota
	StatusGenericError
)

// Status is the final message of every request - it tells the waiting
// task if the remote call worked.
type Status struct {
	Status       StatusCode `json:"status"`
	ErrorMessage string     `json:"error_message,omitempty"`
	Backtrace    string     `json:"backtrace,omitempty"`
}

func (self *Status) OK() bool {
	return self == nil || self.Status == StatusOK
}

// Message is the envelope for a single request or response. Responses
// carry the SessionId and RequestId of the request that caused them so
// the runner can route them back to the awaiting task.
type Message struct {
	SessionId  string `json:"session_id"`
	RequestId  uint64 `json:"request_id"`
	ResponseId uint64 `json:"response_id,omitempty"`

	// The client action to run. Only set on requests.
	Name string `json:"name,omitempty"`

	// The registered type name of Args.
	ArgsName string `json:"args_name,omitempty"`
	Args     []byte `json:"args,omitempty"`

	// Set on the final message of a response sequence.
	Status *Status `json:"status,omitempty"`
}

// NewMessage serializes the payload into a fresh envelope.
func NewMessage(session_id string, request_id uint64,
	payload interface{}) (*Message, error) {

	name, pres := lookupPayloadName(payload)
	if !pres {
		return nil, errors.Errorf("unknown payload type %T", payload)
	}

	serialized, err := json.Marshal(payload)
	if err != nil {
		return nil, errors.WithStack(err)
	}

	return &Message{
		SessionId: session_id,
		RequestId: request_id,
		ArgsName:  name,
		Args:      serialized,
	}, nil
}

// ExtractPayload deserializes the payload carried by the message into
// a new instance of its registered type. Returns nil for messages
// without a payload (e.g. bare status messages).
func ExtractPayload(message *Message) interface{} {
	mu.Lock()
	factory, pres := payload_registry[message.ArgsName]
	mu.Unlock()

	if !pres {
		return nil
	}

	payload := factory()
	err := json.Unmarshal(message.Args, payload)
	if err != nil {
		return nil
	}

	return payload
}

var (
	mu               sync.Mutex
	payload_registry = make(map[string]func() interface{})
	payload_names    = make(map[string]string)
)

// RegisterPayload makes a payload type available for
// ExtractPayload. Should be called from an init() function.
func RegisterPayload(name string, factory func() interface{}) {
	mu.Lock()
	defer mu.Unlock()

	payload_registry[name] = factory
	payload_names[typeName(factory())] = name
}

func lookupPayloadName(payload interface{}) (string, bool) {
	mu.Lock()
	defer mu.Unlock()

	name, pres := payload_names[typeName(payload)]
	return name, pres
}

func typeName(v interface{}) string {
	return fmt.Sprintf("%T", v)
}
