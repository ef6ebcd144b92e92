package flows

import (
	"sync"

	"www.velocidex.com/golang/memflow/messages"
)

type cannedResponse struct {
	status   *messages.Status
	payloads []interface{}
}

// ScriptedDispatcher is an in memory agent used by tests. Responses
// are queued per client action and consumed in dispatch order. Every
// dispatched request is recorded so tests can assert exactly what
// reached the agent. Requests with no queued response stay pending
// forever, like an agent that never answers.
type ScriptedDispatcher struct {
	mu sync.Mutex

	Runner *Runner

	requests []*messages.Message
	queued   map[string][]*cannedResponse
}

func NewScriptedDispatcher() *ScriptedDispatcher {
	return &ScriptedDispatcher{
		queued: make(map[string][]*cannedResponse),
	}
}

// Queue adds one canned response batch for the action. A nil status
// means success.
func (self *ScriptedDispatcher) Queue(
	action string, status *messages.Status, payloads ...interface{}) {
	self.mu.Lock()
	defer self.mu.Unlock()

	self.queued[action] = append(self.queued[action],
		&cannedResponse{status: status, payloads: payloads})
}

// QueueFailure adds a canned failure for the action.
func (self *ScriptedDispatcher) QueueFailure(action, error_message string) {
	self.Queue(action, &messages.Status{
		Status:       messages.StatusGenericError,
		ErrorMessage: error_message,
	})
}

// Requests returns all recorded requests for the action, in dispatch
// order.
func (self *ScriptedDispatcher) Requests(action string) []*messages.Message {
	self.mu.Lock()
	defer self.mu.Unlock()

	result := []*messages.Message{}
	for _, request := range self.requests {
		if request.Name == action {
			result = append(result, request)
		}
	}
	return result
}

func (self *ScriptedDispatcher) RequestCount() int {
	self.mu.Lock()
	defer self.mu.Unlock()
	return len(self.requests)
}

func (self *ScriptedDispatcher) DispatchToAgent(message *messages.Message) {
	self.mu.Lock()
	self.requests = append(self.requests, message)

	queue := self.queued[message.Name]
	var canned *cannedResponse
	if len(queue) > 0 {
		canned = queue[0]
		self.queued[message.Name] = queue[1:]
	}
	runner := self.Runner
	self.mu.Unlock()

	if canned == nil {
		return
	}

	batch := &ResponseBatch{
		SessionId: message.SessionId,
		RequestId: message.RequestId,
		Status:    canned.status,
	}

	for idx, payload := range canned.payloads {
		response, err := messages.NewMessage(
			message.SessionId, message.RequestId, payload)
		if err != nil {
			panic(err)
		}
		response.ResponseId = uint64(idx + 1)
		batch.Responses = append(batch.Responses, response)
	}

	go runner.DeliverResponses(batch)
}
