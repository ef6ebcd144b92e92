package flows

import (
	"os"
	"sync"

	errors "github.com/pkg/errors"
	"www.velocidex.com/golang/memflow/json"
	"www.velocidex.com/golang/memflow/messages"
)

// RecordedResponse is one captured agent response batch, keyed by the
// client action that produced it.
type RecordedResponse struct {
	Action    string              `json:"action"`
	Status    *messages.Status    `json:"status,omitempty"`
	Responses []*messages.Message `json:"responses,omitempty"`
}

// ReplayDispatcher serves recorded response batches instead of
// reaching a live agent. This allows old captures to be re-processed
// through the current pipeline - e.g. migrating dump results recorded
// by old agents - without touching an endpoint.
type ReplayDispatcher struct {
	mu sync.Mutex

	runner   *Runner
	recorded map[string][]*RecordedResponse
}

func NewReplayDispatcher(recorded []*RecordedResponse) *ReplayDispatcher {
	result := &ReplayDispatcher{
		recorded: make(map[string][]*RecordedResponse),
	}
	for _, r := range recorded {
		result.recorded[r.Action] = append(result.recorded[r.Action], r)
	}
	return result
}

// SetRunner must be called before the first dispatch.
func (self *ReplayDispatcher) SetRunner(runner *Runner) {
	self.mu.Lock()
	defer self.mu.Unlock()
	self.runner = runner
}

func (self *ReplayDispatcher) DispatchToAgent(message *messages.Message) {
	self.mu.Lock()
	runner := self.runner
	queue := self.recorded[message.Name]
	var recorded *RecordedResponse
	if len(queue) > 0 {
		recorded = queue[0]
		self.recorded[message.Name] = queue[1:]
	}
	self.mu.Unlock()

	batch := &ResponseBatch{
		SessionId: message.SessionId,
		RequestId: message.RequestId,
	}

	if recorded == nil {
		batch.Status = &messages.Status{
			Status:       messages.StatusGenericError,
			ErrorMessage: "no recorded response for action " + message.Name,
		}
	} else {
		batch.Status = recorded.Status
		for idx, response := range recorded.Responses {
			// Correlate the recorded response with the request that
			// replays it.
			batch.Responses = append(batch.Responses, &messages.Message{
				SessionId:  message.SessionId,
				RequestId:  message.RequestId,
				ResponseId: uint64(idx + 1),
				ArgsName:   response.ArgsName,
				Args:       response.Args,
			})
		}
	}

	go runner.DeliverResponses(batch)
}

// LoadRecordedResponses reads a capture file written as a JSON array
// of RecordedResponse objects.
func LoadRecordedResponses(filename string) ([]*RecordedResponse, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, errors.WithStack(err)
	}

	result := []*RecordedResponse{}
	err = json.Unmarshal(data, &result)
	if err != nil {
		return nil, errors.WithStack(err)
	}

	return result, nil
}
