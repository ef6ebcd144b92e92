/*
   Memflow - Remote Process Memory Forensics
   Copyright (C) 2026 Velocidex Innovations.

   This program is free software: you can redistribute it and/or modify
   it under the terms of the GNU Affero General Public License as published
   by the Free Software Foundation, either version 3 of the License, or
   (at your option) any later version.

   This program is distributed in the hope that it will be useful,
   but WITHOUT ANY WARRANTY; without even the implied warranty of
   MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
   GNU Affero General Public License for more details.

   You should have received a copy of the GNU Affero General Public License
   along with this program.  If not, see <https://www.gnu.org/licenses/>.
*/
package flows

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"sync"

	errors "github.com/pkg/errors"
	"www.velocidex.com/golang/memflow/config"
	"www.velocidex.com/golang/memflow/messages"
)

type FlowState int

const (
	FlowStateRunning FlowState = iota
	FlowStateTerminated
	FlowStateError
)

// Flows are factories which have no internal state. They must be
// thread safe and reusable multiple times. All run time state lives
// in the FlowObject.
type Flow interface {
	Start(
		config_obj *config.Config,
		flow_obj *FlowObject,
		args interface{}) error

	// Called once for each correlated response batch delivered by
	// the runner. The batch carries the state tag the flow attached
	// when it dispatched the request.
	ProcessResponses(
		config_obj *config.Config,
		flow_obj *FlowObject,
		responses *Responses) error
}

// Responses is one correlated batch of responses for a single
// dispatched request.
type Responses struct {
	RequestId uint64

	// The state tag attached to the request that produced this batch.
	NextState uint64

	Status   *messages.Status
	Messages []*messages.Message
}

func (self *Responses) Success() bool {
	return self.Status.OK()
}

func (self *Responses) ErrorMessage() string {
	if self.Status == nil {
		return ""
	}
	return self.Status.ErrorMessage
}

// Payloads deserializes all the payload bearing messages in the batch.
func (self *Responses) Payloads() []interface{} {
	result := []interface{}{}
	for _, message := range self.Messages {
		payload := messages.ExtractPayload(message)
		if payload != nil {
			result = append(result, payload)
		}
	}
	return result
}

type parentLink struct {
	session_id string
	request_id uint64
}

// The FlowObject contains the state of one task instance. It is owned
// by the runner which serializes all resumptions, so flow callbacks
// never run concurrently for the same instance.
type FlowObject struct {
	mu sync.Mutex

	SessionId string
	Name      string

	state     FlowState
	status    string
	final_err error

	runner *Runner
	impl   Flow

	// An opaque place for flows to keep context between
	// resumptions (pid accumulators, countdowns etc).
	flow_state interface{}

	// Set when this flow runs as a sub task of another flow.
	parent *parentLink

	// Top level flows stream replies here as they are produced.
	collector chan *messages.Message

	// Sub task replies are buffered and delivered to the parent
	// when the sub task completes.
	replies []*messages.Message

	// Outstanding dispatched requests: request id -> state tag.
	pending          map[uint64]uint64
	next_request_id  uint64
	next_response_id uint64
}

func (self *FlowObject) SetState(value interface{}) {
	self.flow_state = value
}

func (self *FlowObject) GetState() interface{} {
	return self.flow_state
}

func (self *FlowObject) State() FlowState {
	self.mu.Lock()
	defer self.mu.Unlock()
	return self.state
}

// Err returns the terminal error of a failed flow, nil otherwise.
func (self *FlowObject) Err() error {
	self.mu.Lock()
	defer self.mu.Unlock()
	return self.final_err
}

func (self *FlowObject) Status() string {
	self.mu.Lock()
	defer self.mu.Unlock()
	return self.status
}

// CallClient dispatches one asynchronous request to the agent. The
// flow is resumed with state tag next_state when the correlated
// response batch arrives. May only be called from Start or
// ProcessResponses.
func (self *FlowObject) CallClient(
	action string, payload interface{}, next_state uint64) error {

	self.next_request_id++
	message, err := messages.NewMessage(
		self.SessionId, self.next_request_id, payload)
	if err != nil {
		return err
	}
	message.Name = action

	self.pending[message.RequestId] = next_state
	self.runner.dispatch(message)
	return nil
}

// CallFlow spawns another flow as a sub task. The parent is resumed
// with the sub task's full reply stream and final status when the sub
// task completes. May only be called from Start or ProcessResponses.
func (self *FlowObject) CallFlow(
	flow_name string, args interface{}, next_state uint64) error {
	return self.runner.startSubTask(self, flow_name, args, next_state)
}

// SendReply emits one streamed result record.
func (self *FlowObject) SendReply(payload interface{}) error {
	self.next_response_id++
	message, err := messages.NewMessage(self.SessionId, 0, payload)
	if err != nil {
		return err
	}
	message.ResponseId = self.next_response_id

	if self.parent != nil {
		self.replies = append(self.replies, message)
		return nil
	}

	if self.collector != nil {
		self.collector <- message
	}
	return nil
}

// A FlowDescriptor describes a registered flow implementation.
type FlowDescriptor struct {
	Name         string
	FriendlyName string
	Category     string
	Doc          string
	NewArgs      func() interface{}
}

type implEntry struct {
	desc *FlowDescriptor
	impl Flow
}

var (
	impl_mu         sync.Mutex
	implementations = make(map[string]*implEntry)
)

func RegisterImplementation(desc *FlowDescriptor, impl Flow) {
	impl_mu.Lock()
	defer impl_mu.Unlock()

	implementations[desc.Name] = &implEntry{desc, impl}
}

func GetImpl(name string) (Flow, bool) {
	impl_mu.Lock()
	defer impl_mu.Unlock()

	entry, pres := implementations[name]
	if !pres {
		return nil, false
	}
	return entry.impl, true
}

func GetDescriptor(name string) (*FlowDescriptor, bool) {
	impl_mu.Lock()
	defer impl_mu.Unlock()

	entry, pres := implementations[name]
	if !pres {
		return nil, false
	}
	return entry.desc, true
}

func NewFlowId() string {
	result := make([]byte, 8)
	buf := make([]byte, 4)

	_, _ = rand.Read(buf)
	hex.Encode(result, buf)

	return fmt.Sprintf("F.%s", string(result))
}

// NewTaskError converts a remote failure status into the fatal task
// error that terminates the owning flow.
func NewTaskError(status *messages.Status) error {
	if status == nil {
		return errors.WithStack(&TaskError{Status: "remote call failed"})
	}
	return errors.WithStack(&TaskError{Status: status.ErrorMessage})
}
