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
	"sync"
	"time"

	"github.com/Velocidex/ttlcache/v2"
	errors "github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"www.velocidex.com/golang/memflow/config"
	"www.velocidex.com/golang/memflow/logging"
	"www.velocidex.com/golang/memflow/messages"
)

var (
	flowsLaunchedCounter = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "flows_launched_total",
			Help: "Number of tasks launched by flow name.",
		}, []string{"flow"})

	clientMessagesDispatched = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "client_messages_dispatched_total",
			Help: "Number of requests dispatched to agents.",
		})

	flowErrorCounter = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "flow_errors_total",
			Help: "Number of tasks that terminated with an error.",
		})
)

// AgentDispatcher is the transport boundary. Implementations deliver
// the request to the target agent and eventually feed the correlated
// response batch back through Runner.DeliverResponses. Retries,
// backoff and the wire encoding are the transport's business.
type AgentDispatcher interface {
	DispatchToAgent(message *messages.Message)
}

// ResponseBatch is one discrete batch of responses produced by a
// single remote call, correlated back to the request that caused it.
type ResponseBatch struct {
	SessionId string
	RequestId uint64
	Status    *messages.Status
	Responses []*messages.Message
}

// The Runner owns all in flight task instances. Each instance is a
// cooperative state machine: it runs until it has dispatched its
// requests, then yields until the correlated response batch is
// delivered. Resumptions of the same instance never overlap,
// independent instances run fully in parallel.
type Runner struct {
	mu sync.Mutex

	config_obj *config.Config
	dispatcher AgentDispatcher

	in_flight map[string]*FlowObject
	completed *ttlcache.Cache
}

func NewRunner(config_obj *config.Config,
	dispatcher AgentDispatcher) *Runner {

	completed := ttlcache.NewCache()
	completed.SetCacheSizeLimit(1000)
	_ = completed.SetTTL(time.Duration(
		config_obj.Flows.CompletedFlowTtlSec) * time.Second)
	completed.SkipTTLExtensionOnHit(true)

	return &Runner{
		config_obj: config_obj,
		dispatcher: dispatcher,
		in_flight:  make(map[string]*FlowObject),
		completed:  completed,
	}
}

func (self *Runner) Close() {
	self.completed.Close()
}

// StartFlow launches a new top level task. Validation failures in the
// flow's Start method are returned synchronously and nothing is
// dispatched. The collector receives streamed results until the task
// completes, at which point it is closed.
func (self *Runner) StartFlow(name string, args interface{},
	collector chan *messages.Message) (*FlowObject, error) {

	impl, pres := GetImpl(name)
	if !pres {
		return nil, errors.Errorf("unknown flow %s", name)
	}

	flow_obj := &FlowObject{
		SessionId: NewFlowId(),
		Name:      name,
		state:     FlowStateRunning,
		runner:    self,
		impl:      impl,
		collector: collector,
		pending:   make(map[uint64]uint64),
	}

	self.mu.Lock()
	self.in_flight[flow_obj.SessionId] = flow_obj
	self.mu.Unlock()

	flow_obj.mu.Lock()
	defer flow_obj.mu.Unlock()

	err := impl.Start(self.config_obj, flow_obj, args)
	if err != nil {
		self.mu.Lock()
		delete(self.in_flight, flow_obj.SessionId)
		self.mu.Unlock()

		if collector != nil {
			close(collector)
		}
		return nil, err
	}

	flowsLaunchedCounter.WithLabelValues(name).Inc()

	self.completeIfDone(flow_obj)
	return flow_obj, nil
}

// startSubTask launches a flow as a sub task of parent. Called from
// within a parent callback, so the parent lock is already held.
func (self *Runner) startSubTask(parent *FlowObject, name string,
	args interface{}, next_state uint64) error {

	impl, pres := GetImpl(name)
	if !pres {
		return errors.Errorf("unknown flow %s", name)
	}

	parent.next_request_id++
	request_id := parent.next_request_id

	flow_obj := &FlowObject{
		SessionId: NewFlowId(),
		Name:      name,
		state:     FlowStateRunning,
		runner:    self,
		impl:      impl,
		parent: &parentLink{
			session_id: parent.SessionId,
			request_id: request_id,
		},
		pending: make(map[uint64]uint64),
	}

	self.mu.Lock()
	self.in_flight[flow_obj.SessionId] = flow_obj
	self.mu.Unlock()

	flow_obj.mu.Lock()
	defer flow_obj.mu.Unlock()

	err := impl.Start(self.config_obj, flow_obj, args)
	if err != nil {
		self.mu.Lock()
		delete(self.in_flight, flow_obj.SessionId)
		self.mu.Unlock()
		return err
	}

	flowsLaunchedCounter.WithLabelValues(name).Inc()

	// The parent suspends on the sub task only once the child
	// started successfully.
	parent.pending[request_id] = next_state

	self.completeIfDone(flow_obj)
	return nil
}

// DeliverResponses resumes the awaiting task with one correlated
// response batch. Each dispatched request is resumed at most once -
// duplicate or late deliveries are dropped.
func (self *Runner) DeliverResponses(batch *ResponseBatch) {
	logger := logging.GetLogger(self.config_obj, &logging.FrontendComponent)

	self.mu.Lock()
	flow_obj, pres := self.in_flight[batch.SessionId]
	self.mu.Unlock()

	if !pres {
		logger.Debug("Dropping response batch for unknown session %s",
			batch.SessionId)
		return
	}

	flow_obj.mu.Lock()
	defer flow_obj.mu.Unlock()

	if flow_obj.state != FlowStateRunning {
		return
	}

	next_state, pres := flow_obj.pending[batch.RequestId]
	if !pres {
		logger.Debug("Dropping duplicate delivery for %s request %d",
			batch.SessionId, batch.RequestId)
		return
	}
	delete(flow_obj.pending, batch.RequestId)

	responses := &Responses{
		RequestId: batch.RequestId,
		NextState: next_state,
		Status:    batch.Status,
		Messages:  batch.Responses,
	}

	// A malformed response must only fail the task that owns it, never
	// the whole process. The flow lock is still held here so failFlow
	// is safe to call.
	defer func() {
		if r := recover(); r != nil {
			self.failFlow(flow_obj, errors.Errorf(
				"unexpected error processing responses: %v", r))
		}
	}()

	err := flow_obj.impl.ProcessResponses(
		self.config_obj, flow_obj, responses)
	if err != nil {
		self.failFlow(flow_obj, err)
		return
	}

	self.completeIfDone(flow_obj)
}

// GetFlow looks up a task by session id, in flight or recently
// completed.
func (self *Runner) GetFlow(session_id string) (*FlowObject, bool) {
	self.mu.Lock()
	flow_obj, pres := self.in_flight[session_id]
	self.mu.Unlock()
	if pres {
		return flow_obj, true
	}

	value, err := self.completed.Get(session_id)
	if err == nil {
		flow_obj, ok := value.(*FlowObject)
		return flow_obj, ok
	}
	return nil, false
}

func (self *Runner) dispatch(message *messages.Message) {
	clientMessagesDispatched.Inc()
	self.dispatcher.DispatchToAgent(message)
}

// failFlow terminates the task with a fatal error. Any still
// outstanding requests are abandoned - late responses to them are
// dropped. Results already streamed remain delivered. Caller holds
// the flow lock.
func (self *Runner) failFlow(flow_obj *FlowObject, err error) {
	flowErrorCounter.Inc()

	logging.GetLogger(self.config_obj, &logging.FrontendComponent).
		Error("Flow %s (%s) failed: %v",
			flow_obj.SessionId, flow_obj.Name, err)

	flow_obj.state = FlowStateError
	flow_obj.status = err.Error()
	flow_obj.final_err = err
	flow_obj.pending = make(map[uint64]uint64)

	self.retire(flow_obj)
}

// completeIfDone terminates the task when no dispatched request is
// still outstanding. Caller holds the flow lock.
func (self *Runner) completeIfDone(flow_obj *FlowObject) {
	if flow_obj.state != FlowStateRunning || len(flow_obj.pending) > 0 {
		return
	}

	flow_obj.state = FlowStateTerminated
	self.retire(flow_obj)
}

// retire moves a finished task out of the in flight set and notifies
// its parent or closes its result stream. Caller holds the flow lock.
func (self *Runner) retire(flow_obj *FlowObject) {
	self.mu.Lock()
	delete(self.in_flight, flow_obj.SessionId)
	self.mu.Unlock()

	_ = self.completed.Set(flow_obj.SessionId, flow_obj)

	if flow_obj.parent != nil {
		status := &messages.Status{Status: messages.StatusOK}
		if flow_obj.state == FlowStateError {
			status = &messages.Status{
				Status:       messages.StatusGenericError,
				ErrorMessage: flow_obj.status,
			}
		}

		batch := &ResponseBatch{
			SessionId: flow_obj.parent.session_id,
			RequestId: flow_obj.parent.request_id,
			Status:    status,
			Responses: flow_obj.replies,
		}

		// Delivered asynchronously - the parent may be in the middle
		// of its own resumption.
		go self.DeliverResponses(batch)
		return
	}

	if flow_obj.collector != nil {
		close(flow_obj.collector)
	}
}
