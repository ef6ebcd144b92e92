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
	"www.velocidex.com/golang/memflow/messages"
)

// FlowHandle is the caller's view of a launched task: a stream of
// typed result records, closed when the task reaches a terminal
// state.
type FlowHandle struct {
	SessionId string

	// Streamed results, in emission order. Closed on completion.
	Results <-chan *messages.Message

	flow_obj *FlowObject
}

// Err reports the fatal error of a failed task. Only meaningful after
// Results is closed.
func (self *FlowHandle) Err() error {
	return self.flow_obj.Err()
}

func (self *FlowHandle) State() FlowState {
	return self.flow_obj.State()
}

// Wait drains the result stream and returns the deserialized payloads
// together with the task's final error.
func (self *FlowHandle) Wait() ([]interface{}, error) {
	results := []interface{}{}
	for message := range self.Results {
		payload := messages.ExtractPayload(message)
		if payload != nil {
			results = append(results, payload)
		}
	}
	return results, self.Err()
}

// ScanProcesses scans live process memory on the agent against
// signature rules, streaming matches (and optionally errors, misses
// and the results of dumping matched processes) as they arrive.
func (self *Runner) ScanProcesses(
	request *messages.ScanRequest) (*FlowHandle, error) {
	return self.launch("YaraProcessScan", request)
}

// DumpProcessMemory dumps process memory on the agent, retrieves the
// dump files into the file store and purges them from the agent.
func (self *Runner) DumpProcessMemory(
	request *messages.DumpRequest) (*FlowHandle, error) {
	return self.launch("DumpProcessMemory", request)
}

func (self *Runner) launch(name string, args interface{}) (
	*FlowHandle, error) {
	collector := make(chan *messages.Message, 1024)

	flow_obj, err := self.StartFlow(name, args, collector)
	if err != nil {
		return nil, err
	}

	return &FlowHandle{
		SessionId: flow_obj.SessionId,
		Results:   collector,
		flow_obj:  flow_obj,
	}, nil
}
