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
	"fmt"
	"regexp"

	errors "github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"www.velocidex.com/golang/memflow/config"
	"www.velocidex.com/golang/memflow/logging"
	"www.velocidex.com/golang/memflow/messages"
)

const (
	_ uint64 = iota
	processDumpResultsState
	processFetchResultsState
	logDeleteFilesState
)

// DumpProcessMemory acquires memory for a set of processes on an
// agent: dump to temp files, migrate old agent replies, fetch the
// dump files into the file store and delete them from the agent.
type DumpProcessMemory struct{}

type dumpFlowState struct {
	request *messages.DumpRequest

	// Deletions dispatched and still awaiting an acknowledgment.
	outstanding_deletions int
	total_deletions       int
}

func (self *DumpProcessMemory) Start(
	config_obj *config.Config,
	flow_obj *FlowObject,
	args interface{}) error {

	request, ok := args.(*messages.DumpRequest)
	if !ok {
		return errors.New("Expected args of type DumpRequest")
	}

	// Catch regex errors early.
	if request.ProcessRegex != "" {
		_, err := regexp.Compile(request.ProcessRegex)
		if err != nil {
			return &ConfigurationError{
				Message: fmt.Sprintf("invalid process regex: %v", err)}
		}
	}

	if !request.DumpAllProcesses && len(request.Pids) == 0 &&
		request.ProcessRegex == "" {
		return &ValidationError{
			Message: "no processes to dump specified"}
	}

	flow_obj.SetState(&dumpFlowState{request: request})
	return flow_obj.CallClient(
		"YaraProcessDump", request, processDumpResultsState)
}

func (self *DumpProcessMemory) ProcessResponses(
	config_obj *config.Config,
	flow_obj *FlowObject,
	responses *Responses) error {

	state, ok := flow_obj.GetState().(*dumpFlowState)
	if !ok {
		return errors.New("invalid dump flow state")
	}

	switch responses.NextState {
	case processDumpResultsState:
		return self.processDumpResults(config_obj, flow_obj, responses)

	case processFetchResultsState:
		return self.processFetchResults(flow_obj, state, responses)

	case logDeleteFilesState:
		return self.logDeleteFiles(config_obj, flow_obj, state, responses)
	}

	return errors.Errorf("unexpected dump state %d", responses.NextState)
}

func (self *DumpProcessMemory) processDumpResults(
	config_obj *config.Config,
	flow_obj *FlowObject,
	responses *Responses) error {

	if !responses.Success() {
		return NewTaskError(responses.Status)
	}

	// A dump call produces exactly one response unit.
	var response *messages.DumpResponse
	for _, payload := range responses.Payloads() {
		if r, ok := payload.(*messages.DumpResponse); ok {
			response = r
			break
		}
	}

	if response == nil {
		return errors.New("dump call produced no response unit")
	}

	err := migrateLegacyDumpFiles(response)
	if err != nil {
		return err
	}

	logger := logging.GetLogger(config_obj, &logging.FrontendComponent)

	// Per process dump failures are reported but do not abort the
	// task. Some agents omit the process descriptor - normalize so
	// consumers never see a null record.
	for _, dump_error := range response.Errors {
		if dump_error.Process == nil {
			dump_error.Process = &messages.ProcessInfo{}
		}
		logger.WithFields(logrus.Fields{
			"process": dump_error.Process.Exe,
			"pid":     dump_error.Process.Pid,
			"error":   dump_error.Error,
		}).Warn("Error dumping process")
	}

	dump_files_to_get := []*messages.PathSpec{}
	for _, dumped_process := range response.DumpedProcesses {
		if dumped_process.Process == nil {
			dumped_process.Process = &messages.ProcessInfo{}
		}
		p := dumped_process.Process
		logger.Info("Getting %d dump files for process %s (pid %d).",
			len(dumped_process.MemoryRegions), p.Exe, p.Pid)

		for _, region := range dumped_process.MemoryRegions {
			if region == nil || region.File == nil {
				continue
			}
			dump_files_to_get = append(dump_files_to_get, region.File)
		}
	}

	err = flow_obj.SendReply(response)
	if err != nil {
		return err
	}

	if len(dump_files_to_get) == 0 {
		logger.Info("No memory dumped, exiting.")
		return nil
	}

	return flow_obj.CallFlow("MultiGetFile",
		&messages.FetchRequest{
			Files:             dump_files_to_get,
			MaxFileSize:       config_obj.Flows.MaxUploadSize,
			UseExternalStores: false,
		}, processFetchResultsState)
}

// Stream each fetched file and ask the agent to delete its temp
// file. Deletions run independently of each other.
func (self *DumpProcessMemory) processFetchResults(
	flow_obj *FlowObject,
	state *dumpFlowState,
	responses *Responses) error {

	if !responses.Success() {
		return NewTaskError(responses.Status)
	}

	for _, payload := range responses.Payloads() {
		fetched, ok := payload.(*messages.FetchedFile)
		if !ok {
			continue
		}

		err := flow_obj.SendReply(fetched)
		if err != nil {
			return err
		}

		err = flow_obj.CallClient("DeleteTempFiles",
			&messages.DeleteRequest{File: fetched.File},
			logDeleteFilesState)
		if err != nil {
			return err
		}
		state.outstanding_deletions++
		state.total_deletions++
	}

	flow_obj.SetState(state)
	return nil
}

// Check that each temp file deletion worked. Any failed deletion is
// fatal to the whole task, even if other deletions succeeded or are
// still outstanding.
func (self *DumpProcessMemory) logDeleteFiles(
	config_obj *config.Config,
	flow_obj *FlowObject,
	state *dumpFlowState,
	responses *Responses) error {

	if !responses.Success() {
		return errors.WithStack(&TaskError{
			Status: fmt.Sprintf("could not delete file: %s",
				responses.ErrorMessage())})
	}

	state.outstanding_deletions--
	if state.outstanding_deletions == 0 {
		logger := logging.GetLogger(config_obj, &logging.FrontendComponent)
		logger.Info("Removed %d temporary dump files from the agent.",
			state.total_deletions)
	}

	flow_obj.SetState(state)
	return nil
}

func init() {
	RegisterImplementation(&FlowDescriptor{
		Name:         "DumpProcessMemory",
		FriendlyName: "Process Dump",
		Category:     "Memory",
		Doc:          "Acquires memory for a given list of processes.",
		NewArgs:      func() interface{} { return &messages.DumpRequest{} },
	}, &DumpProcessMemory{})
}
