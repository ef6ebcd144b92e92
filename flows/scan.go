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
	"sort"
	"strings"

	errors "github.com/pkg/errors"
	"www.velocidex.com/golang/memflow/config"
	"www.velocidex.com/golang/memflow/logging"
	"www.velocidex.com/golang/memflow/messages"
)

const (
	_ uint64 = iota
	processScanResultsState
	checkDumpResultsState
)

var ruleNameRegex = regexp.MustCompile(
	`(?m)^\s*(?:private\s+|global\s+)*rule\s+([a-zA-Z0-9_]+)`)

// ParseRuleNames extracts the rule names declared in a signature
// source. The matching itself happens on the agent - this is only
// used to reject empty signature specifications early.
func ParseRuleNames(signature string) []string {
	result := []string{}
	for _, m := range ruleNameRegex.FindAllStringSubmatch(signature, -1) {
		result = append(result, m[1])
	}
	return result
}

// YaraProcessScan scans process memory on an agent using signature
// rules, optionally dumping the memory of any matching process.
type YaraProcessScan struct{}

type scanFlowState struct {
	request *messages.ScanRequest
}

func (self *YaraProcessScan) Start(
	config_obj *config.Config,
	flow_obj *FlowObject,
	args interface{}) error {

	request, ok := args.(*messages.ScanRequest)
	if !ok {
		return errors.New("Expected args of type ScanRequest")
	}

	// Catch signature issues early.
	rules := ParseRuleNames(request.SignatureRules)
	if len(rules) == 0 {
		return &ConfigurationError{
			Message: "no rules found in the signature specification"}
	}

	// Same for regex errors.
	if request.ProcessRegex != "" {
		_, err := regexp.Compile(request.ProcessRegex)
		if err != nil {
			return &ConfigurationError{
				Message: fmt.Sprintf("invalid process regex: %v", err)}
		}
	}

	flow_obj.SetState(&scanFlowState{request: request})
	return flow_obj.CallClient(
		"YaraProcessScan", request, processScanResultsState)
}

func (self *YaraProcessScan) ProcessResponses(
	config_obj *config.Config,
	flow_obj *FlowObject,
	responses *Responses) error {

	state, ok := flow_obj.GetState().(*scanFlowState)
	if !ok {
		return errors.New("invalid scan flow state")
	}

	switch responses.NextState {
	case processScanResultsState:
		return self.processScanResults(config_obj, flow_obj, state, responses)

	case checkDumpResultsState:
		return self.checkDumpProcessMemoryResults(flow_obj, responses)
	}

	return errors.Errorf("unexpected scan state %d", responses.NextState)
}

func (self *YaraProcessScan) processScanResults(
	config_obj *config.Config,
	flow_obj *FlowObject,
	state *scanFlowState,
	responses *Responses) error {

	if !responses.Success() {
		return NewTaskError(responses.Status)
	}

	logger := logging.GetLogger(config_obj, &logging.FrontendComponent)

	// Pids matched across all response units, duplicates collapsed.
	seen := make(map[uint64]bool)
	pids_to_dump := []uint64{}

	for _, payload := range responses.Payloads() {
		response, ok := payload.(*messages.ScanResponse)
		if !ok {
			continue
		}

		for _, match := range response.Matches {
			// Some agents omit the process descriptor. Normalize so
			// consumers never see a null record.
			if match.Process == nil {
				match.Process = &messages.ProcessInfo{}
			}

			err := flow_obj.SendReply(match)
			if err != nil {
				return err
			}

			rules := make(map[string]bool)
			for _, m := range match.Match {
				rules[m.RuleName] = true
			}
			rules_string := strings.Join(sortedKeys(rules), ",")
			logger.Debug("YaraScan match in pid %d (%s) for rules %s.",
				match.Process.Pid, match.Process.Exe, rules_string)

			if state.request.DumpProcessOnMatch &&
				!seen[match.Process.Pid] {
				seen[match.Process.Pid] = true
				pids_to_dump = append(pids_to_dump, match.Process.Pid)
			}
		}

		if state.request.IncludeErrorsInResults {
			for _, scan_error := range response.Errors {
				err := flow_obj.SendReply(scan_error)
				if err != nil {
					return err
				}
			}
		}

		if state.request.IncludeMissesInResults {
			for _, miss := range response.Misses {
				err := flow_obj.SendReply(miss)
				if err != nil {
					return err
				}
			}
		}
	}

	if len(pids_to_dump) > 0 {
		sort.Slice(pids_to_dump, func(i, j int) bool {
			return pids_to_dump[i] < pids_to_dump[j]
		})

		return flow_obj.CallFlow("DumpProcessMemory",
			&messages.DumpRequest{
				Pids:                  pids_to_dump,
				SkipSpecialRegions:    state.request.SkipSpecialRegions,
				SkipMappedFiles:       state.request.SkipMappedFiles,
				SkipSharedRegions:     state.request.SkipSharedRegions,
				SkipExecutableRegions: state.request.SkipExecutableRegions,
				SkipReadonlyRegions:   state.request.SkipReadonlyRegions,
			}, checkDumpResultsState)
	}

	return nil
}

// Forward everything the dump sub task produced as our own results.
func (self *YaraProcessScan) checkDumpProcessMemoryResults(
	flow_obj *FlowObject, responses *Responses) error {

	if !responses.Success() {
		return NewTaskError(responses.Status)
	}

	for _, payload := range responses.Payloads() {
		err := flow_obj.SendReply(payload)
		if err != nil {
			return err
		}
	}

	return nil
}

func sortedKeys(set map[string]bool) []string {
	result := make([]string, 0, len(set))
	for k := range set {
		result = append(result, k)
	}
	sort.Strings(result)
	return result
}

func init() {
	RegisterImplementation(&FlowDescriptor{
		Name:         "YaraProcessScan",
		FriendlyName: "Yara Process Scan",
		Category:     "Memory",
		Doc:          "Scans process memory using signature rules.",
		NewArgs:      func() interface{} { return &messages.ScanRequest{} },
	}, &YaraProcessScan{})
}
