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
package main

import (
	"os"

	kingpin "gopkg.in/alecthomas/kingpin.v2"
	"www.velocidex.com/golang/memflow/flows"
	"www.velocidex.com/golang/memflow/messages"
)

var (
	scan_command = app.Command(
		"scan", "Scan process memory using signature rules.")

	scan_command_rules = scan_command.Arg(
		"rules", "File containing the signature rules.").
		Required().ExistingFile()

	scan_command_capture = scan_command.Arg(
		"capture", "Recorded agent responses to replay.").
		Required().ExistingFile()

	scan_command_regex = scan_command.Flag(
		"regex", "Only scan processes matching this regex.").String()

	scan_command_dump = scan_command.Flag(
		"dump_on_match", "Dump the memory of matching processes.").Bool()

	scan_command_include_errors = scan_command.Flag(
		"include_errors", "Include scan errors in the results.").Bool()

	scan_command_include_misses = scan_command.Flag(
		"include_misses", "Include scan misses in the results.").Bool()
)

func doScan() error {
	config_obj, err := loadConfig()
	if err != nil {
		return err
	}

	rules, err := os.ReadFile(*scan_command_rules)
	if err != nil {
		return err
	}

	recorded, err := flows.LoadRecordedResponses(*scan_command_capture)
	if err != nil {
		return err
	}

	dispatcher := flows.NewReplayDispatcher(recorded)
	runner := flows.NewRunner(config_obj, dispatcher)
	defer runner.Close()

	dispatcher.SetRunner(runner)

	handle, err := runner.ScanProcesses(&messages.ScanRequest{
		SignatureRules:         string(rules),
		ProcessRegex:           *scan_command_regex,
		DumpProcessOnMatch:     *scan_command_dump,
		IncludeErrorsInResults: *scan_command_include_errors,
		IncludeMissesInResults: *scan_command_include_misses,
	})
	if err != nil {
		return err
	}

	renderResults(handle)
	return handle.Err()
}

func init() {
	command_handlers = append(command_handlers, func(command string) bool {
		if command == scan_command.FullCommand() {
			kingpin.FatalIfError(doScan(), "scan")
			return true
		}
		return false
	})
}
