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
	"strconv"

	kingpin "gopkg.in/alecthomas/kingpin.v2"
	"www.velocidex.com/golang/memflow/flows"
	"www.velocidex.com/golang/memflow/messages"
)

var (
	dump_command = app.Command(
		"dump", "Dump process memory and retrieve the dump files.")

	dump_command_capture = dump_command.Arg(
		"capture", "Recorded agent responses to replay.").
		Required().ExistingFile()

	dump_command_pids = dump_command.Flag(
		"pid", "Pid to dump (repeat for multiple).").Strings()

	dump_command_all = dump_command.Flag(
		"all", "Dump all processes.").Bool()

	dump_command_regex = dump_command.Flag(
		"regex", "Dump processes matching this regex.").String()
)

func doDump() error {
	config_obj, err := loadConfig()
	if err != nil {
		return err
	}

	pids := []uint64{}
	for _, pid_str := range *dump_command_pids {
		pid, err := strconv.ParseUint(pid_str, 10, 64)
		if err != nil {
			return err
		}
		pids = append(pids, pid)
	}

	recorded, err := flows.LoadRecordedResponses(*dump_command_capture)
	if err != nil {
		return err
	}

	dispatcher := flows.NewReplayDispatcher(recorded)
	runner := flows.NewRunner(config_obj, dispatcher)
	defer runner.Close()

	dispatcher.SetRunner(runner)

	handle, err := runner.DumpProcessMemory(&messages.DumpRequest{
		DumpAllProcesses: *dump_command_all,
		Pids:             pids,
		ProcessRegex:     *dump_command_regex,
	})
	if err != nil {
		return err
	}

	renderResults(handle)
	return handle.Err()
}

func init() {
	command_handlers = append(command_handlers, func(command string) bool {
		if command == dump_command.FullCommand() {
			kingpin.FatalIfError(doDump(), "dump")
			return true
		}
		return false
	})
}
