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
	"www.velocidex.com/golang/memflow/config"
)

type CommandHandler func(command string) bool

var (
	app = kingpin.New("memflow",
		"Remote process memory forensics orchestration.")

	config_path = app.Flag("config", "The configuration file.").
			Short('c').Envar("MEMFLOW_CONFIG").String()

	verbose_flag = app.Flag(
		"verbose", "Enable verbose logging.").Short('v').
		Default("false").Bool()

	command_handlers []CommandHandler
)

func loadConfig() (*config.Config, error) {
	if *config_path == "" {
		config_obj := config.GetDefaultConfig()
		config_obj.Logging.Debug = *verbose_flag
		return config_obj, nil
	}

	config_obj, err := config.LoadConfig(*config_path)
	if err != nil {
		return nil, err
	}

	if *verbose_flag {
		config_obj.Logging.Debug = true
	}

	return config_obj, nil
}

func main() {
	app.HelpFlag.Short('h')
	app.UsageTemplate(kingpin.CompactUsageTemplate)
	command := kingpin.MustParse(app.Parse(os.Args[1:]))

	for _, command_handler := range command_handlers {
		if command_handler(command) {
			return
		}
	}
}
