package main

import (
	"fmt"

	"github.com/Velocidex/ordereddict"
	"www.velocidex.com/golang/memflow/config"
	"www.velocidex.com/golang/memflow/json"
)

var (
	version_command = app.Command("version", "Report the binary version.")
)

func doVersion() {
	config_obj := config.GetDefaultConfig()
	fmt.Println(json.StringIndent(ordereddict.NewDict().
		Set("Name", config_obj.Name).
		Set("Version", config_obj.Version).
		Set("BuildTime", config_obj.BuildTime).
		Set("Commit", config_obj.Commit)))
}

func init() {
	command_handlers = append(command_handlers, func(command string) bool {
		if command == version_command.FullCommand() {
			doVersion()
			return true
		}
		return false
	})
}
