package main

import (
	"fmt"

	"github.com/Velocidex/ordereddict"
	"www.velocidex.com/golang/memflow/flows"
	"www.velocidex.com/golang/memflow/json"
	"www.velocidex.com/golang/memflow/messages"
)

// renderResults prints each streamed result as one JSON line.
func renderResults(handle *flows.FlowHandle) {
	for message := range handle.Results {
		payload := messages.ExtractPayload(message)
		if payload == nil {
			continue
		}

		row := ordereddict.NewDict().
			Set("Type", message.ArgsName).
			Set("Data", payload)
		fmt.Println(json.MustMarshalString(row))
	}
}
