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
	"strings"

	errors "github.com/pkg/errors"
	"www.velocidex.com/golang/memflow/config"
	"www.velocidex.com/golang/memflow/file_store"
	"www.velocidex.com/golang/memflow/logging"
	"www.velocidex.com/golang/memflow/messages"
)

const (
	_ uint64 = iota
	processFetchedFilesState
)

// MultiGetFile retrieves a list of files from an agent and writes
// them into the file store.
type MultiGetFile struct{}

type transferFlowState struct {
	request *messages.FetchRequest
}

func (self *MultiGetFile) Start(
	config_obj *config.Config,
	flow_obj *FlowObject,
	args interface{}) error {

	request, ok := args.(*messages.FetchRequest)
	if !ok {
		return errors.New("Expected args of type FetchRequest")
	}

	if len(request.Files) == 0 {
		return &ValidationError{Message: "no files to fetch specified"}
	}

	// The caller's request is an immutable input - resolve the default
	// transfer limit on a copy.
	resolved := *request
	if resolved.MaxFileSize == 0 {
		resolved.MaxFileSize = config_obj.Flows.MaxUploadSize
	}

	flow_obj.SetState(&transferFlowState{request: &resolved})
	return flow_obj.CallClient(
		"FetchFiles", &resolved, processFetchedFilesState)
}

func (self *MultiGetFile) ProcessResponses(
	config_obj *config.Config,
	flow_obj *FlowObject,
	responses *Responses) error {

	state, ok := flow_obj.GetState().(*transferFlowState)
	if !ok {
		return errors.New("invalid transfer flow state")
	}

	if responses.NextState != processFetchedFilesState {
		return errors.Errorf("unexpected transfer state %d",
			responses.NextState)
	}

	if !responses.Success() {
		return NewTaskError(responses.Status)
	}

	logger := logging.GetLogger(config_obj, &logging.FrontendComponent)

	for _, payload := range responses.Payloads() {
		fetched, ok := payload.(*messages.FetchedFile)
		if !ok {
			continue
		}

		// Some agents omit the locator. Normalize so consumers never
		// see a null record.
		if fetched.File == nil {
			fetched.File = &messages.PathSpec{}
		}

		if fetched.Size == 0 {
			fetched.Size = uint64(len(fetched.Data))
		}

		if fetched.Size > state.request.MaxFileSize {
			logger.Warn("Skipping oversize file %s (%d bytes).",
				fetched.File.Path, fetched.Size)
			continue
		}

		err := self.maybeStoreContent(config_obj, flow_obj, fetched)
		if err != nil {
			return err
		}

		err = flow_obj.SendReply(fetched)
		if err != nil {
			return err
		}
	}

	return nil
}

// maybeStoreContent writes the fetched content below the file store
// directory, keyed by the fetching session. Without a configured file
// store the content stays inline in the result.
func (self *MultiGetFile) maybeStoreContent(
	config_obj *config.Config,
	flow_obj *FlowObject,
	fetched *messages.FetchedFile) error {

	if config_obj.Datastore == nil ||
		config_obj.Datastore.FilestoreDirectory == "" {
		return nil
	}

	canonical := canonicalizeLegacyWindowsPathSpec(fetched.File)
	stored_path := flow_obj.SessionId + "/" +
		strings.TrimPrefix(canonical.Path, "/")

	fs := file_store.GetFileStore(config_obj)
	fd, err := fs.WriteFile(stored_path)
	if err != nil {
		return err
	}
	defer fd.Close()

	_, err = fd.Write(fetched.Data)
	if err != nil {
		return errors.WithStack(err)
	}

	fetched.StoredPath = stored_path
	fetched.Data = nil
	return nil
}

func init() {
	RegisterImplementation(&FlowDescriptor{
		Name:         "MultiGetFile",
		FriendlyName: "Multi Get File",
		Category:     "Collectors",
		Doc:          "Retrieves files from the agent into the file store.",
		NewArgs:      func() interface{} { return &messages.FetchRequest{} },
	}, &MultiGetFile{})
}
