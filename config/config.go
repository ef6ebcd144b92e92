package config

import (
	"os"

	"github.com/Velocidex/yaml/v2"
	errors "github.com/pkg/errors"
)

// Embed build time constants into here for reporting the version.
var (
	build_time  string
	commit_hash string
)

type DatastoreConfig struct {
	// Fetched artifacts are written below this directory.
	FilestoreDirectory string `json:"filestore_directory,omitempty"`
}

type LoggingConfig struct {
	// If set, logs are also written to files in this directory, one
	// file per component.
	OutputDirectory string `json:"output_directory,omitempty"`
	Debug           bool   `json:"debug,omitempty"`
}

type FlowsConfig struct {
	// Per file transfer limit for fetched memory dumps.
	MaxUploadSize uint64 `json:"max_upload_size,omitempty"`

	// How long completed tasks remain queryable.
	CompletedFlowTtlSec uint64 `json:"completed_flow_ttl_sec,omitempty"`
}

type Config struct {
	Name      string `json:"name,omitempty"`
	Version   string `json:"version,omitempty"`
	BuildTime string `json:"build_time,omitempty"`
	Commit    string `json:"commit,omitempty"`

	Datastore *DatastoreConfig `json:"Datastore,omitempty"`
	Logging   *LoggingConfig   `json:"Logging,omitempty"`
	Flows     *FlowsConfig     `json:"Flows,omitempty"`
}

func GetDefaultConfig() *Config {
	return &Config{
		Name:      "memflow",
		Version:   "0.1.0",
		BuildTime: build_time,
		Commit:    commit_hash,
		Datastore: &DatastoreConfig{},
		Logging:   &LoggingConfig{},
		Flows: &FlowsConfig{
			MaxUploadSize:       1024 * 1024 * 1024,
			CompletedFlowTtlSec: 600,
		},
	}
}

// LoadConfig loads the config from the YAML file over the defaults.
func LoadConfig(filename string) (*Config, error) {
	result := GetDefaultConfig()

	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, errors.WithStack(err)
	}

	err = yaml.UnmarshalStrict(data, result)
	if err != nil {
		return nil, errors.WithStack(err)
	}

	return result, Validate(result)
}

func Validate(config_obj *Config) error {
	if config_obj.Datastore == nil {
		config_obj.Datastore = &DatastoreConfig{}
	}

	if config_obj.Logging == nil {
		config_obj.Logging = &LoggingConfig{}
	}

	if config_obj.Flows == nil {
		config_obj.Flows = &FlowsConfig{}
	}

	if config_obj.Flows.MaxUploadSize == 0 {
		config_obj.Flows.MaxUploadSize = 1024 * 1024 * 1024
	}

	if config_obj.Flows.CompletedFlowTtlSec == 0 {
		config_obj.Flows.CompletedFlowTtlSec = 600
	}

	if config_obj.Logging.OutputDirectory != "" {
		st, err := os.Stat(config_obj.Logging.OutputDirectory)
		if err != nil || !st.IsDir() {
			return errors.Errorf(
				"Logging.output_directory %s is not a directory",
				config_obj.Logging.OutputDirectory)
		}
	}

	return nil
}
