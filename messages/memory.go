package messages

// PathSpec is an opaque reference to a file on an agent's
// filesystem. It is used for fetch and delete operations.
type PathSpec struct {
	Path string `json:"path"`
}

type ProcessInfo struct {
	Pid uint64 `json:"pid"`
	Exe string `json:"exe,omitempty"`
}

type RuleMatch struct {
	RuleName string `json:"rule_name"`
}

// ScanRequest asks an agent to scan live process memory against a set
// of signature rules.
type ScanRequest struct {
	SignatureRules string `json:"signature_rules"`
	ProcessRegex   string `json:"process_regex,omitempty"`

	DumpProcessOnMatch     bool `json:"dump_process_on_match,omitempty"`
	IncludeErrorsInResults bool `json:"include_errors_in_results,omitempty"`
	IncludeMissesInResults bool `json:"include_misses_in_results,omitempty"`

	SkipSpecialRegions    bool `json:"skip_special_regions,omitempty"`
	SkipMappedFiles       bool `json:"skip_mapped_files,omitempty"`
	SkipSharedRegions     bool `json:"skip_shared_regions,omitempty"`
	SkipExecutableRegions bool `json:"skip_executable_regions,omitempty"`
	SkipReadonlyRegions   bool `json:"skip_readonly_regions,omitempty"`
}

type ScanMatch struct {
	Process *ProcessInfo `json:"process"`
	Match   []*RuleMatch `json:"match,omitempty"`
}

type ScanError struct {
	Process *ProcessInfo `json:"process"`
	Error   string       `json:"error"`
}

type ScanMiss struct {
	Process *ProcessInfo `json:"process"`
}

// ScanResponse is one batch of scan results. A single scan call may
// produce several of these.
type ScanResponse struct {
	Matches []*ScanMatch `json:"matches,omitempty"`
	Errors  []*ScanError `json:"errors,omitempty"`
	Misses  []*ScanMiss  `json:"misses,omitempty"`
}

// DumpRequest asks an agent to dump process memory to temporary
// files. At least one of DumpAllProcesses, Pids or ProcessRegex must
// be set.
type DumpRequest struct {
	DumpAllProcesses bool     `json:"dump_all_processes,omitempty"`
	Pids             []uint64 `json:"pids,omitempty"`
	ProcessRegex     string   `json:"process_regex,omitempty"`

	SkipSpecialRegions    bool `json:"skip_special_regions,omitempty"`
	SkipMappedFiles       bool `json:"skip_mapped_files,omitempty"`
	SkipSharedRegions     bool `json:"skip_shared_regions,omitempty"`
	SkipExecutableRegions bool `json:"skip_executable_regions,omitempty"`
	SkipReadonlyRegions   bool `json:"skip_readonly_regions,omitempty"`
}

type ProcessMemoryRegion struct {
	File  *PathSpec `json:"file"`
	Start uint64    `json:"start"`
	Size  uint64    `json:"size"`
}

// DumpedProcess describes the temp files written for one process.
// Current agents populate MemoryRegions. Old agents send raw paths in
// DumpFiles which are migrated to MemoryRegions server side.
type DumpedProcess struct {
	Process       *ProcessInfo           `json:"process"`
	MemoryRegions []*ProcessMemoryRegion `json:"memory_regions,omitempty"`
	DumpFiles     []*PathSpec            `json:"dump_files,omitempty"`
}

type DumpError struct {
	Process *ProcessInfo `json:"process"`
	Error   string       `json:"error"`
}

// DumpResponse is the single response unit of a dump call.
type DumpResponse struct {
	DumpedProcesses []*DumpedProcess `json:"dumped_processes,omitempty"`
	Errors          []*DumpError     `json:"errors,omitempty"`
}

// FetchRequest asks the agent for the content of the listed files.
type FetchRequest struct {
	Files []*PathSpec `json:"files"`

	// Files larger than this are not transferred.
	MaxFileSize uint64 `json:"max_file_size,omitempty"`

	// Allow the fetched content to be pushed to secondary storage
	// tiers. Disabled for memory dumps.
	UseExternalStores bool `json:"use_external_stores,omitempty"`
}

type FetchedFile struct {
	File *PathSpec `json:"file"`

	// Content as sent by the agent. Cleared once the file is written
	// to the file store.
	Data []byte `json:"data,omitempty"`

	// Where the content was stored.
	StoredPath string `json:"stored_path,omitempty"`
	Size       uint64 `json:"size"`
}

type DeleteRequest struct {
	File *PathSpec `json:"file"`
}

func init() {
	RegisterPayload("ScanRequest", func() interface{} { return &ScanRequest{} })
	RegisterPayload("ScanResponse", func() interface{} { return &ScanResponse{} })
	RegisterPayload("ScanMatch", func() interface{} { return &ScanMatch{} })
	RegisterPayload("ScanError", func() interface{} { return &ScanError{} })
	RegisterPayload("ScanMiss", func() interface{} { return &ScanMiss{} })
	RegisterPayload("DumpRequest", func() interface{} { return &DumpRequest{} })
	RegisterPayload("DumpResponse", func() interface{} { return &DumpResponse{} })
	RegisterPayload("FetchRequest", func() interface{} { return &FetchRequest{} })
	RegisterPayload("FetchedFile", func() interface{} { return &FetchedFile{} })
	RegisterPayload("DeleteRequest", func() interface{} { return &DeleteRequest{} })
}
