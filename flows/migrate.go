package flows

import (
	"strconv"
	"strings"

	"www.velocidex.com/golang/memflow/messages"
)

// canonicalizeLegacyWindowsPathSpec canonicalizes simple paths that
// might come from old Windows agents. A path like
// C:\Windows\System32\foo becomes /C:/Windows/System32/foo. The
// argument is never mutated, a new PathSpec is always returned.
func canonicalizeLegacyWindowsPathSpec(
	ps *messages.PathSpec) *messages.PathSpec {

	canonicalized := &messages.PathSpec{Path: ps.Path}
	if len(ps.Path) >= 3 &&
		ps.Path[1:3] == ":\\" &&
		!strings.Contains(ps.Path, "/") {
		canonicalized.Path = "/" + strings.Join(
			strings.Split(ps.Path, "\\"), "/")
	}
	return canonicalized
}

// migrateLegacyDumpFiles rewrites a dump response from the old
// dump_files shape to memory_regions, in place. Old agents report one
// raw temp file path per dumped region, named
// "<process name>_<pid>_<start>_<end>.tmp" with hex offsets. The
// process name may itself contain the delimiter, so the filename is
// split exactly three times from the right. New agents never populate
// dump_files.
//
// The transform is atomic per response: a malformed filename aborts
// the migration with a ParseError and the response is left untouched.
func migrateLegacyDumpFiles(response *messages.DumpResponse) error {
	migrated := make(map[*messages.DumpedProcess][]*messages.ProcessMemoryRegion)

	for _, info := range response.DumpedProcesses {
		for _, dump_file := range info.DumpFiles {
			if dump_file == nil {
				return &ParseError{Message: "missing dump file locator"}
			}
			region, err := parseLegacyDumpFilename(dump_file)
			if err != nil {
				return err
			}
			migrated[info] = append(migrated[info], region)
		}
	}

	for _, info := range response.DumpedProcesses {
		info.MemoryRegions = append(info.MemoryRegions, migrated[info]...)
		info.DumpFiles = nil
	}

	return nil
}

func parseLegacyDumpFilename(dump_file *messages.PathSpec) (
	*messages.ProcessMemoryRegion, error) {

	parse_error := func(message string) error {
		return &ParseError{Path: dump_file.Path, Message: message}
	}

	name := basename(dump_file.Path)
	dot := strings.LastIndex(name, ".")
	if dot < 0 {
		return nil, parse_error("dump filename has no extension")
	}
	name = name[:dot]

	// Split exactly 3 _ from the right - the leading remainder is
	// the free form process name and is discarded.
	parts := rsplit(name, "_", 3)
	if len(parts) != 4 {
		return nil, parse_error("dump filename has too few fields")
	}

	start, err := strconv.ParseUint(parts[2], 16, 64)
	if err != nil {
		return nil, parse_error("invalid start offset")
	}

	end, err := strconv.ParseUint(parts[3], 16, 64)
	if err != nil {
		return nil, parse_error("invalid end offset")
	}

	if end < start {
		return nil, parse_error("end offset before start offset")
	}

	return &messages.ProcessMemoryRegion{
		File:  canonicalizeLegacyWindowsPathSpec(dump_file),
		Start: start,
		Size:  end - start,
	}, nil
}

// basename handles both separator conventions since legacy paths come
// from Windows agents.
func basename(path string) string {
	idx := strings.LastIndexAny(path, "/\\")
	return path[idx+1:]
}

// rsplit splits s around the last count occurrences of sep, like
// python's str.rsplit. Returns at most count+1 parts.
func rsplit(s string, sep string, count int) []string {
	parts := []string{}
	for i := 0; i < count; i++ {
		idx := strings.LastIndex(s, sep)
		if idx < 0 {
			break
		}
		parts = append([]string{s[idx+len(sep):]}, parts...)
		s = s[:idx]
	}
	return append([]string{s}, parts...)
}
