package flows

import (
	"testing"

	assert "github.com/stretchr/testify/assert"
	"www.velocidex.com/golang/memflow/messages"
)

func TestCanonicalizeLegacyWindowsPathSpec(t *testing.T) {
	legacy := &messages.PathSpec{Path: `C:\Windows\System32\foo`}
	canonical := canonicalizeLegacyWindowsPathSpec(legacy)
	assert.Equal(t, "/C:/Windows/System32/foo", canonical.Path)

	// The argument is never mutated.
	assert.Equal(t, `C:\Windows\System32\foo`, legacy.Path)

	// Idempotent - canonicalizing twice changes nothing.
	again := canonicalizeLegacyWindowsPathSpec(canonical)
	assert.Equal(t, canonical.Path, again.Path)

	// Paths containing a forward slash pass through unchanged.
	for _, path := range []string{
		"/etc/passwd",
		"/C:/already/canonical",
		`C:\mixed/separators\path`,
	} {
		ps := &messages.PathSpec{Path: path}
		assert.Equal(t, path, canonicalizeLegacyWindowsPathSpec(ps).Path)
	}

	// Not a drive letter path.
	ps := &messages.PathSpec{Path: `\\server\share\file`}
	assert.Equal(t, `\\server\share\file`,
		canonicalizeLegacyWindowsPathSpec(ps).Path)
}

func TestMigrateLegacyDumpFiles(t *testing.T) {
	response := &messages.DumpResponse{
		DumpedProcesses: []*messages.DumpedProcess{{
			Process: &messages.ProcessInfo{Pid: 1234, Exe: "proc"},
			DumpFiles: []*messages.PathSpec{
				{Path: "proc_1234_1a00_2000.tmp"},
			},
		}},
	}

	err := migrateLegacyDumpFiles(response)
	assert.NoError(t, err)

	info := response.DumpedProcesses[0]
	assert.Empty(t, info.DumpFiles)
	assert.Len(t, info.MemoryRegions, 1)

	region := info.MemoryRegions[0]
	assert.Equal(t, uint64(0x1a00), region.Start)
	assert.Equal(t, uint64(0x600), region.Size)
	assert.Equal(t, "proc_1234_1a00_2000.tmp", region.File.Path)
}

// Process names may contain the field delimiter - only the last three
// fields are offsets and pid.
func TestMigrateLegacyDumpFilesUnderscoredName(t *testing.T) {
	response := &messages.DumpResponse{
		DumpedProcesses: []*messages.DumpedProcess{{
			Process: &messages.ProcessInfo{Pid: 44},
			DumpFiles: []*messages.PathSpec{
				{Path: `C:\Temp\my_svc_host_44_ff00_10000.tmp`},
			},
		}},
	}

	err := migrateLegacyDumpFiles(response)
	assert.NoError(t, err)

	region := response.DumpedProcesses[0].MemoryRegions[0]
	assert.Equal(t, uint64(0xff00), region.Start)
	assert.Equal(t, uint64(0x10000-0xff00), region.Size)
	assert.Equal(t, "/C:/Temp/my_svc_host_44_ff00_10000.tmp",
		region.File.Path)
}

func TestMigrateLegacyDumpFilesCurrentShape(t *testing.T) {
	// Responses from current agents are untouched.
	region := &messages.ProcessMemoryRegion{
		File:  &messages.PathSpec{Path: "/tmp/region"},
		Start: 0x1000,
		Size:  0x500,
	}
	response := &messages.DumpResponse{
		DumpedProcesses: []*messages.DumpedProcess{{
			Process:       &messages.ProcessInfo{Pid: 1},
			MemoryRegions: []*messages.ProcessMemoryRegion{region},
		}},
	}

	err := migrateLegacyDumpFiles(response)
	assert.NoError(t, err)
	assert.Equal(t, []*messages.ProcessMemoryRegion{region},
		response.DumpedProcesses[0].MemoryRegions)
}

func TestMigrateLegacyDumpFilesMalformed(t *testing.T) {
	for _, path := range []string{
		"noextension",
		"toofewfields.tmp",
		"a_b.tmp",
		"proc_1234_zzzz_2000.tmp",
		"proc_1234_1a00_zzzz.tmp",
		"proc_1234_2000_1a00.tmp", // end before start
	} {
		response := &messages.DumpResponse{
			DumpedProcesses: []*messages.DumpedProcess{{
				Process:   &messages.ProcessInfo{Pid: 1},
				DumpFiles: []*messages.PathSpec{{Path: path}},
			}},
		}

		err := migrateLegacyDumpFiles(response)
		assert.Error(t, err, "path %q should not parse", path)

		parse_err, ok := err.(*ParseError)
		assert.True(t, ok)
		assert.Equal(t, path, parse_err.Path)
	}
}

func TestMigrateLegacyDumpFilesNilLocator(t *testing.T) {
	response := &messages.DumpResponse{
		DumpedProcesses: []*messages.DumpedProcess{{
			Process:   &messages.ProcessInfo{Pid: 1},
			DumpFiles: []*messages.PathSpec{nil},
		}},
	}

	err := migrateLegacyDumpFiles(response)
	assert.Error(t, err)

	_, ok := err.(*ParseError)
	assert.True(t, ok)
}

// A malformed entry aborts the whole migration and leaves the
// response untouched.
func TestMigrateLegacyDumpFilesAtomic(t *testing.T) {
	response := &messages.DumpResponse{
		DumpedProcesses: []*messages.DumpedProcess{
			{
				Process: &messages.ProcessInfo{Pid: 1},
				DumpFiles: []*messages.PathSpec{
					{Path: "good_1_0_1000.tmp"},
				},
			},
			{
				Process: &messages.ProcessInfo{Pid: 2},
				DumpFiles: []*messages.PathSpec{
					{Path: "malformed.tmp"},
				},
			},
		},
	}

	err := migrateLegacyDumpFiles(response)
	assert.Error(t, err)

	assert.Empty(t, response.DumpedProcesses[0].MemoryRegions)
	assert.Len(t, response.DumpedProcesses[0].DumpFiles, 1)
	assert.Len(t, response.DumpedProcesses[1].DumpFiles, 1)
}

func TestRsplit(t *testing.T) {
	assert.Equal(t, []string{"a_b", "c", "d", "e"},
		rsplit("a_b_c_d_e", "_", 3))
	assert.Equal(t, []string{"a", "b"}, rsplit("a_b", "_", 3))
	assert.Equal(t, []string{"abc"}, rsplit("abc", "_", 3))
}
