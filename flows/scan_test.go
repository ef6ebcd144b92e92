package flows

import (
	"errors"
	"testing"

	assert "github.com/stretchr/testify/assert"
	require "github.com/stretchr/testify/require"
	"www.velocidex.com/golang/memflow/messages"
)

func scanMatch(pid uint64, rules ...string) *messages.ScanMatch {
	result := &messages.ScanMatch{
		Process: &messages.ProcessInfo{Pid: pid, Exe: "/bin/proc"},
	}
	for _, rule := range rules {
		result.Match = append(result.Match,
			&messages.RuleMatch{RuleName: rule})
	}
	return result
}

func TestParseRuleNames(t *testing.T) {
	assert.Equal(t, []string{"Hit"}, ParseRuleNames(test_signature))
	assert.Empty(t, ParseRuleNames(""))
	assert.Empty(t, ParseRuleNames("import \"pe\"\n"))
	assert.Equal(t, []string{"A", "B"},
		ParseRuleNames("rule A { condition: true }\n"+
			"private rule B { condition: false }\n"))
}

func TestScanEmptyRuleSet(t *testing.T) {
	runner, dispatcher := makeTestRunner(t)

	_, err := runner.ScanProcesses(&messages.ScanRequest{})
	require.Error(t, err)

	var config_err *ConfigurationError
	assert.True(t, errors.As(err, &config_err))
	assert.Contains(t, err.Error(), "no rules found")

	// Nothing was dispatched.
	assert.Equal(t, 0, dispatcher.RequestCount())
}

func TestScanInvalidProcessRegex(t *testing.T) {
	runner, dispatcher := makeTestRunner(t)

	_, err := runner.ScanProcesses(&messages.ScanRequest{
		SignatureRules: test_signature,
		ProcessRegex:   "*invalid[",
	})
	require.Error(t, err)

	var config_err *ConfigurationError
	assert.True(t, errors.As(err, &config_err))
	assert.Equal(t, 0, dispatcher.RequestCount())
}

func TestScanRemoteFailure(t *testing.T) {
	runner, dispatcher := makeTestRunner(t)
	dispatcher.QueueFailure("YaraProcessScan", "agent exploded")

	handle, err := runner.ScanProcesses(&messages.ScanRequest{
		SignatureRules: test_signature})
	require.NoError(t, err)

	_, err = handle.Wait()
	require.Error(t, err)

	var task_err *TaskError
	assert.True(t, errors.As(err, &task_err))
	assert.Equal(t, "agent exploded", task_err.Status)
	assert.Equal(t, FlowStateError, handle.State())
}

// Two matches, no dump requested: exactly two streamed matches and no
// dump sub task.
func TestScanWithoutDump(t *testing.T) {
	runner, dispatcher := makeTestRunner(t)
	dispatcher.Queue("YaraProcessScan", nil, &messages.ScanResponse{
		Matches: []*messages.ScanMatch{
			scanMatch(10, "Hit"),
			scanMatch(20, "Hit"),
		},
	})

	handle, err := runner.ScanProcesses(&messages.ScanRequest{
		SignatureRules: test_signature})
	require.NoError(t, err)

	results, err := handle.Wait()
	require.NoError(t, err)
	require.Len(t, results, 2)

	for idx, expected_pid := range []uint64{10, 20} {
		match, ok := results[idx].(*messages.ScanMatch)
		require.True(t, ok)
		assert.Equal(t, expected_pid, match.Process.Pid)
	}

	assert.Empty(t, dispatcher.Requests("YaraProcessDump"))
	assert.Equal(t, FlowStateTerminated, handle.State())
}

// Matches for pids {10, 20, 10} spawn exactly one dump sub task with
// the deduplicated pid set, and all sub task results are forwarded.
func TestScanWithDumpOnMatch(t *testing.T) {
	runner, dispatcher := makeTestRunner(t)

	dispatcher.Queue("YaraProcessScan", nil, &messages.ScanResponse{
		Matches: []*messages.ScanMatch{
			scanMatch(10, "Hit"),
			scanMatch(20, "Hit", "Other"),
			scanMatch(10, "Other"),
		},
	})
	dispatcher.Queue("YaraProcessDump", nil, &messages.DumpResponse{
		DumpedProcesses: []*messages.DumpedProcess{{
			Process: &messages.ProcessInfo{Pid: 10, Exe: "/bin/proc"},
		}},
	})

	handle, err := runner.ScanProcesses(&messages.ScanRequest{
		SignatureRules:     test_signature,
		DumpProcessOnMatch: true,
		SkipMappedFiles:    true,
		SkipSharedRegions:  true,
	})
	require.NoError(t, err)

	results, err := handle.Wait()
	require.NoError(t, err)

	// Three matches streamed first, then the forwarded dump result.
	require.Len(t, results, 4)
	for idx := 0; idx < 3; idx++ {
		_, ok := results[idx].(*messages.ScanMatch)
		assert.True(t, ok)
	}
	_, ok := results[3].(*messages.DumpResponse)
	assert.True(t, ok)

	dump_requests := dispatcher.Requests("YaraProcessDump")
	require.Len(t, dump_requests, 1)

	dump_request, ok := messages.ExtractPayload(
		dump_requests[0]).(*messages.DumpRequest)
	require.True(t, ok)
	assert.Equal(t, []uint64{10, 20}, dump_request.Pids)

	// The region skip flags are forwarded to the dump.
	assert.True(t, dump_request.SkipMappedFiles)
	assert.True(t, dump_request.SkipSharedRegions)
	assert.False(t, dump_request.SkipSpecialRegions)
}

// A failed dump sub task fails the scan task.
func TestScanDumpSubTaskFailure(t *testing.T) {
	runner, dispatcher := makeTestRunner(t)

	dispatcher.Queue("YaraProcessScan", nil, &messages.ScanResponse{
		Matches: []*messages.ScanMatch{scanMatch(10, "Hit")},
	})
	dispatcher.QueueFailure("YaraProcessDump", "dump failed")

	handle, err := runner.ScanProcesses(&messages.ScanRequest{
		SignatureRules:     test_signature,
		DumpProcessOnMatch: true,
	})
	require.NoError(t, err)

	results, err := handle.Wait()
	require.Error(t, err)

	var task_err *TaskError
	assert.True(t, errors.As(err, &task_err))
	assert.Contains(t, task_err.Status, "dump failed")

	// The match streamed before the failure remains delivered.
	require.Len(t, results, 1)
}

func TestScanIncludeErrorsAndMisses(t *testing.T) {
	scan_response := &messages.ScanResponse{
		Matches: []*messages.ScanMatch{scanMatch(10, "Hit")},
		Errors: []*messages.ScanError{{
			Process: &messages.ProcessInfo{Pid: 30},
			Error:   "access denied",
		}},
		Misses: []*messages.ScanMiss{{
			Process: &messages.ProcessInfo{Pid: 40},
		}},
	}

	// Errors and misses are dropped by default.
	runner, dispatcher := makeTestRunner(t)
	dispatcher.Queue("YaraProcessScan", nil, scan_response)

	handle, err := runner.ScanProcesses(&messages.ScanRequest{
		SignatureRules: test_signature})
	require.NoError(t, err)

	results, err := handle.Wait()
	require.NoError(t, err)
	assert.Len(t, results, 1)

	// With the flags set they are streamed after the matches of
	// their unit.
	dispatcher.Queue("YaraProcessScan", nil, scan_response)
	handle, err = runner.ScanProcesses(&messages.ScanRequest{
		SignatureRules:         test_signature,
		IncludeErrorsInResults: true,
		IncludeMissesInResults: true,
	})
	require.NoError(t, err)

	results, err = handle.Wait()
	require.NoError(t, err)
	require.Len(t, results, 3)

	_, ok := results[0].(*messages.ScanMatch)
	assert.True(t, ok)
	scan_error, ok := results[1].(*messages.ScanError)
	require.True(t, ok)
	assert.Equal(t, "access denied", scan_error.Error)
	_, ok = results[2].(*messages.ScanMiss)
	assert.True(t, ok)
}

// A match without a process descriptor must not kill the task - the
// descriptor is normalized to an empty record.
func TestScanMatchMissingProcessDescriptor(t *testing.T) {
	runner, dispatcher := makeTestRunner(t)
	dispatcher.Queue("YaraProcessScan", nil, &messages.ScanResponse{
		Matches: []*messages.ScanMatch{{
			Match: []*messages.RuleMatch{{RuleName: "Hit"}},
		}},
	})

	handle, err := runner.ScanProcesses(&messages.ScanRequest{
		SignatureRules: test_signature})
	require.NoError(t, err)

	results, err := handle.Wait()
	require.NoError(t, err)
	require.Len(t, results, 1)

	match, ok := results[0].(*messages.ScanMatch)
	require.True(t, ok)
	require.NotNil(t, match.Process)
	assert.Equal(t, uint64(0), match.Process.Pid)
	assert.Equal(t, FlowStateTerminated, handle.State())
}

// Several response units are processed in delivery order.
func TestScanMultipleResponseUnits(t *testing.T) {
	runner, dispatcher := makeTestRunner(t)
	dispatcher.Queue("YaraProcessScan", nil,
		&messages.ScanResponse{
			Matches: []*messages.ScanMatch{scanMatch(1, "Hit")},
		},
		&messages.ScanResponse{
			Matches: []*messages.ScanMatch{scanMatch(2, "Hit")},
		})

	handle, err := runner.ScanProcesses(&messages.ScanRequest{
		SignatureRules: test_signature})
	require.NoError(t, err)

	results, err := handle.Wait()
	require.NoError(t, err)
	require.Len(t, results, 2)

	first := results[0].(*messages.ScanMatch)
	second := results[1].(*messages.ScanMatch)
	assert.Equal(t, uint64(1), first.Process.Pid)
	assert.Equal(t, uint64(2), second.Process.Pid)
}
