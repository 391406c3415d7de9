package files

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/loopedlocal/agentd/pkg/agent"
	"github.com/loopedlocal/agentd/pkg/tools"
)

func TestToolKindAndCanExecute(t *testing.T) {
	tool := New(t.TempDir(), 0)
	if tool.Kind() != tools.ToolKindBuiltin {
		t.Errorf("Kind() = %v, want ToolKindBuiltin", tool.Kind())
	}
	if !tool.CanExecute("read_file") || !tool.CanExecute("write_file") {
		t.Error("expected CanExecute true for read_file and write_file")
	}
	if tool.CanExecute("exec") {
		t.Error("CanExecute(exec) = true, want false")
	}
}

func TestWriteThenReadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	tool := New(dir, 0)

	writeArgsJSON, _ := json.Marshal(writeArgs{Path: "notes/hello.txt", Content: "hello world"})
	writeResultTool, err := tool.Execute(context.Background(), agent.ToolCall{ID: "c1", Name: "write_file", Arguments: string(writeArgsJSON)})
	if err != nil {
		t.Fatalf("write Execute failed: %v", err)
	}
	if writeResultTool.IsError {
		t.Fatalf("unexpected write error: %s", writeResultTool.Output)
	}

	var wr writeResult
	if err := json.Unmarshal([]byte(writeResultTool.Output), &wr); err != nil {
		t.Fatalf("unmarshaling write result: %v", err)
	}
	if wr.BytesWritten != len("hello world") {
		t.Errorf("BytesWritten = %d, want %d", wr.BytesWritten, len("hello world"))
	}

	readArgsJSON, _ := json.Marshal(readArgs{Path: "notes/hello.txt"})
	readResultTool, err := tool.Execute(context.Background(), agent.ToolCall{ID: "c2", Name: "read_file", Arguments: string(readArgsJSON)})
	if err != nil {
		t.Fatalf("read Execute failed: %v", err)
	}
	if readResultTool.IsError {
		t.Fatalf("unexpected read error: %s", readResultTool.Output)
	}

	var rr readResult
	if err := json.Unmarshal([]byte(readResultTool.Output), &rr); err != nil {
		t.Fatalf("unmarshaling read result: %v", err)
	}
	if rr.Content != "hello world" {
		t.Errorf("Content = %q, want %q", rr.Content, "hello world")
	}
	if rr.Truncated {
		t.Error("Truncated = true, want false")
	}
}

func TestAppendWrite(t *testing.T) {
	dir := t.TempDir()
	tool := New(dir, 0)

	firstArgs, _ := json.Marshal(writeArgs{Path: "log.txt", Content: "first\n"})
	if _, err := tool.Execute(context.Background(), agent.ToolCall{ID: "c1", Name: "write_file", Arguments: string(firstArgs)}); err != nil {
		t.Fatalf("first write failed: %v", err)
	}

	secondArgs, _ := json.Marshal(writeArgs{Path: "log.txt", Content: "second\n", Append: true})
	if _, err := tool.Execute(context.Background(), agent.ToolCall{ID: "c2", Name: "write_file", Arguments: string(secondArgs)}); err != nil {
		t.Fatalf("second write failed: %v", err)
	}

	got, err := os.ReadFile(filepath.Join(dir, "log.txt"))
	if err != nil {
		t.Fatalf("reading file: %v", err)
	}
	if string(got) != "first\nsecond\n" {
		t.Errorf("file content = %q, want %q", string(got), "first\nsecond\n")
	}
}

func TestReadFileNotFound(t *testing.T) {
	tool := New(t.TempDir(), 0)

	args, _ := json.Marshal(readArgs{Path: "missing.txt"})
	result, err := tool.Execute(context.Background(), agent.ToolCall{ID: "c1", Name: "read_file", Arguments: string(args)})
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if !result.IsError {
		t.Error("expected IsError = true for missing file")
	}
}

func TestReadFileEscapesWorkspace(t *testing.T) {
	tool := New(t.TempDir(), 0)

	args, _ := json.Marshal(readArgs{Path: "../../etc/passwd"})
	result, err := tool.Execute(context.Background(), agent.ToolCall{ID: "c1", Name: "read_file", Arguments: string(args)})
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if !result.IsError {
		t.Error("expected IsError = true for path escaping workspace")
	}
}

func TestWriteFileEscapesWorkspace(t *testing.T) {
	tool := New(t.TempDir(), 0)

	args, _ := json.Marshal(writeArgs{Path: "../outside.txt", Content: "nope"})
	result, err := tool.Execute(context.Background(), agent.ToolCall{ID: "c1", Name: "write_file", Arguments: string(args)})
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if !result.IsError {
		t.Error("expected IsError = true for path escaping workspace")
	}
}

func TestReadFileMissingPath(t *testing.T) {
	tool := New(t.TempDir(), 0)

	args, _ := json.Marshal(readArgs{Path: ""})
	result, err := tool.Execute(context.Background(), agent.ToolCall{ID: "c1", Name: "read_file", Arguments: string(args)})
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if !result.IsError {
		t.Error("expected IsError = true for missing path")
	}
}

func TestReadFileInvalidArguments(t *testing.T) {
	tool := New(t.TempDir(), 0)

	result, err := tool.Execute(context.Background(), agent.ToolCall{ID: "c1", Name: "read_file", Arguments: "not json"})
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if !result.IsError {
		t.Error("expected IsError = true for invalid arguments")
	}
}

func TestReadFileMaxBytesTruncates(t *testing.T) {
	dir := t.TempDir()
	tool := New(dir, 0)

	writeArgsJSON, _ := json.Marshal(writeArgs{Path: "big.txt", Content: "0123456789"})
	if _, err := tool.Execute(context.Background(), agent.ToolCall{ID: "c1", Name: "write_file", Arguments: string(writeArgsJSON)}); err != nil {
		t.Fatalf("write failed: %v", err)
	}

	readArgsJSON, _ := json.Marshal(readArgs{Path: "big.txt", MaxBytes: 4})
	result, err := tool.Execute(context.Background(), agent.ToolCall{ID: "c2", Name: "read_file", Arguments: string(readArgsJSON)})
	if err != nil {
		t.Fatalf("read Execute failed: %v", err)
	}
	if result.IsError {
		t.Fatalf("unexpected error: %s", result.Output)
	}

	var rr readResult
	if err := json.Unmarshal([]byte(result.Output), &rr); err != nil {
		t.Fatalf("unmarshaling result: %v", err)
	}
	if rr.Content != "0123" {
		t.Errorf("Content = %q, want %q", rr.Content, "0123")
	}
	if !rr.Truncated {
		t.Error("Truncated = false, want true")
	}
}

func TestUnsupportedToolName(t *testing.T) {
	tool := New(t.TempDir(), 0)

	result, err := tool.Execute(context.Background(), agent.ToolCall{ID: "c1", Name: "delete_file", Arguments: "{}"})
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if !result.IsError {
		t.Error("expected IsError = true for unsupported tool")
	}
}

func TestResolverRejectsAbsoluteEscape(t *testing.T) {
	dir := t.TempDir()
	r := resolver{root: dir}

	if _, err := r.resolve("/etc/passwd"); err == nil {
		t.Error("expected error resolving an absolute path outside the workspace")
	}
}

func TestResolverAllowsNestedPath(t *testing.T) {
	dir := t.TempDir()
	r := resolver{root: dir}

	resolved, err := r.resolve("a/b/c.txt")
	if err != nil {
		t.Fatalf("resolve failed: %v", err)
	}
	want := filepath.Join(dir, "a", "b", "c.txt")
	if resolved != want {
		t.Errorf("resolved = %q, want %q", resolved, want)
	}
}
