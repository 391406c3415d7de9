package http

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net"
	gohttp "net/http"
	"testing"
	"time"

	"github.com/loopedlocal/agentd/pkg/agent"
	"github.com/loopedlocal/agentd/pkg/transport"
)

type testServerRunner struct {
	result []agent.Message
}

func (c *testServerRunner) RunLoop(ctx context.Context, conversationID string, userMessage agent.Message, cfg agent.LoopConfig, w transport.LoopEventWriter) error {
	return w.WriteResult(ctx, c.result)
}

func jsonBody(t *testing.T, v any) io.Reader {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal error: %v", err)
	}
	return bytes.NewReader(data)
}

func TestServerStartsAndAcceptsRequests(t *testing.T) {
	text := "server test reply"
	runner := &testServerRunner{
		result: []agent.Message{{Role: agent.RoleAssistant, Content: &text}},
	}

	srv := NewServer(runner, nil, WithAddr("127.0.0.1:0"))

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen error: %v", err)
	}
	addr := ln.Addr().String()

	go srv.ServeOn(ln)
	time.Sleep(50 * time.Millisecond)

	resp, err := gohttp.Post("http://"+addr+"/v1/conversations", "application/json",
		jsonBody(t, createMessageRequest{Content: "hello", Model: "test"}))
	if err != nil {
		t.Fatalf("POST error: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != gohttp.StatusOK {
		t.Errorf("status = %d, want %d", resp.StatusCode, gohttp.StatusOK)
	}

	var got struct {
		Messages []agent.Message `json:"messages"`
	}
	json.NewDecoder(resp.Body).Decode(&got)
	if len(got.Messages) != 1 || got.Messages[0].Text() != "server test reply" {
		t.Errorf("got messages %+v", got.Messages)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	srv.Shutdown(ctx)
}

func TestServerGracefulShutdown(t *testing.T) {
	slowRunner := transport.LoopRunnerFunc(func(ctx context.Context, conversationID string, userMessage agent.Message, cfg agent.LoopConfig, w transport.LoopEventWriter) error {
		select {
		case <-time.After(200 * time.Millisecond):
			text := "done slowly"
			return w.WriteResult(ctx, []agent.Message{{Role: agent.RoleAssistant, Content: &text}})
		case <-ctx.Done():
			return ctx.Err()
		}
	})

	srv := NewServer(slowRunner, nil,
		WithAddr("127.0.0.1:0"),
		WithShutdownTimeout(5*time.Second),
	)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen error: %v", err)
	}
	addr := ln.Addr().String()

	go srv.ServeOn(ln)
	time.Sleep(50 * time.Millisecond)

	responseCh := make(chan int, 1)
	go func() {
		resp, err := gohttp.Post("http://"+addr+"/v1/conversations", "application/json",
			jsonBody(t, createMessageRequest{Content: "hello", Model: "test"}))
		if err != nil {
			responseCh <- 0
			return
		}
		defer resp.Body.Close()
		responseCh <- resp.StatusCode
	}()

	time.Sleep(50 * time.Millisecond)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	srv.Shutdown(ctx)

	status := <-responseCh
	if status != gohttp.StatusOK {
		t.Errorf("slow request status = %d, want %d", status, gohttp.StatusOK)
	}
}

func TestServerFunctionalOptions(t *testing.T) {
	srv := NewServer(&testServerRunner{}, nil,
		WithAddr(":9999"),
		WithMaxBodySize(1024),
		WithShutdownTimeout(10*time.Second),
	)

	if srv.config.Addr != ":9999" {
		t.Errorf("addr = %q, want %q", srv.config.Addr, ":9999")
	}
	if srv.config.MaxBodySize != 1024 {
		t.Errorf("max body size = %d, want %d", srv.config.MaxBodySize, 1024)
	}
	if srv.config.ShutdownTimeout != 10*time.Second {
		t.Errorf("shutdown timeout = %v, want %v", srv.config.ShutdownTimeout, 10*time.Second)
	}
}
