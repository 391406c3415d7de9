package postgres

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	pgmodule "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/loopedlocal/agentd/pkg/agent"
	"github.com/loopedlocal/agentd/pkg/sessions"
	"github.com/loopedlocal/agentd/pkg/transport"
)

func init() {
	// Configure testcontainers to use podman.
	// Detect the podman socket from `podman machine inspect`.
	if os.Getenv("DOCKER_HOST") == "" {
		out, err := exec.Command("podman", "machine", "inspect", "--format", "{{.ConnectionInfo.PodmanSocket.Path}}").Output()
		if err == nil {
			sock := strings.TrimSpace(string(out))
			if sock != "" {
				os.Setenv("DOCKER_HOST", "unix://"+sock)
			}
		}
	}
	// Ryuk needs privileged mode with podman.
	if os.Getenv("TESTCONTAINERS_RYUK_CONTAINER_PRIVILEGED") == "" {
		os.Setenv("TESTCONTAINERS_RYUK_CONTAINER_PRIVILEGED", "true")
	}
}

// setupTestDB starts a PostgreSQL container and returns a connected Store.
// Tests are skipped if SKIP_INTEGRATION=true or podman is not on PATH.
func setupTestDB(t *testing.T) *Store {
	t.Helper()

	if os.Getenv("SKIP_INTEGRATION") == "true" {
		t.Skip("SKIP_INTEGRATION=true, skipping PostgreSQL integration tests")
	}

	if _, err := exec.LookPath("podman"); err != nil {
		t.Skip("podman not found, skipping integration tests")
	}

	ctx := context.Background()

	container, err := pgmodule.Run(ctx,
		"postgres:16-alpine",
		pgmodule.WithDatabase("agentd_test"),
		pgmodule.WithUsername("test"),
		pgmodule.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second),
		),
	)
	if err != nil {
		t.Skipf("skipping: could not start PostgreSQL container (is podman running?): %v", err)
	}

	t.Cleanup(func() {
		container.Terminate(context.Background())
	})

	connStr, err := container.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		t.Fatalf("getting connection string: %v", err)
	}

	store, err := New(ctx, Config{
		DSN:            connStr,
		MaxConns:       5,
		MinConns:       1,
		MigrateOnStart: true,
	})
	if err != nil {
		t.Fatalf("creating store: %v", err)
	}

	t.Cleanup(func() {
		store.Close()
	})

	return store
}

func textMsg(role agent.Role, text string) agent.Message {
	return agent.Message{Role: role, Content: &text}
}

func testConvID(prefix string) string {
	return fmt.Sprintf("%s_%d", prefix, time.Now().UnixNano())
}

func TestPostgresCreateAndGet(t *testing.T) {
	store := setupTestDB(t)
	ctx := context.Background()

	id := testConvID("conv_pg_get")
	first := textMsg(agent.RoleUser, "hello")
	if err := store.CreateConversation(ctx, id, first); err != nil {
		t.Fatalf("CreateConversation failed: %v", err)
	}

	got, err := store.GetConversation(ctx, id)
	if err != nil {
		t.Fatalf("GetConversation failed: %v", err)
	}
	if got.ID != id {
		t.Errorf("ID = %q, want %q", got.ID, id)
	}
	if len(got.Messages) != 1 || got.Messages[0].Text() != "hello" {
		t.Errorf("Messages = %+v", got.Messages)
	}
}

func TestPostgresGetNotFound(t *testing.T) {
	store := setupTestDB(t)
	ctx := context.Background()

	_, err := store.GetConversation(ctx, "conv_nonexistent")
	if !errors.Is(err, sessions.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestPostgresAppendMessages(t *testing.T) {
	store := setupTestDB(t)
	ctx := context.Background()

	id := testConvID("conv_pg_append")
	if err := store.CreateConversation(ctx, id, textMsg(agent.RoleUser, "hi")); err != nil {
		t.Fatalf("CreateConversation: %v", err)
	}

	toolArgs := `{"path":"/tmp/x"}`
	err := store.AppendMessages(ctx, id, []agent.Message{
		{Role: agent.RoleAssistant, ToolCalls: []agent.ToolCall{{ID: "call_1", Name: "read_file", Arguments: toolArgs}}},
		{Role: agent.RoleTool, ToolCallID: "call_1", Content: strPtr("file contents")},
	})
	if err != nil {
		t.Fatalf("AppendMessages failed: %v", err)
	}

	got, err := store.GetConversation(ctx, id)
	if err != nil {
		t.Fatalf("GetConversation failed: %v", err)
	}
	if len(got.Messages) != 3 {
		t.Fatalf("len(Messages) = %d, want 3", len(got.Messages))
	}
	if len(got.Messages[1].ToolCalls) != 1 || got.Messages[1].ToolCalls[0].Name != "read_file" {
		t.Errorf("tool call not round-tripped: %+v", got.Messages[1].ToolCalls)
	}
	if got.Messages[2].ToolCallID != "call_1" {
		t.Errorf("tool call id = %q, want call_1", got.Messages[2].ToolCallID)
	}
}

func strPtr(s string) *string { return &s }

func TestPostgresDeleteConversation(t *testing.T) {
	store := setupTestDB(t)
	ctx := context.Background()

	id := testConvID("conv_pg_del")
	store.CreateConversation(ctx, id, textMsg(agent.RoleUser, "hi"))

	if err := store.DeleteConversation(ctx, id); err != nil {
		t.Fatalf("DeleteConversation failed: %v", err)
	}

	if _, err := store.GetConversation(ctx, id); !errors.Is(err, sessions.ErrNotFound) {
		t.Errorf("expected ErrNotFound after delete, got %v", err)
	}

	var count int
	store.pool.QueryRow(ctx, "SELECT count(*) FROM messages WHERE conversation_id = $1", id).Scan(&count)
	if count != 0 {
		t.Errorf("expected messages to be deleted, found %d", count)
	}
}

func TestPostgresCreateConversationConflict(t *testing.T) {
	store := setupTestDB(t)
	ctx := context.Background()

	id := testConvID("conv_pg_dup")
	store.CreateConversation(ctx, id, textMsg(agent.RoleUser, "hi"))

	err := store.CreateConversation(ctx, id, textMsg(agent.RoleUser, "hi"))
	if !errors.Is(err, sessions.ErrConflict) {
		t.Errorf("expected ErrConflict, got %v", err)
	}
}

func TestPostgresHealthCheck(t *testing.T) {
	store := setupTestDB(t)
	if err := store.HealthCheck(context.Background()); err != nil {
		t.Errorf("HealthCheck failed: %v", err)
	}
}

func TestPostgresTenantIsolation(t *testing.T) {
	store := setupTestDB(t)

	id := testConvID("conv_pg_tenant")
	ctxA := sessions.SetTenant(context.Background(), "tenant-a")
	ctxB := sessions.SetTenant(context.Background(), "tenant-b")

	store.CreateConversation(ctxA, id, textMsg(agent.RoleUser, "hi"))

	if _, err := store.GetConversation(ctxA, id); err != nil {
		t.Fatalf("tenant A should see own conversation: %v", err)
	}

	if _, err := store.GetConversation(ctxB, id); !errors.Is(err, sessions.ErrNotFound) {
		t.Error("tenant B should not see tenant A's conversation")
	}
}

func TestPostgresListConversationsPagination(t *testing.T) {
	store := setupTestDB(t)
	ctx := sessions.SetTenant(context.Background(), "tenant-list-"+testConvID(""))

	for i := 0; i < 3; i++ {
		id := testConvID(fmt.Sprintf("conv_pg_list_%d", i))
		if err := store.CreateConversation(ctx, id, textMsg(agent.RoleUser, "hi")); err != nil {
			t.Fatalf("CreateConversation: %v", err)
		}
	}

	page, err := store.ListConversations(ctx, transport.ListOptions{Limit: 2})
	if err != nil {
		t.Fatalf("ListConversations failed: %v", err)
	}
	if len(page.Data) != 2 || !page.HasMore {
		t.Fatalf("first page = %+v", page)
	}

	page2, err := store.ListConversations(ctx, transport.ListOptions{Limit: 2, After: page.Data[len(page.Data)-1].ID})
	if err != nil {
		t.Fatalf("ListConversations page2 failed: %v", err)
	}
	if len(page2.Data) != 1 || page2.HasMore {
		t.Fatalf("second page = %+v", page2)
	}
}
