package httpapi

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/tipsterhub/service_layer/pkg/logger"
)

func TestAuditLogAppendsToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.jsonl")
	audit, err := NewAuditLog(2, path, nil)
	if err != nil {
		t.Fatalf("audit log: %v", err)
	}
	for _, p := range []string{"/api/sync/matches", "/api/admin/predictions", "/api/admin/blogs"} {
		audit.add(AuditEntry{Time: time.Now().UTC(), User: "cron", Path: p, Method: "POST", Status: 200})
	}
	if err := audit.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	if got := audit.List(0); len(got) != 2 || got[0].Path != "/api/admin/predictions" {
		t.Fatalf("expected the two newest entries, got %+v", got)
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read audit file: %v", err)
	}
	if lines := strings.Count(string(raw), "\n"); lines != 3 {
		t.Fatalf("expected 3 lines in audit file, got %d", lines)
	}
	if audit.SinkFailures() != 0 {
		t.Fatalf("expected no sink failures, got %d", audit.SinkFailures())
	}
}

func TestAuditLogReportsFileWriteFailures(t *testing.T) {
	var buf bytes.Buffer
	log := logger.New(logger.LoggingConfig{Level: "info", Format: "json", Output: &buf, Component: "audit"})
	audit, err := NewAuditLog(10, filepath.Join(t.TempDir(), "audit.jsonl"), log)
	if err != nil {
		t.Fatalf("audit log: %v", err)
	}
	// a closed file stands in for a full disk or a revoked permission
	if err := audit.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	audit.add(AuditEntry{Path: "/api/sync/matches", Method: "POST", Status: 200})
	audit.add(AuditEntry{Path: "/api/sync/from-availability", Method: "POST", Status: 200})

	if got := audit.List(0); len(got) != 2 {
		t.Fatalf("expected entries kept in memory, got %d", len(got))
	}
	if audit.SinkFailures() != 2 {
		t.Fatalf("expected 2 sink failures, got %d", audit.SinkFailures())
	}
	if n := strings.Count(buf.String(), "audit file write failed"); n != 1 {
		t.Fatalf("expected one logged failure, got %d: %s", n, buf.String())
	}
}
