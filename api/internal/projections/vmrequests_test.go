package projections

import (
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
)

func TestUpsertVMRequestSQLColumnSymmetry(t *testing.T) {
	view := VMRequestView{
		RequestID:   uuid.New(),
		TenantID:    uuid.New(),
		RequesterID: "alice",
		Name:        "build-box",
		TemplateID:  "ubuntu-22.04",
		CPUCores:    4,
		MemoryMB:    8192,
		DiskGB:      100,
		Status:      "PENDING",
		Version:     1,
		UpdatedAt:   time.Now().UTC(),
	}

	sql, args := upsertVMRequestSQL(view)

	bs := view.bindings()
	if want := len(bs) + 2; len(args) != want {
		t.Fatalf("expected %d args, got %d", want, len(args))
	}
	for i := range args {
		placeholder := fmt.Sprintf("$%d", i+1)
		if !strings.Contains(sql, placeholder) {
			t.Fatalf("missing placeholder %s in: %s", placeholder, sql)
		}
	}

	// Every non-key column must appear both in the insert list and in the
	// conflict-update list, so a stale replay cannot drop a column on one
	// path only.
	for _, b := range bs {
		if !strings.Contains(sql, b.column+" = EXCLUDED."+b.column) {
			t.Fatalf("column %q not updated on conflict", b.column)
		}
		insertPart := sql[:strings.Index(sql, "ON CONFLICT")]
		if !strings.Contains(insertPart, b.column) {
			t.Fatalf("column %q not inserted", b.column)
		}
	}

	if !strings.Contains(sql, "WHERE vm_requests.version < EXCLUDED.version") {
		t.Fatalf("missing stale-version guard in: %s", sql)
	}
}
