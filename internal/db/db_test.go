package db

import (
	"bytes"
	"compress/gzip"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

func setupTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := NewDB(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("NewDB: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestNewDB_MigratesToLatest(t *testing.T) {
	db := setupTestDB(t)

	version, dirty, err := db.MigrateVersion(MigrationsFS())
	if err != nil {
		t.Fatalf("MigrateVersion: %v", err)
	}
	latest, err := LatestMigrationVersion(MigrationsFS())
	if err != nil {
		t.Fatalf("LatestMigrationVersion: %v", err)
	}
	if version != latest || dirty {
		t.Errorf("version %d dirty %v, want %d clean", version, dirty, latest)
	}

	for _, table := range []string{"scans", "commands", "scanner_serial_config"} {
		var n int
		if err := db.QueryRow(`SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name=?`, table).Scan(&n); err != nil || n != 1 {
			t.Errorf("table %s missing (n=%d err=%v)", table, n, err)
		}
	}
}

func TestMigrateDownAndUp(t *testing.T) {
	db := setupTestDB(t)
	if err := db.MigrateDown(MigrationsFS()); err != nil {
		t.Fatalf("MigrateDown: %v", err)
	}
	version, _, _ := db.MigrateVersion(MigrationsFS())
	if version != 1 {
		t.Errorf("version after down = %d, want 1", version)
	}
	if err := db.MigrateUp(MigrationsFS()); err != nil {
		t.Fatalf("MigrateUp: %v", err)
	}
	if err := db.MigrateUp(MigrationsFS()); err != nil {
		t.Errorf("second MigrateUp should be a no-op: %v", err)
	}
}

func TestRecordScan(t *testing.T) {
	db := setupTestDB(t)
	base := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

	want := []ScanRecord{
		{ID: "c", Payload: "third", CodeID: "s", ScannedAt: base.Add(2 * time.Second)},
		{ID: "b", Payload: "second", Truncated: true, ScannedAt: base.Add(time.Second)},
		{ID: "a", Payload: "first", ScannedAt: base},
	}
	for i := len(want) - 1; i >= 0; i-- {
		if err := db.RecordScan(want[i]); err != nil {
			t.Fatalf("RecordScan: %v", err)
		}
	}

	got, err := db.RecentScans(0)
	if err != nil {
		t.Fatalf("RecentScans: %v", err)
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("RecentScans mismatch (-want +got):\n%s", diff)
	}

	got, err = db.RecentScans(1)
	if err != nil || len(got) != 1 || got[0].ID != "c" {
		t.Errorf("RecentScans(1) = %v, %v", got, err)
	}

	if n, err := db.ScanCount(); err != nil || n != 3 {
		t.Errorf("ScanCount = %d, %v", n, err)
	}

	if err := db.RecordScan(want[0]); err == nil {
		t.Error("duplicate scan id accepted")
	}
}

func TestRecentScans_Empty(t *testing.T) {
	db := setupTestDB(t)
	got, err := db.RecentScans(10)
	if err != nil {
		t.Fatalf("RecentScans: %v", err)
	}
	if got == nil || len(got) != 0 {
		t.Errorf("got %v, want empty non-nil slice", got)
	}
}

func TestRecordCommand(t *testing.T) {
	db := setupTestDB(t)
	sent := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

	if _, err := db.RecordCommand(CommandRecord{Opcode: "LAMENA", Argument: "1", Result: "acked", Duration: 120 * time.Millisecond, SentAt: sent}); err != nil {
		t.Fatalf("RecordCommand: %v", err)
	}
	id, err := db.RecordCommand(CommandRecord{Opcode: "DSPYFW", Result: "timed out", Duration: 5 * time.Second, Discarded: 2, Error: "boom", SentAt: sent.Add(time.Minute)})
	if err != nil {
		t.Fatalf("RecordCommand: %v", err)
	}

	got, err := db.RecentCommands(10)
	if err != nil {
		t.Fatalf("RecentCommands: %v", err)
	}
	want := []CommandRecord{
		{ID: id, Opcode: "DSPYFW", Result: "timed out", Duration: 5 * time.Second, Discarded: 2, Error: "boom", SentAt: sent.Add(time.Minute)},
		{ID: 1, Opcode: "LAMENA", Argument: "1", Result: "acked", Duration: 120 * time.Millisecond, SentAt: sent},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("RecentCommands mismatch (-want +got):\n%s", diff)
	}
}

func TestSerialConfigCRUD(t *testing.T) {
	db := setupTestDB(t)

	c := &SerialConfig{Name: "front desk", PortPath: "/dev/ttyUSB0", BaudRate: 9600, DataBits: 8, StopBits: 1, Parity: "N", Enabled: true}
	id, err := db.CreateSerialConfig(c)
	if err != nil {
		t.Fatalf("CreateSerialConfig: %v", err)
	}
	if c.ID != id {
		t.Errorf("c.ID = %d, want %d", c.ID, id)
	}
	disabled := &SerialConfig{Name: "spare", PortPath: "/dev/ttyUSB1", BaudRate: 115200, DataBits: 8, StopBits: 1, Parity: "N"}
	if _, err := db.CreateSerialConfig(disabled); err != nil {
		t.Fatalf("CreateSerialConfig: %v", err)
	}

	all, err := db.GetSerialConfigs(false)
	if err != nil || len(all) != 2 {
		t.Fatalf("GetSerialConfigs(false) = %v, %v", all, err)
	}
	enabled, err := db.GetSerialConfigs(true)
	if err != nil || len(enabled) != 1 || enabled[0].Name != "front desk" {
		t.Fatalf("GetSerialConfigs(true) = %v, %v", enabled, err)
	}

	c.BaudRate = 57600
	if err := db.UpdateSerialConfig(c); err != nil {
		t.Fatalf("UpdateSerialConfig: %v", err)
	}
	got, err := db.GetSerialConfig(id)
	if err != nil {
		t.Fatalf("GetSerialConfig: %v", err)
	}
	if got.BaudRate != 57600 || !got.Enabled || got.CreatedAt == 0 {
		t.Errorf("after update: %+v", got)
	}

	if err := db.DeleteSerialConfig(id); err != nil {
		t.Fatalf("DeleteSerialConfig: %v", err)
	}
	if _, err := db.GetSerialConfig(id); !errors.Is(err, ErrSerialConfigNotFound) {
		t.Errorf("GetSerialConfig after delete: %v", err)
	}
	if err := db.DeleteSerialConfig(id); !errors.Is(err, ErrSerialConfigNotFound) {
		t.Errorf("second delete: %v", err)
	}
	if err := db.UpdateSerialConfig(&SerialConfig{ID: 999, Name: "x", PortPath: "y"}); !errors.Is(err, ErrSerialConfigNotFound) {
		t.Errorf("update missing: %v", err)
	}
}

func TestSerialConfig_DuplicateName(t *testing.T) {
	db := setupTestDB(t)
	c := &SerialConfig{Name: "dup", PortPath: "/dev/a", BaudRate: 9600, DataBits: 8, StopBits: 1, Parity: "N"}
	if _, err := db.CreateSerialConfig(c); err != nil {
		t.Fatalf("first create: %v", err)
	}
	if _, err := db.CreateSerialConfig(c); err == nil {
		t.Error("duplicate name accepted")
	}
}

func localHostRequest(method, path string) *http.Request {
	req := httptest.NewRequest(method, path, nil)
	req.RemoteAddr = "127.0.0.1:12345"
	return req
}

func TestAttachAdminRoutes_Backup(t *testing.T) {
	db := setupTestDB(t)
	if err := db.RecordScan(ScanRecord{ID: "x", Payload: "backup me", ScannedAt: time.Now()}); err != nil {
		t.Fatalf("RecordScan: %v", err)
	}

	mux := http.NewServeMux()
	db.AttachAdminRoutes(mux)

	w := httptest.NewRecorder()
	mux.ServeHTTP(w, localHostRequest(http.MethodGet, "/debug/backup"))
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d body %s", w.Code, w.Body.String())
	}
	if !strings.Contains(w.Header().Get("Content-Disposition"), ".db.gz") {
		t.Errorf("Content-Disposition = %q", w.Header().Get("Content-Disposition"))
	}

	zr, err := gzip.NewReader(bytes.NewReader(w.Body.Bytes()))
	if err != nil {
		t.Fatalf("gzip: %v", err)
	}
	snapshot, err := io.ReadAll(zr)
	if err != nil {
		t.Fatalf("read snapshot: %v", err)
	}
	if !bytes.HasPrefix(snapshot, []byte("SQLite format 3")) {
		t.Error("backup is not an SQLite database")
	}
}

func TestRunMigrateCommand(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cli.db")
	var out bytes.Buffer

	if err := RunMigrateCommand([]string{"up"}, path, &out); err != nil {
		t.Fatalf("migrate up: %v", err)
	}
	if !strings.Contains(out.String(), "Current version: 2") {
		t.Errorf("output = %q", out.String())
	}

	out.Reset()
	if err := RunMigrateCommand([]string{"down"}, path, &out); err != nil {
		t.Fatalf("migrate down: %v", err)
	}
	if !strings.Contains(out.String(), "Current version: 1") {
		t.Errorf("output = %q", out.String())
	}

	if err := RunMigrateCommand([]string{"sideways"}, path, io.Discard); err == nil {
		t.Error("unknown action accepted")
	}
	if err := RunMigrateCommand(nil, path, io.Discard); err == nil {
		t.Error("missing action accepted")
	}
}
