package journal

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/fxnode/fax-nexus/pkg/logger"
)

func testDB(t *testing.T) *DB {
	t.Helper()
	log := logger.New(logger.Config{Level: "error"})
	db, err := NewDB(Config{Path: filepath.Join(t.TempDir(), "test.db")}, log)
	if err != nil {
		t.Fatalf("NewDB failed: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestCallRepository_CreateAndQuery(t *testing.T) {
	repo := NewCallRepository(testDB(t).GetDB())

	call := &CallRecord{
		Station:    "office",
		Direction:  "receive",
		LocalIdent: "+1 555 0100",
		FarIdent:   "+1 555 0199",
		BitRate:    9600,
		ECM:        true,
		Pages:      3,
		Status:     "OK",
		OK:         true,
		StartTime:  time.Now().Add(-time.Minute),
		EndTime:    time.Now(),
	}
	if err := repo.Create(call); err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if call.ID == 0 {
		t.Fatal("Create should assign an ID")
	}

	for i := 1; i <= 3; i++ {
		err := repo.AddPage(&PageRecord{
			CallID:     call.ID,
			PageNumber: i,
			Width:      1728,
			Rows:       1100,
			Quality:    "good",
		})
		if err != nil {
			t.Fatalf("AddPage failed: %v", err)
		}
	}

	recent, err := repo.GetRecent(10)
	if err != nil {
		t.Fatalf("GetRecent failed: %v", err)
	}
	if len(recent) != 1 || recent[0].FarIdent != "+1 555 0199" {
		t.Errorf("Unexpected recent calls: %+v", recent)
	}
	if d := recent[0].Duration(); d < 59 || d > 61 {
		t.Errorf("Unexpected duration %f", d)
	}

	pages, err := repo.GetPages(call.ID)
	if err != nil {
		t.Fatalf("GetPages failed: %v", err)
	}
	if len(pages) != 3 || pages[0].PageNumber != 1 {
		t.Errorf("Unexpected pages: %+v", pages)
	}

	byIdent, err := repo.GetByFarIdent("+1 555 0199", 5)
	if err != nil || len(byIdent) != 1 {
		t.Errorf("GetByFarIdent: %v %d", err, len(byIdent))
	}
}

func TestCallRepository_FailureCount(t *testing.T) {
	repo := NewCallRepository(testDB(t).GetDB())

	now := time.Now()
	records := []*CallRecord{
		{Station: "a", Direction: "send", OK: true, StartTime: now},
		{Station: "a", Direction: "send", OK: false, Status: "failed to train", StartTime: now},
		{Station: "a", Direction: "send", OK: false, Status: "T0 expired", StartTime: now.Add(-2 * time.Hour)},
	}
	for _, r := range records {
		if err := repo.Create(r); err != nil {
			t.Fatal(err)
		}
	}

	count, err := repo.FailureCount(now.Add(-time.Hour))
	if err != nil {
		t.Fatalf("FailureCount failed: %v", err)
	}
	if count != 1 {
		t.Errorf("Expected 1 recent failure, got %d", count)
	}
}

func TestCallRepository_Pagination(t *testing.T) {
	repo := NewCallRepository(testDB(t).GetDB())

	for i := 0; i < 25; i++ {
		err := repo.Create(&CallRecord{
			Station:   "a",
			Direction: "send",
			StartTime: time.Now().Add(time.Duration(-i) * time.Minute),
		})
		if err != nil {
			t.Fatal(err)
		}
	}

	page1, total, err := repo.GetRecentPaginated(1, 10)
	if err != nil {
		t.Fatalf("GetRecentPaginated failed: %v", err)
	}
	if total != 25 || len(page1) != 10 {
		t.Errorf("Expected 25 total and 10 in page, got %d and %d", total, len(page1))
	}
	page3, _, err := repo.GetRecentPaginated(3, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(page3) != 5 {
		t.Errorf("Expected 5 on the last page, got %d", len(page3))
	}
}
