package mysql

import (
	"context"
	"testing"
)

func sampleRecord(eventID, party string, created int64) DisbursementRecord {
	return DisbursementRecord{
		EventID:   eventID,
		Region:    "North",
		Party:     party,
		ProofHash: "0x1234",
		Amount:    "1.5",
		TxHash:    "0xabcd",
		CreatedAt: created,
	}
}

func TestMemoryRepositorySaveAndList(t *testing.T) {
	dir := t.TempDir()
	repo, err := NewMemoryDisbursementRepository(dir)
	if err != nil {
		t.Fatalf("new repository: %v", err)
	}

	ctx := context.Background()
	for i := 0; i < 5; i++ {
		if err := repo.Save(ctx, sampleRecord("evt-1", "0xaa", int64(1000+i))); err != nil {
			t.Fatalf("save %d: %v", i, err)
		}
	}

	records, err := repo.ListLatest(ctx, 3)
	if err != nil {
		t.Fatalf("list latest: %v", err)
	}
	if len(records) != 3 {
		t.Fatalf("expected 3 records, got %d", len(records))
	}
	if records[0].CreatedAt != 1004 {
		t.Fatalf("expected newest first, got %d", records[0].CreatedAt)
	}
}

func TestMemoryRepositoryReloadsFromDisk(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	repo, err := NewMemoryDisbursementRepository(dir)
	if err != nil {
		t.Fatalf("new repository: %v", err)
	}
	if err := repo.Save(ctx, sampleRecord("evt-1", "0xaa", 1000)); err != nil {
		t.Fatalf("save: %v", err)
	}
	if err := repo.Save(ctx, sampleRecord("evt-2", "0xbb", 2000)); err != nil {
		t.Fatalf("save: %v", err)
	}

	reloaded, err := NewMemoryDisbursementRepository(dir)
	if err != nil {
		t.Fatalf("reload repository: %v", err)
	}
	records, err := reloaded.ListLatest(ctx, 0)
	if err != nil {
		t.Fatalf("list latest: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("expected 2 records after reload, got %d", len(records))
	}
	if records[0].EventID != "evt-2" || records[1].EventID != "evt-1" {
		t.Fatalf("unexpected order after reload: %+v", records)
	}
}
