package persistence

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"bambulink/internal/domain"
)

func TestJobRepoUpsertAndList_TracksPhaseChanges(t *testing.T) {
	ctx := context.Background()
	dbPath := filepath.Join(t.TempDir(), "history.db")

	db, err := Open(ctx, dbPath)
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	defer func() { _ = db.Close() }()

	repo := NewJobRepo(db)
	started := time.Now().Add(-10 * time.Minute).UTC()

	job := domain.Job{
		ID:        "42",
		File:      "benchy.3mf",
		Source:    domain.JobSourceSD,
		Phase:     domain.JobPhasePrinting,
		StartedAt: started,
	}
	if err := repo.Upsert(ctx, job); err != nil {
		t.Fatalf("upsert printing job: %v", err)
	}

	job.Phase = domain.JobPhaseCompleted
	job.EndedAt = time.Now().UTC()
	if err := repo.Upsert(ctx, job); err != nil {
		t.Fatalf("upsert completed job: %v", err)
	}

	jobs, err := repo.ListRecent(ctx, 10)
	if err != nil {
		t.Fatalf("list jobs: %v", err)
	}
	if len(jobs) != 1 {
		t.Fatalf("expected one job row, got %d", len(jobs))
	}
	if jobs[0].Phase != domain.JobPhaseCompleted {
		t.Fatalf("expected completed phase, got %s", jobs[0].Phase)
	}
	if jobs[0].EndedAt.IsZero() {
		t.Fatalf("expected ended_at to round trip")
	}
	if jobs[0].File != "benchy.3mf" || jobs[0].Source != domain.JobSourceSD {
		t.Fatalf("job metadata lost: %+v", jobs[0])
	}
}

func TestJobRepoListRecent_OrdersNewestFirst(t *testing.T) {
	ctx := context.Background()
	db, err := Open(ctx, filepath.Join(t.TempDir(), "history.db"))
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	defer func() { _ = db.Close() }()

	repo := NewJobRepo(db)
	base := time.Now().UTC()
	for i, id := range []string{"a", "b", "c"} {
		err := repo.Upsert(ctx, domain.Job{
			ID:        id,
			Phase:     domain.JobPhaseCompleted,
			StartedAt: base.Add(time.Duration(i) * time.Minute),
		})
		if err != nil {
			t.Fatalf("upsert %s: %v", id, err)
		}
	}

	jobs, err := repo.ListRecent(ctx, 2)
	if err != nil {
		t.Fatalf("list jobs: %v", err)
	}
	if len(jobs) != 2 {
		t.Fatalf("expected limit of 2, got %d", len(jobs))
	}
	if jobs[0].ID != "c" || jobs[1].ID != "b" {
		t.Fatalf("expected newest first, got %s then %s", jobs[0].ID, jobs[1].ID)
	}
}

func TestOpen_IsIdempotentAcrossRestarts(t *testing.T) {
	ctx := context.Background()
	dbPath := filepath.Join(t.TempDir(), "history.db")

	db, err := Open(ctx, dbPath)
	if err != nil {
		t.Fatalf("first open: %v", err)
	}
	if err := db.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	reopened, err := Open(ctx, dbPath)
	if err != nil {
		t.Fatalf("reopen migrated db: %v", err)
	}
	defer func() { _ = reopened.Close() }()

	var version int
	if err := reopened.QueryRowContext(ctx, `PRAGMA user_version;`).Scan(&version); err != nil {
		t.Fatalf("read user_version: %v", err)
	}
	if version != len(migrations) {
		t.Fatalf("expected schema version %d, got %d", len(migrations), version)
	}
}
