package report

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/neurocohort/databank/pkg/common/database"
	"github.com/neurocohort/databank/pkg/common/models"
)

func newRepository(t *testing.T) *Repository {
	t.Helper()
	db, err := database.Open(database.DriverSQLite, filepath.Join(t.TempDir(), "report.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = database.Close(db) })

	repo := NewRepository(db)
	require.NoError(t, repo.AutoMigrate())
	return repo
}

func TestRunLifecycle(t *testing.T) {
	ctx := context.Background()
	repo := newRepository(t)

	run, err := repo.StartRun(ctx, "check", "FU3", 2)
	require.NoError(t, err)
	require.NotEmpty(t, run.ID)
	assert.Equal(t, StatusRunning, run.Status)

	run.Failed = 1
	run.Status = StatusCompleted
	require.NoError(t, repo.SaveRun(ctx, run))

	stored, err := repo.GetRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, stored.Status)
	assert.Equal(t, 1, stored.Failed)
	assert.NotNil(t, stored.CompletedAt)

	_, err = repo.GetRun(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSaveAndListDiagnostics(t *testing.T) {
	ctx := context.Background()
	repo := newRepository(t)

	run, err := repo.StartRun(ctx, "check", "FU3", 2)
	require.NoError(t, err)

	require.NoError(t, repo.SaveDiagnostics(ctx, run.ID, "b.zip", []models.Diagnostic{
		models.NewDiagnostic(models.KindMissingRequiredField, "b/ImageData/", `Folder "ImageData" is missing`, ""),
	}))
	require.NoError(t, repo.SaveDiagnostics(ctx, run.ID, "a.zip", []models.Diagnostic{
		models.NewDiagnostic(models.KindIdentifierMismatch, "a/mid.csv", "PSC1 code mismatch", "023456789012"),
		models.NewDiagnostic(models.KindDiscarded, "a/old.zip", "Superseded", "").WithSeverity(models.SeverityInfo),
	}))
	require.NoError(t, repo.SaveDiagnostics(ctx, run.ID, "c.zip", nil))

	all, err := repo.ListDiagnostics(ctx, run.ID, Filter{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "a/mid.csv", all[0].Location)
	assert.Equal(t, "023456789012", all[0].Sample)
	assert.Equal(t, `Folder "ImageData" is missing`, all[2].Message)

	errorsOnly, err := repo.ListDiagnostics(ctx, run.ID, Filter{Severity: models.SeverityError})
	require.NoError(t, err)
	assert.Len(t, errorsOnly, 2)

	byUnit, err := repo.ListDiagnostics(ctx, run.ID, Filter{Unit: "b.zip", Kind: models.KindMissingRequiredField})
	require.NoError(t, err)
	assert.Len(t, byUnit, 1)

	counts, err := repo.CountByKind(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, counts[models.KindIdentifierMismatch])
	assert.Equal(t, 1, counts[models.KindDiscarded])
}
