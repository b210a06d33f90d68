package tracker

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/timebridge/timebridge/internal/common"
	"github.com/timebridge/timebridge/internal/model"
	"github.com/timebridge/timebridge/internal/repository"
)

func newTestFactory(t *testing.T) (*Factory, string) {
	t.Helper()

	remoteDir := t.TempDir()
	cfg := repository.Config{
		RemoteDir:     remoteDir,
		CacheDir:      filepath.Join(t.TempDir(), "cache"),
		RemoteTimeout: 100 * time.Millisecond,
		RemoteDelay:   5 * time.Millisecond,
		LockTimeout:   50 * time.Millisecond,
		LockDelay:     5 * time.Millisecond,
		SaveTimeout:   100 * time.Millisecond,
		SaveDelay:     5 * time.Millisecond,
	}

	info := model.EmployeeInfo{ID: "042", FirstName: "Jane", LastName: "Doe"}
	require.NoError(t, CreateRecordFile(
		filepath.Join(remoteDir, "042-doe_jane-2025.db"), info, 2025, CreateOptions{}))

	repo, err := repository.New(context.Background(), cfg)
	require.NoError(t, err)

	factory := NewFactory(repo, &fakeEvaluator{})
	factory.Now = func() time.Time { return testAsOf }
	return factory, remoteDir
}

func TestFactoryCreate(t *testing.T) {
	factory, remoteDir := newTestFactory(t)
	ctx := context.Background()

	tracker, err := factory.Create(ctx, "042", 2025)
	require.NoError(t, err)
	assert.Equal(t, "042", tracker.Employee().ID)
	assert.Equal(t, 2025, tracker.Year())
	assert.True(t, tracker.AsOf().Equal(testAsOf))

	lock := filepath.Join(remoteDir, "042-doe_jane-2025.db"+repository.LockExtension)
	_, err = os.Stat(lock)
	assert.NoError(t, err, "record must be locked while open")

	require.NoError(t, tracker.Close(ctx))
	_, err = os.Stat(lock)
	assert.True(t, os.IsNotExist(err), "lock must be removed on close")
}

func TestFactoryCreateSavesThroughRepository(t *testing.T) {
	factory, _ := newTestFactory(t)
	ctx := context.Background()

	tracker, err := factory.Create(ctx, "042", 2025)
	require.NoError(t, err)
	defer func() {
		_ = tracker.Close(ctx)
	}()

	date := model.NewDate(2025, time.February, 20)
	require.NoError(t, tracker.SetDayError(date, model.ErrIDClockMissing))
	require.NoError(t, tracker.Save(ctx))
	require.NoError(t, tracker.Close(ctx))

	// The persisted error must be visible in a fresh acquisition.
	reopened, err := factory.Create(ctx, "042", 2025)
	require.NoError(t, err)
	defer func() {
		_ = reopened.Close(ctx)
	}()
	errorID, err := reopened.DayError(date)
	require.NoError(t, err)
	assert.Equal(t, model.ErrIDClockMissing, errorID)
}

func TestFactoryYearMismatch(t *testing.T) {
	factory, remoteDir := newTestFactory(t)
	ctx := context.Background()

	_, err := factory.Create(ctx, "042", 2024)
	require.Error(t, err)
	assert.ErrorIs(t, err, common.ErrYearMismatch)

	// The mismatch is a clean refusal, not a failure: the lock must be
	// released so the record stays usable.
	lock := filepath.Join(remoteDir, "042-doe_jane-2025.db"+repository.LockExtension)
	_, err = os.Stat(lock)
	assert.True(t, os.IsNotExist(err))
}

func TestFactoryCreateReadOnly(t *testing.T) {
	factory, remoteDir := newTestFactory(t)
	ctx := context.Background()

	tracker, err := factory.CreateReadOnly(ctx, "042", 2025)
	require.NoError(t, err)
	defer func() {
		_ = tracker.Close(ctx)
	}()

	lock := filepath.Join(remoteDir, "042-doe_jane-2025.db"+repository.LockExtension)
	_, err = os.Stat(lock)
	assert.True(t, os.IsNotExist(err), "read-only open must not lock")

	assert.ErrorIs(t, tracker.Save(ctx), common.ErrReadOnly)
}

func TestFactoryListEmployeeIDs(t *testing.T) {
	factory, remoteDir := newTestFactory(t)

	info := model.EmployeeInfo{ID: "043", FirstName: "Marie", LastName: "Dupont"}
	require.NoError(t, CreateRecordFile(
		filepath.Join(remoteDir, "043-dupont_marie-2025.db"), info, 2025, CreateOptions{}))

	ids, err := factory.ListEmployeeIDs(context.Background())
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"042", "043"}, ids)
}
