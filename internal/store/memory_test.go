package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

func TestMemoryStore_UserUniqueness(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	require.NoError(t, s.CreateUser(ctx, &User{RegNo: "R1", Email: "a@x.io", Phone: "1"}))

	err := s.CreateUser(ctx, &User{RegNo: "R2", Email: "a@x.io", Phone: "2"})
	assert.ErrorIs(t, err, ErrAlreadyExists)

	// empty unique fields never collide
	require.NoError(t, s.CreateUser(ctx, &User{RegNo: "R3"}))
	require.NoError(t, s.CreateUser(ctx, &User{RegNo: "R4"}))
}

func TestMemoryStore_FindUserByIdentity(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	require.NoError(t, s.CreateUser(ctx, &User{RegNo: "R1", Email: "a@x.io", Phone: "111"}))

	u, err := s.FindUserByIdentity(ctx, "nobody@x.io", "111", "")
	require.NoError(t, err)
	assert.Equal(t, "R1", u.RegNo)

	_, err = s.FindUserByIdentity(ctx, "", "", "R9")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryStore_UpsertUserByRegNo(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	t0 := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	u := &User{RegNo: "R1", FirstName: "Ann", LastModified: t0}
	require.NoError(t, s.UpsertUserByRegNo(ctx, u))
	assert.False(t, u.ID.IsZero())
	assert.Equal(t, t0, u.CreatedAt)
	id := u.ID

	u2 := &User{RegNo: "R1", FirstName: "Anna", LastModified: t0.Add(time.Hour)}
	require.NoError(t, s.UpsertUserByRegNo(ctx, u2))
	assert.Equal(t, id, u2.ID)

	got, err := s.GetUserByRegNo(ctx, "R1")
	require.NoError(t, err)
	assert.Equal(t, "Anna", got.FirstName)
	assert.Equal(t, t0, got.CreatedAt)

	require.NoError(t, s.CreateUser(ctx, &User{RegNo: "R2", Email: "taken@x.io"}))
	err = s.UpsertUserByRegNo(ctx, &User{RegNo: "R1", Email: "taken@x.io"})
	assert.ErrorIs(t, err, ErrAlreadyExists)
}

func TestMemoryStore_ListUsersFilters(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	t0 := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	require.NoError(t, s.CreateUser(ctx, &User{RegNo: "R1", CreatedAt: t0, LastModified: t0}))
	require.NoError(t, s.CreateUser(ctx, &User{RegNo: "R2", CreatedAt: t0.Add(time.Minute), LastModified: t0.Add(time.Hour)}))

	all, err := s.ListUsers(ctx)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "R2", all[0].RegNo)

	since, err := s.ListUsersModifiedSince(ctx, t0)
	require.NoError(t, err)
	require.Len(t, since, 1)
	assert.Equal(t, "R2", since[0].RegNo)

	missing, err := s.ListUsersExcludingRegNos(ctx, []string{"R2"})
	require.NoError(t, err)
	require.Len(t, missing, 1)
	assert.Equal(t, "R1", missing[0].RegNo)
}

func TestMemoryStore_ApplicationsUniqueByRegNoAndDepartment(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	t0 := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	a := &Application{RegistrationNumber: "R1", Department: "dev", LastUpdated: t0,
		Answers: []Answer{{QuestionID: "q1", AnswerText: "x"}}}
	require.NoError(t, s.CreateApplication(ctx, a))
	assert.ErrorIs(t, s.CreateApplication(ctx, &Application{RegistrationNumber: "R1", Department: "dev"}), ErrAlreadyExists)
	require.NoError(t, s.CreateApplication(ctx, &Application{RegistrationNumber: "R1", Department: "photo", LastUpdated: t0.Add(time.Hour)}))

	up := &Application{RegistrationNumber: "R1", Department: "dev", LastUpdated: t0.Add(2 * time.Hour),
		Answers: []Answer{{QuestionID: "q1", AnswerText: "y"}}}
	require.NoError(t, s.UpsertApplication(ctx, up))
	assert.Equal(t, a.ID, up.ID)
	assert.Equal(t, t0, up.CreatedAt)

	devOnly, err := s.ListApplicationsUpdatedSince(ctx, t0, "dev")
	require.NoError(t, err)
	require.Len(t, devOnly, 1)
	assert.Equal(t, "y", devOnly[0].Answers[0].AnswerText)

	keys, err := s.ListApplicationKeys(ctx)
	require.NoError(t, err)
	assert.Len(t, keys, 2)

	byID, err := s.GetApplicationsByIDs(ctx, []primitive.ObjectID{a.ID})
	require.NoError(t, err)
	require.Len(t, byID, 1)
	assert.Equal(t, "dev", byID[0].Department)

	// returned copies do not alias stored answers
	byID[0].Answers[0].AnswerText = "mutated"
	again, err := s.GetApplication(ctx, "R1", "dev")
	require.NoError(t, err)
	assert.Equal(t, "y", again.Answers[0].AnswerText)
}

func TestMemoryStore_EmailAndSheetStatus(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	u := &User{RegNo: "R1"}
	require.NoError(t, s.CreateUser(ctx, u))

	now := time.Now().UTC()
	require.NoError(t, s.UpdateEmailStatus(ctx, u.ID, EmailSuccess, &now))
	require.NoError(t, s.MarkSheetSynced(ctx, []primitive.ObjectID{u.ID}, now))

	got, err := s.GetUserByRegNo(ctx, "R1")
	require.NoError(t, err)
	assert.Equal(t, EmailSuccess, got.EmailStatus)
	require.NotNil(t, got.LastEmailSentAt)
	assert.Equal(t, "success", got.SheetStatus)

	assert.ErrorIs(t, s.UpdateEmailStatus(ctx, primitive.NewObjectID(), EmailError, nil), ErrNotFound)
}

func TestMemoryStore_SyncStateAndHistory(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	st, err := s.GetSyncState(ctx, "mongoToSheet_users")
	require.NoError(t, err)
	assert.Nil(t, st)

	t0 := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, s.UpdateSyncState(ctx, &SyncState{Stream: "mongoToSheet_users", LastSyncTime: t0, Status: "ok"}))
	st, err = s.GetSyncState(ctx, "mongoToSheet_users")
	require.NoError(t, err)
	assert.Equal(t, t0, st.LastSyncTime)

	for _, id := range []string{"h1", "h2", "h3"} {
		require.NoError(t, s.CreateSyncHistory(ctx, &SyncHistory{ID: id, Status: "running"}))
	}
	require.NoError(t, s.UpdateSyncHistory(ctx, &SyncHistory{ID: "h2", Status: "completed"}))
	assert.ErrorIs(t, s.UpdateSyncHistory(ctx, &SyncHistory{ID: "nope"}), ErrNotFound)

	hist, err := s.GetSyncHistory(ctx, 2, 0)
	require.NoError(t, err)
	require.Len(t, hist, 2)
	assert.Equal(t, "h3", hist[0].ID)
	assert.Equal(t, "completed", hist[1].Status)

	hist, err = s.GetSyncHistory(ctx, 10, 5)
	require.NoError(t, err)
	assert.Empty(t, hist)

	require.NoError(t, s.CreateConflict(ctx, &Conflict{ID: "c1", Key: "R1"}))
	conflicts, err := s.ListConflicts(ctx, 10, 0)
	require.NoError(t, err)
	require.Len(t, conflicts, 1)
	assert.Equal(t, "R1", conflicts[0].Key)
}

func TestMemoryStore_UpsertApplicationKeepsUserID(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	t0 := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	require.NoError(t, s.CreateApplication(ctx, &Application{
		UserID: "u-1", RegistrationNumber: "R1", Department: "dev", LastUpdated: t0,
	}))

	require.NoError(t, s.UpsertApplication(ctx, &Application{
		RegistrationNumber: "R1", Department: "dev", Name: "Ann", LastUpdated: t0.Add(time.Hour),
	}))
	got, err := s.GetApplication(ctx, "R1", "dev")
	require.NoError(t, err)
	assert.Equal(t, "u-1", got.UserID)
	assert.Equal(t, "Ann", got.Name)

	require.NoError(t, s.UpsertApplication(ctx, &Application{
		UserID: "u-2", RegistrationNumber: "R1", Department: "dev", LastUpdated: t0.Add(2 * time.Hour),
	}))
	got, err = s.GetApplication(ctx, "R1", "dev")
	require.NoError(t, err)
	assert.Equal(t, "u-2", got.UserID)
}
