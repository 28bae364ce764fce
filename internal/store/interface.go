package store

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

var (
	ErrNotFound      = errors.New("not found")
	ErrAlreadyExists = errors.New("already exists")
)

type UserRepository interface {
	CreateUser(ctx context.Context, u *User) error
	// FindUserByIdentity returns the first user matching any of email, phone or regNo.
	FindUserByIdentity(ctx context.Context, email, phone, regNo string) (*User, error)
	GetUserByRegNo(ctx context.Context, regNo string) (*User, error)
	GetUserByUserID(ctx context.Context, userID string) (*User, error)
	ListUsers(ctx context.Context) ([]User, error)
	ListUsersModifiedSince(ctx context.Context, since time.Time) ([]User, error)
	ListUsersExcludingRegNos(ctx context.Context, regNos []string) ([]User, error)
	UpsertUserByRegNo(ctx context.Context, u *User) error
	UpdateEmailStatus(ctx context.Context, id primitive.ObjectID, status EmailStatus, sentAt *time.Time) error
	MarkSheetSynced(ctx context.Context, ids []primitive.ObjectID, at time.Time) error
}

type ApplicationRepository interface {
	CreateApplication(ctx context.Context, a *Application) error
	GetApplication(ctx context.Context, regNo, department string) (*Application, error)
	UpdateApplication(ctx context.Context, a *Application) error
	// UpsertApplication writes a by its (registration number, department) pair.
	UpsertApplication(ctx context.Context, a *Application) error
	ListApplications(ctx context.Context) ([]Application, error)
	// ListApplicationsUpdatedSince filters by department unless it is empty.
	ListApplicationsUpdatedSince(ctx context.Context, since time.Time, department string) ([]Application, error)
	ListApplicationKeys(ctx context.Context) ([]ApplicationKey, error)
	GetApplicationsByIDs(ctx context.Context, ids []primitive.ObjectID) ([]Application, error)
}

type StateStore interface {
	// Sync State
	GetSyncState(ctx context.Context, stream string) (*SyncState, error)
	UpdateSyncState(ctx context.Context, state *SyncState) error

	// Conflicts
	CreateConflict(ctx context.Context, conflict *Conflict) error
	ListConflicts(ctx context.Context, limit, offset int) ([]*Conflict, error)

	// History
	CreateSyncHistory(ctx context.Context, history *SyncHistory) error
	UpdateSyncHistory(ctx context.Context, history *SyncHistory) error
	GetSyncHistory(ctx context.Context, limit, offset int) ([]*SyncHistory, error)

	// General
	Close() error
}
