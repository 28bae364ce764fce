package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// MemoryStore keeps every collection in process memory. It backs local
// development and tests and enforces the same uniqueness rules as the
// Mongo indexes.
type MemoryStore struct {
	mu        sync.RWMutex
	users     map[primitive.ObjectID]User
	apps      map[primitive.ObjectID]Application
	states    map[string]SyncState
	conflicts []*Conflict
	history   []*SyncHistory
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		users:  make(map[primitive.ObjectID]User),
		apps:   make(map[primitive.ObjectID]Application),
		states: make(map[string]SyncState),
	}
}

func (s *MemoryStore) Close() error { return nil }

// --- users ---

func (s *MemoryStore) CreateUser(ctx context.Context, u *User) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if u.ID.IsZero() {
		u.ID = primitive.NewObjectID()
	}
	if _, taken := s.users[u.ID]; taken || s.userConflicts(u, u.ID) {
		return ErrAlreadyExists
	}
	s.users[u.ID] = copyUser(*u)
	return nil
}

// userConflicts reports whether another user already owns one of u's unique fields.
func (s *MemoryStore) userConflicts(u *User, self primitive.ObjectID) bool {
	for id, other := range s.users {
		if id == self {
			continue
		}
		if sameNonEmpty(other.RegNo, u.RegNo) || sameNonEmpty(other.Email, u.Email) ||
			sameNonEmpty(other.Phone, u.Phone) || sameNonEmpty(other.UserID, u.UserID) {
			return true
		}
	}
	return false
}

func (s *MemoryStore) FindUserByIdentity(ctx context.Context, email, phone, regNo string) (*User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, u := range s.sortedUsers() {
		if (email != "" && u.Email == email) || (phone != "" && u.Phone == phone) || (regNo != "" && u.RegNo == regNo) {
			out := copyUser(u)
			return &out, nil
		}
	}
	return nil, ErrNotFound
}

func (s *MemoryStore) GetUserByRegNo(ctx context.Context, regNo string) (*User, error) {
	return s.findUser(func(u User) bool { return u.RegNo == regNo })
}

func (s *MemoryStore) GetUserByUserID(ctx context.Context, userID string) (*User, error) {
	return s.findUser(func(u User) bool { return u.UserID == userID })
}

func (s *MemoryStore) findUser(match func(User) bool) (*User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, u := range s.users {
		if match(u) {
			out := copyUser(u)
			return &out, nil
		}
	}
	return nil, ErrNotFound
}

func (s *MemoryStore) ListUsers(ctx context.Context) ([]User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.sortedUsers(), nil
}

func (s *MemoryStore) ListUsersModifiedSince(ctx context.Context, since time.Time) ([]User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []User
	for _, u := range s.sortedUsers() {
		if u.LastModified.After(since) {
			out = append(out, u)
		}
	}
	return out, nil
}

func (s *MemoryStore) ListUsersExcludingRegNos(ctx context.Context, regNos []string) ([]User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	skip := make(map[string]struct{}, len(regNos))
	for _, r := range regNos {
		skip[r] = struct{}{}
	}
	var out []User
	for _, u := range s.sortedUsers() {
		if _, ok := skip[u.RegNo]; !ok {
			out = append(out, u)
		}
	}
	return out, nil
}

func (s *MemoryStore) UpsertUserByRegNo(ctx context.Context, u *User) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for id, existing := range s.users {
		if existing.RegNo != u.RegNo {
			continue
		}
		existing.FirstName = u.FirstName
		existing.LastName = u.LastName
		existing.College = u.College
		existing.Year = u.Year
		existing.Email = u.Email
		existing.Phone = u.Phone
		existing.LastModified = u.LastModified
		if u.UserID != "" {
			existing.UserID = u.UserID
		}
		if s.userConflicts(&existing, id) {
			return ErrAlreadyExists
		}
		s.users[id] = existing
		*u = copyUser(existing)
		return nil
	}

	if u.ID.IsZero() {
		u.ID = primitive.NewObjectID()
	}
	if u.CreatedAt.IsZero() {
		u.CreatedAt = u.LastModified
	}
	if _, taken := s.users[u.ID]; taken || s.userConflicts(u, u.ID) {
		return ErrAlreadyExists
	}
	s.users[u.ID] = copyUser(*u)
	return nil
}

func (s *MemoryStore) UpdateEmailStatus(ctx context.Context, id primitive.ObjectID, status EmailStatus, sentAt *time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[id]
	if !ok {
		return ErrNotFound
	}
	u.EmailStatus = status
	if sentAt != nil {
		t := *sentAt
		u.LastEmailSentAt = &t
	}
	s.users[id] = u
	return nil
}

func (s *MemoryStore) MarkSheetSynced(ctx context.Context, ids []primitive.ObjectID, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, id := range ids {
		u, ok := s.users[id]
		if !ok {
			continue
		}
		t := at
		u.SheetStatus = "success"
		u.LastSheetUpdateAt = &t
		s.users[id] = u
	}
	return nil
}

func (s *MemoryStore) sortedUsers() []User {
	out := make([]User, 0, len(s.users))
	for _, u := range s.users {
		out = append(out, copyUser(u))
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID.Hex() < out[j].ID.Hex()
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out
}

// --- applications ---

func (s *MemoryStore) CreateApplication(ctx context.Context, a *Application) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if a.ID.IsZero() {
		a.ID = primitive.NewObjectID()
	}
	if _, ok := s.apps[a.ID]; ok {
		return ErrAlreadyExists
	}
	if _, ok := s.findAppLocked(a.RegistrationNumber, a.Department); ok {
		return ErrAlreadyExists
	}
	s.apps[a.ID] = copyApp(*a)
	return nil
}

func (s *MemoryStore) GetApplication(ctx context.Context, regNo, department string) (*Application, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	a, ok := s.findAppLocked(regNo, department)
	if !ok {
		return nil, ErrNotFound
	}
	out := copyApp(a)
	return &out, nil
}

func (s *MemoryStore) findAppLocked(regNo, department string) (Application, bool) {
	for _, a := range s.apps {
		if a.RegistrationNumber == regNo && a.Department == department {
			return a, true
		}
	}
	return Application{}, false
}

func (s *MemoryStore) UpdateApplication(ctx context.Context, a *Application) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.apps[a.ID]; !ok {
		return ErrNotFound
	}
	if other, ok := s.findAppLocked(a.RegistrationNumber, a.Department); ok && other.ID != a.ID {
		return ErrAlreadyExists
	}
	s.apps[a.ID] = copyApp(*a)
	return nil
}

func (s *MemoryStore) UpsertApplication(ctx context.Context, a *Application) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.findAppLocked(a.RegistrationNumber, a.Department); ok {
		a.ID = existing.ID
		if a.CreatedAt.IsZero() {
			a.CreatedAt = existing.CreatedAt
		}
		if a.UserID == "" {
			a.UserID = existing.UserID
		}
		s.apps[a.ID] = copyApp(*a)
		return nil
	}
	if a.ID.IsZero() {
		a.ID = primitive.NewObjectID()
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = a.LastUpdated
	}
	s.apps[a.ID] = copyApp(*a)
	return nil
}

func (s *MemoryStore) ListApplications(ctx context.Context) ([]Application, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.sortedApps(func(Application) bool { return true }), nil
}

func (s *MemoryStore) ListApplicationsUpdatedSince(ctx context.Context, since time.Time, department string) ([]Application, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.sortedApps(func(a Application) bool {
		return a.LastUpdated.After(since) && (department == "" || a.Department == department)
	}), nil
}

func (s *MemoryStore) ListApplicationKeys(ctx context.Context) ([]ApplicationKey, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	apps := s.sortedApps(func(Application) bool { return true })
	keys := make([]ApplicationKey, 0, len(apps))
	for _, a := range apps {
		keys = append(keys, ApplicationKey{ID: a.ID, RegistrationNumber: a.RegistrationNumber, Department: a.Department})
	}
	return keys, nil
}

func (s *MemoryStore) GetApplicationsByIDs(ctx context.Context, ids []primitive.ObjectID) ([]Application, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	want := make(map[primitive.ObjectID]struct{}, len(ids))
	for _, id := range ids {
		want[id] = struct{}{}
	}
	return s.sortedApps(func(a Application) bool {
		_, ok := want[a.ID]
		return ok
	}), nil
}

func (s *MemoryStore) sortedApps(keep func(Application) bool) []Application {
	var out []Application
	for _, a := range s.apps {
		if keep(a) {
			out = append(out, copyApp(a))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].LastUpdated.Equal(out[j].LastUpdated) {
			return out[i].ID.Hex() < out[j].ID.Hex()
		}
		return out[i].LastUpdated.After(out[j].LastUpdated)
	})
	return out
}

// --- sync state ---

func (s *MemoryStore) GetSyncState(ctx context.Context, stream string) (*SyncState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st, ok := s.states[stream]
	if !ok {
		return nil, nil
	}
	return &st, nil
}

func (s *MemoryStore) UpdateSyncState(ctx context.Context, state *SyncState) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := *state
	st.UpdatedAt = time.Now().UTC()
	s.states[state.Stream] = st
	return nil
}

func (s *MemoryStore) CreateConflict(ctx context.Context, conflict *Conflict) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c := *conflict
	s.conflicts = append(s.conflicts, &c)
	return nil
}

func (s *MemoryStore) ListConflicts(ctx context.Context, limit, offset int) ([]*Conflict, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	// newest first
	out := make([]*Conflict, 0, len(s.conflicts))
	for i := len(s.conflicts) - 1; i >= 0; i-- {
		c := *s.conflicts[i]
		out = append(out, &c)
	}
	return page(out, limit, offset), nil
}

func (s *MemoryStore) CreateSyncHistory(ctx context.Context, history *SyncHistory) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	h := *history
	s.history = append(s.history, &h)
	return nil
}

func (s *MemoryStore) UpdateSyncHistory(ctx context.Context, history *SyncHistory) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i, h := range s.history {
		if h.ID == history.ID {
			updated := *history
			s.history[i] = &updated
			return nil
		}
	}
	return ErrNotFound
}

func (s *MemoryStore) GetSyncHistory(ctx context.Context, limit, offset int) ([]*SyncHistory, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*SyncHistory, 0, len(s.history))
	for i := len(s.history) - 1; i >= 0; i-- {
		h := *s.history[i]
		out = append(out, &h)
	}
	return page(out, limit, offset), nil
}

func page[T any](items []T, limit, offset int) []T {
	if offset >= len(items) {
		return nil
	}
	items = items[offset:]
	if limit > 0 && limit < len(items) {
		items = items[:limit]
	}
	return items
}

func sameNonEmpty(a, b string) bool {
	return a != "" && a == b
}

func copyUser(u User) User {
	if u.LastEmailSentAt != nil {
		t := *u.LastEmailSentAt
		u.LastEmailSentAt = &t
	}
	if u.LastSheetUpdateAt != nil {
		t := *u.LastSheetUpdateAt
		u.LastSheetUpdateAt = &t
	}
	return u
}

func copyApp(a Application) Application {
	a.Answers = append([]Answer(nil), a.Answers...)
	return a
}
