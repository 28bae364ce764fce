package store

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const (
	usersCollection     = "users"
	appsCollection      = "applications"
	stateCollection     = "sync_state"
	conflictsCollection = "sync_conflicts"
	historyCollection   = "sync_history"
)

// MongoStore is the primary record store. It also satisfies StateStore so
// checkpoints can live next to the data they describe.
type MongoStore struct {
	client    *mongo.Client
	users     *mongo.Collection
	apps      *mongo.Collection
	state     *mongo.Collection
	conflicts *mongo.Collection
	history   *mongo.Collection
}

func NewMongoStore(client *mongo.Client, database string) *MongoStore {
	db := client.Database(database)
	return &MongoStore{
		client:    client,
		users:     db.Collection(usersCollection),
		apps:      db.Collection(appsCollection),
		state:     db.Collection(stateCollection),
		conflicts: db.Collection(conflictsCollection),
		history:   db.Collection(historyCollection),
	}
}

// nonEmptyString limits a unique index to documents that actually carry the field.
var nonEmptyString = bson.M{"$type": "string", "$gt": ""}

func uniqueOn(field string) mongo.IndexModel {
	return mongo.IndexModel{
		Keys: bson.D{{Key: field, Value: 1}},
		Options: options.Index().
			SetUnique(true).
			SetPartialFilterExpression(bson.M{field: nonEmptyString}),
	}
}

// EnsureIndexes creates the uniqueness and query indexes the repositories rely on.
func (s *MongoStore) EnsureIndexes(ctx context.Context) error {
	_, err := s.users.Indexes().CreateMany(ctx, []mongo.IndexModel{
		uniqueOn("regNo"),
		uniqueOn("email"),
		uniqueOn("phone"),
		uniqueOn("userId"),
		{Keys: bson.D{{Key: "lastModified", Value: 1}}},
	})
	if err != nil {
		return err
	}

	_, err = s.apps.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "registrationNumber", Value: 1}, {Key: "department", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
		{Keys: bson.D{{Key: "lastUpdated", Value: 1}}},
	})
	if err != nil {
		return err
	}

	_, err = s.history.Indexes().CreateOne(ctx, mongo.IndexModel{Keys: bson.D{{Key: "startedAt", Value: -1}}})
	return err
}

func (s *MongoStore) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.client.Disconnect(ctx)
}

// WatchChanges opens a change stream over users and applications. It needs a
// replica set.
func (s *MongoStore) WatchChanges(ctx context.Context) (*mongo.ChangeStream, error) {
	pipeline := mongo.Pipeline{
		{{Key: "$match", Value: bson.M{
			"ns.coll":       bson.M{"$in": bson.A{usersCollection, appsCollection}},
			"operationType": bson.M{"$in": bson.A{"insert", "update", "replace"}},
		}}},
	}
	return s.users.Database().Watch(ctx, pipeline)
}

func mapWriteErr(err error) error {
	if mongo.IsDuplicateKeyError(err) {
		return ErrAlreadyExists
	}
	return err
}

func findOne[T any](ctx context.Context, coll *mongo.Collection, filter any) (*T, error) {
	var out T
	err := coll.FindOne(ctx, filter).Decode(&out)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func findAll[T any](ctx context.Context, coll *mongo.Collection, filter any, opts ...*options.FindOptions) ([]T, error) {
	cur, err := coll.Find(ctx, filter, opts...)
	if err != nil {
		return nil, err
	}
	out := []T{}
	if err := cur.All(ctx, &out); err != nil {
		return nil, err
	}
	return out, nil
}

var (
	usersNewestFirst = options.Find().SetSort(bson.D{{Key: "createdAt", Value: -1}, {Key: "_id", Value: 1}})
	appsNewestFirst  = options.Find().SetSort(bson.D{{Key: "lastUpdated", Value: -1}, {Key: "_id", Value: 1}})
)

// --- users ---

func (s *MongoStore) CreateUser(ctx context.Context, u *User) error {
	if u.ID.IsZero() {
		u.ID = primitive.NewObjectID()
	}
	_, err := s.users.InsertOne(ctx, u)
	return mapWriteErr(err)
}

func (s *MongoStore) FindUserByIdentity(ctx context.Context, email, phone, regNo string) (*User, error) {
	var or bson.A
	if email != "" {
		or = append(or, bson.M{"email": email})
	}
	if phone != "" {
		or = append(or, bson.M{"phone": phone})
	}
	if regNo != "" {
		or = append(or, bson.M{"regNo": regNo})
	}
	if len(or) == 0 {
		return nil, ErrNotFound
	}
	users, err := findAll[User](ctx, s.users, bson.M{"$or": or}, options.Find().SetSort(bson.D{{Key: "createdAt", Value: -1}, {Key: "_id", Value: 1}}).SetLimit(1))
	if err != nil {
		return nil, err
	}
	if len(users) == 0 {
		return nil, ErrNotFound
	}
	return &users[0], nil
}

func (s *MongoStore) GetUserByRegNo(ctx context.Context, regNo string) (*User, error) {
	return findOne[User](ctx, s.users, bson.M{"regNo": regNo})
}

func (s *MongoStore) GetUserByUserID(ctx context.Context, userID string) (*User, error) {
	return findOne[User](ctx, s.users, bson.M{"userId": userID})
}

func (s *MongoStore) ListUsers(ctx context.Context) ([]User, error) {
	return findAll[User](ctx, s.users, bson.M{}, usersNewestFirst)
}

func (s *MongoStore) ListUsersModifiedSince(ctx context.Context, since time.Time) ([]User, error) {
	return findAll[User](ctx, s.users, bson.M{"lastModified": bson.M{"$gt": since}}, usersNewestFirst)
}

func (s *MongoStore) ListUsersExcludingRegNos(ctx context.Context, regNos []string) ([]User, error) {
	if regNos == nil {
		regNos = []string{}
	}
	return findAll[User](ctx, s.users, bson.M{"regNo": bson.M{"$nin": regNos}}, usersNewestFirst)
}

func (s *MongoStore) UpsertUserByRegNo(ctx context.Context, u *User) error {
	set := bson.M{
		"firstname":    u.FirstName,
		"lastname":     u.LastName,
		"college":      u.College,
		"year":         u.Year,
		"email":        u.Email,
		"phone":        u.Phone,
		"lastModified": u.LastModified,
	}
	if u.UserID != "" {
		set["userId"] = u.UserID
	}
	createdAt := u.CreatedAt
	if createdAt.IsZero() {
		createdAt = u.LastModified
	}
	update := bson.M{
		"$set":         set,
		"$setOnInsert": bson.M{"createdAt": createdAt},
	}

	opts := options.FindOneAndUpdate().SetUpsert(true).SetReturnDocument(options.After)
	var out User
	err := s.users.FindOneAndUpdate(ctx, bson.M{"regNo": u.RegNo}, update, opts).Decode(&out)
	if err != nil {
		return mapWriteErr(err)
	}
	*u = out
	return nil
}

func (s *MongoStore) UpdateEmailStatus(ctx context.Context, id primitive.ObjectID, status EmailStatus, sentAt *time.Time) error {
	set := bson.M{"emailStatus": status}
	if sentAt != nil {
		set["lastEmailSentAt"] = *sentAt
	}
	res, err := s.users.UpdateByID(ctx, id, bson.M{"$set": set})
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *MongoStore) MarkSheetSynced(ctx context.Context, ids []primitive.ObjectID, at time.Time) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := s.users.UpdateMany(ctx,
		bson.M{"_id": bson.M{"$in": ids}},
		bson.M{"$set": bson.M{"sheetStatus": "success", "lastSheetUpdateAt": at}},
	)
	return err
}

// --- applications ---

func (s *MongoStore) CreateApplication(ctx context.Context, a *Application) error {
	if a.ID.IsZero() {
		a.ID = primitive.NewObjectID()
	}
	_, err := s.apps.InsertOne(ctx, a)
	return mapWriteErr(err)
}

func (s *MongoStore) GetApplication(ctx context.Context, regNo, department string) (*Application, error) {
	return findOne[Application](ctx, s.apps, bson.M{"registrationNumber": regNo, "department": department})
}

func (s *MongoStore) UpdateApplication(ctx context.Context, a *Application) error {
	res, err := s.apps.ReplaceOne(ctx, bson.M{"_id": a.ID}, a)
	if err != nil {
		return mapWriteErr(err)
	}
	if res.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *MongoStore) UpsertApplication(ctx context.Context, a *Application) error {
	createdAt := a.CreatedAt
	if createdAt.IsZero() {
		createdAt = a.LastUpdated
	}
	set := bson.M{
		"name":        a.Name,
		"email":       a.Email,
		"phone":       a.Phone,
		"college":     a.College,
		"year":        a.Year,
		"answers":     a.Answers,
		"lastHash":    a.LastHash,
		"lastUpdated": a.LastUpdated,
	}
	if a.UserID != "" {
		set["userId"] = a.UserID
	}
	update := bson.M{
		"$set":         set,
		"$setOnInsert": bson.M{"createdAt": createdAt},
	}
	filter := bson.M{"registrationNumber": a.RegistrationNumber, "department": a.Department}
	opts := options.FindOneAndUpdate().SetUpsert(true).SetReturnDocument(options.After)

	var out Application
	if err := s.apps.FindOneAndUpdate(ctx, filter, update, opts).Decode(&out); err != nil {
		return mapWriteErr(err)
	}
	*a = out
	return nil
}

func (s *MongoStore) ListApplications(ctx context.Context) ([]Application, error) {
	return findAll[Application](ctx, s.apps, bson.M{}, appsNewestFirst)
}

func (s *MongoStore) ListApplicationsUpdatedSince(ctx context.Context, since time.Time, department string) ([]Application, error) {
	filter := bson.M{"lastUpdated": bson.M{"$gt": since}}
	if department != "" {
		filter["department"] = department
	}
	return findAll[Application](ctx, s.apps, filter, appsNewestFirst)
}

func (s *MongoStore) ListApplicationKeys(ctx context.Context) ([]ApplicationKey, error) {
	opts := options.Find().
		SetProjection(bson.M{"_id": 1, "registrationNumber": 1, "department": 1}).
		SetSort(bson.D{{Key: "lastUpdated", Value: -1}, {Key: "_id", Value: 1}})
	return findAll[ApplicationKey](ctx, s.apps, bson.M{}, opts)
}

func (s *MongoStore) GetApplicationsByIDs(ctx context.Context, ids []primitive.ObjectID) ([]Application, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	return findAll[Application](ctx, s.apps, bson.M{"_id": bson.M{"$in": ids}}, appsNewestFirst)
}

// --- sync state ---

func (s *MongoStore) GetSyncState(ctx context.Context, stream string) (*SyncState, error) {
	st, err := findOne[SyncState](ctx, s.state, bson.M{"_id": stream})
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	return st, err
}

func (s *MongoStore) UpdateSyncState(ctx context.Context, state *SyncState) error {
	st := *state
	st.UpdatedAt = time.Now().UTC()
	_, err := s.state.ReplaceOne(ctx, bson.M{"_id": st.Stream}, st, options.Replace().SetUpsert(true))
	return err
}

func (s *MongoStore) CreateConflict(ctx context.Context, conflict *Conflict) error {
	_, err := s.conflicts.InsertOne(ctx, conflict)
	return err
}

func pageOpts(sortField string, limit, offset int) *options.FindOptions {
	opts := options.Find().SetSort(bson.D{{Key: sortField, Value: -1}}).SetSkip(int64(offset))
	if limit > 0 {
		opts.SetLimit(int64(limit))
	}
	return opts
}

func (s *MongoStore) ListConflicts(ctx context.Context, limit, offset int) ([]*Conflict, error) {
	return findAll[*Conflict](ctx, s.conflicts, bson.M{}, pageOpts("detectedAt", limit, offset))
}

func (s *MongoStore) CreateSyncHistory(ctx context.Context, history *SyncHistory) error {
	_, err := s.history.InsertOne(ctx, history)
	return err
}

func (s *MongoStore) UpdateSyncHistory(ctx context.Context, history *SyncHistory) error {
	res, err := s.history.ReplaceOne(ctx, bson.M{"_id": history.ID}, history)
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *MongoStore) GetSyncHistory(ctx context.Context, limit, offset int) ([]*SyncHistory, error) {
	return findAll[*SyncHistory](ctx, s.history, bson.M{}, pageOpts("startedAt", limit, offset))
}

var (
	_ UserRepository        = (*MongoStore)(nil)
	_ ApplicationRepository = (*MongoStore)(nil)
	_ StateStore            = (*MongoStore)(nil)
	_ UserRepository        = (*MemoryStore)(nil)
	_ ApplicationRepository = (*MemoryStore)(nil)
	_ StateStore            = (*MemoryStore)(nil)
	_ StateStore            = (*MySQLStore)(nil)
)
