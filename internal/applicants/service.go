// Package applicants holds the request-facing operations: registration,
// application intake, admin exports and bulk actions.
package applicants

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.uber.org/zap"

	"recruitment-sync-service/internal/fingerprint"
	"recruitment-sync-service/internal/logger"
	"recruitment-sync-service/internal/sheets"
	"recruitment-sync-service/internal/store"
)

// ErrValidation matches every ValidationError through errors.Is.
var ErrValidation = errors.New("validation failed")

// ValidationError is a request problem the caller can fix.
type ValidationError struct {
	Msg string
}

func (e *ValidationError) Error() string { return e.Msg }

func (e *ValidationError) Unwrap() error { return ErrValidation }

func invalid(format string, args ...any) error {
	return &ValidationError{Msg: fmt.Sprintf(format, args...)}
}

// Notifier sends applicant emails.
type Notifier interface {
	ThankYou(ctx context.Context, to, name string) error
	Reminder(ctx context.Context, to, name string) error
}

type Outcome int

const (
	Created Outcome = iota
	Updated
	Unchanged
)

var FinalSheetHeaders = []string{
	"Firstname", "Lastname", "RegNo", "College", "Year",
	"Email", "Phone", "DateAdded", "Timestamp-sync",
}

type Service struct {
	users      store.UserRepository
	apps       store.ApplicationRepository
	sheets     *sheets.Client
	mailer     Notifier
	finalSheet string
	now        func() time.Time

	// background mail sends
	wg sync.WaitGroup
}

func NewService(users store.UserRepository, apps store.ApplicationRepository, client *sheets.Client, mailer Notifier, finalSheet string) *Service {
	return &Service{
		users:      users,
		apps:       apps,
		sheets:     client,
		mailer:     mailer,
		finalSheet: finalSheet,
		now:        time.Now,
	}
}

// Wait blocks until background mail sends finish.
func (s *Service) Wait() {
	s.wg.Wait()
}

type RegisterInput struct {
	FirstName string `json:"firstname"`
	LastName  string `json:"lastname"`
	RegNo     string `json:"regNo"`
	College   string `json:"college"`
	Year      string `json:"year"`
	Email     string `json:"email"`
	Phone     string `json:"phone"`
}

func (in *RegisterInput) normalize() error {
	fields := []struct {
		name string
		val  *string
	}{
		{"firstname", &in.FirstName},
		{"lastname", &in.LastName},
		{"regNo", &in.RegNo},
		{"college", &in.College},
		{"year", &in.Year},
		{"email", &in.Email},
		{"phone", &in.Phone},
	}
	var missing []string
	for _, f := range fields {
		*f.val = strings.TrimSpace(*f.val)
		if *f.val == "" {
			missing = append(missing, f.name)
		}
	}
	if len(missing) > 0 {
		return invalid("missing required fields: %s", strings.Join(missing, ", "))
	}
	in.Email = strings.ToLower(in.Email)
	if !strings.Contains(in.Email, "@") {
		return invalid("invalid email %q", in.Email)
	}
	return nil
}

// Register creates a user, or returns the existing user sharing the email,
// phone or registration number. created is false in the second case.
func (s *Service) Register(ctx context.Context, in RegisterInput) (*store.User, bool, error) {
	if err := in.normalize(); err != nil {
		return nil, false, err
	}

	existing, err := s.users.FindUserByIdentity(ctx, in.Email, in.Phone, in.RegNo)
	if err == nil {
		return existing, false, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, false, err
	}

	now := s.now().UTC()
	u := &store.User{
		UserID:       uuid.New().String(),
		FirstName:    in.FirstName,
		LastName:     in.LastName,
		RegNo:        in.RegNo,
		College:      in.College,
		Year:         in.Year,
		Email:        in.Email,
		Phone:        in.Phone,
		CreatedAt:    now,
		LastModified: now,
	}
	if err := s.users.CreateUser(ctx, u); err != nil {
		if errors.Is(err, store.ErrAlreadyExists) {
			// lost a race with a concurrent registration
			if existing, ferr := s.users.FindUserByIdentity(ctx, in.Email, in.Phone, in.RegNo); ferr == nil {
				return existing, false, nil
			}
		}
		return nil, false, err
	}

	logger.Log.Info("User registered", zap.String("regNo", u.RegNo), zap.String("userId", u.UserID))
	return u, true, nil
}

type ApplicationInput struct {
	UserID             string         `json:"userId"`
	RegistrationNumber string         `json:"registrationNumber"`
	Name               string         `json:"name"`
	Email              string         `json:"email"`
	Phone              string         `json:"phone"`
	College            string         `json:"college"`
	Year               string         `json:"year"`
	Department         string         `json:"department"`
	Answers            []store.Answer `json:"answers"`
}

func (in *ApplicationInput) validate() error {
	in.Department = strings.TrimSpace(in.Department)
	if in.Department == "" {
		return invalid("department is required")
	}
	if !store.ValidDepartment(in.Department) {
		return invalid("unknown department %q", in.Department)
	}
	if len(in.Answers) == 0 {
		return invalid("answers must not be empty")
	}
	for i, a := range in.Answers {
		if strings.TrimSpace(a.QuestionID) == "" || strings.TrimSpace(a.AnswerText) == "" {
			return invalid("answer %d needs questionId and answerText", i)
		}
	}
	if strings.TrimSpace(in.RegistrationNumber) == "" && strings.TrimSpace(in.UserID) == "" {
		return invalid("registrationNumber or userId is required")
	}
	return nil
}

// SubmitApplication stores one application per (registration number,
// department). Resubmitting identical content writes nothing.
func (s *Service) SubmitApplication(ctx context.Context, in ApplicationInput) (*store.Application, Outcome, error) {
	if err := in.validate(); err != nil {
		return nil, 0, err
	}

	user, err := s.applicant(ctx, in)
	if err != nil {
		return nil, 0, err
	}

	app := store.Application{
		UserID:             in.UserID,
		Name:               strings.TrimSpace(in.Name),
		Email:              strings.ToLower(strings.TrimSpace(in.Email)),
		Phone:              strings.TrimSpace(in.Phone),
		RegistrationNumber: strings.TrimSpace(in.RegistrationNumber),
		College:            strings.TrimSpace(in.College),
		Year:               strings.TrimSpace(in.Year),
		Department:         in.Department,
		Answers:            in.Answers,
	}
	if user != nil {
		fillFromUser(&app, user)
	}
	if app.RegistrationNumber == "" {
		return nil, 0, invalid("no user found for userId %q", in.UserID)
	}
	app.LastHash = fingerprint.Application(app)

	existing, err := s.apps.GetApplication(ctx, app.RegistrationNumber, app.Department)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return nil, 0, err
	}

	now := s.now().UTC()
	if existing == nil {
		app.CreatedAt = now
		app.LastUpdated = now
		if err := s.apps.CreateApplication(ctx, &app); err != nil {
			return nil, 0, err
		}
		logger.Log.Info("Application created",
			zap.String("regNo", app.RegistrationNumber),
			zap.String("department", app.Department),
		)
		s.sendThankYouAsync(app.Email, app.Name)
		return &app, Created, nil
	}

	if existing.LastHash == app.LastHash {
		return existing, Unchanged, nil
	}

	app.ID = existing.ID
	app.CreatedAt = existing.CreatedAt
	app.LastUpdated = now
	if app.UserID == "" {
		app.UserID = existing.UserID
	}
	if err := s.apps.UpdateApplication(ctx, &app); err != nil {
		return nil, 0, err
	}
	logger.Log.Info("Application updated",
		zap.String("regNo", app.RegistrationNumber),
		zap.String("department", app.Department),
	)
	return &app, Updated, nil
}

// applicant resolves the submitting user, by userId first. A missing user is
// not an error when the registration number was given.
func (s *Service) applicant(ctx context.Context, in ApplicationInput) (*store.User, error) {
	var (
		u   *store.User
		err error
	)
	switch {
	case strings.TrimSpace(in.UserID) != "":
		u, err = s.users.GetUserByUserID(ctx, strings.TrimSpace(in.UserID))
	default:
		u, err = s.users.GetUserByRegNo(ctx, strings.TrimSpace(in.RegistrationNumber))
	}
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	return u, err
}

func fillFromUser(app *store.Application, u *store.User) {
	if app.UserID == "" {
		app.UserID = u.UserID
	}
	if app.RegistrationNumber == "" {
		app.RegistrationNumber = u.RegNo
	}
	if app.Name == "" {
		app.Name = u.FullName()
	}
	if app.Email == "" {
		app.Email = u.Email
	}
	if app.Phone == "" {
		app.Phone = u.Phone
	}
	if app.College == "" {
		app.College = u.College
	}
	if app.Year == "" {
		app.Year = u.Year
	}
}

func (s *Service) sendThankYouAsync(email, name string) {
	if email == "" || s.mailer == nil {
		return
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := s.mailer.ThankYou(ctx, email, name); err != nil {
			logger.Log.Error("Failed to send thank-you mail", zap.String("email", email), zap.Error(err))
		}
	}()
}

// SendThankYou sends the confirmation mail synchronously.
func (s *Service) SendThankYou(ctx context.Context, email, name string) error {
	email, name = strings.TrimSpace(email), strings.TrimSpace(name)
	if email == "" || name == "" {
		return invalid("email and name are required")
	}
	return s.mailer.ThankYou(ctx, email, name)
}

// ItemResult is the outcome of one element of a bulk request.
type ItemResult struct {
	ID     string `json:"id"`
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

// SendUnfilledEmails reminds each user who has not applied yet. A failure
// for one user is recorded in its result and does not stop the others.
func (s *Service) SendUnfilledEmails(ctx context.Context, users []store.User) ([]ItemResult, error) {
	if len(users) == 0 {
		return nil, invalid("no users provided")
	}

	results := make([]ItemResult, 0, len(users))
	for _, u := range users {
		res := ItemResult{ID: u.ID.Hex()}
		if err := s.remind(ctx, u); err != nil {
			logger.Log.Warn("Reminder failed", zap.String("id", res.ID), zap.Error(err))
			res.Status = string(store.EmailError)
			res.Error = err.Error()
		} else {
			res.Status = string(store.EmailSuccess)
		}
		results = append(results, res)
	}
	return results, nil
}

func (s *Service) remind(ctx context.Context, u store.User) error {
	if u.ID.IsZero() {
		return errors.New("missing user id")
	}
	if u.Email == "" {
		stored, err := s.users.GetUserByRegNo(ctx, u.RegNo)
		if err != nil {
			return fmt.Errorf("no email for user: %w", err)
		}
		u.Email, u.FirstName, u.LastName = stored.Email, stored.FirstName, stored.LastName
	}
	if err := s.users.UpdateEmailStatus(ctx, u.ID, store.EmailPending, nil); err != nil {
		return err
	}

	sendErr := s.mailer.Reminder(ctx, u.Email, u.FullName())

	now := s.now().UTC()
	status := store.EmailSuccess
	if sendErr != nil {
		status = store.EmailError
	}
	if err := s.users.UpdateEmailStatus(ctx, u.ID, status, &now); err != nil {
		logger.Log.Error("Failed to record email status", zap.String("id", u.ID.Hex()), zap.Error(err))
	}
	return sendErr
}

// AddUsersToSheet appends the given users to the final sheet and marks them synced.
func (s *Service) AddUsersToSheet(ctx context.Context, users []store.User) ([]ItemResult, error) {
	if len(users) == 0 {
		return nil, invalid("no users provided")
	}
	if err := s.sheets.EnsureHeaders(ctx, s.finalSheet, FinalSheetHeaders); err != nil {
		return nil, err
	}

	now := s.now().UTC()
	synced := now.Format(time.RFC3339)
	rows := make([][]string, 0, len(users))
	ids := make([]primitive.ObjectID, 0, len(users))
	for _, u := range users {
		rows = append(rows, []string{
			u.FirstName, u.LastName, u.RegNo, u.College, u.Year,
			u.Email, u.Phone, formatDateAdded(u.CreatedAt), synced,
		})
		if !u.ID.IsZero() {
			ids = append(ids, u.ID)
		}
	}

	if err := s.sheets.AppendRows(ctx, s.finalSheet, rows); err != nil {
		return nil, err
	}
	if err := s.users.MarkSheetSynced(ctx, ids, now); err != nil {
		return nil, err
	}

	results := make([]ItemResult, 0, len(users))
	for _, u := range users {
		results = append(results, ItemResult{ID: u.ID.Hex(), Status: "success"})
	}
	return results, nil
}

// formatDateAdded renders dd/mm/yy; the zero time renders empty.
func formatDateAdded(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format("02/01/06")
}

func (s *Service) ExportUsers(ctx context.Context) (any, error) {
	return s.users.ListUsers(ctx)
}

// ApplicationWithUser is an application plus the user sharing its
// registration number, if any.
type ApplicationWithUser struct {
	store.Application
	UserDetails *store.User `json:"userDetails"`
}

func (s *Service) ExportApplications(ctx context.Context) (any, error) {
	apps, err := s.apps.ListApplications(ctx)
	if err != nil {
		return nil, err
	}
	users, err := s.users.ListUsers(ctx)
	if err != nil {
		return nil, err
	}
	byRegNo := make(map[string]*store.User, len(users))
	for i := range users {
		byRegNo[users[i].RegNo] = &users[i]
	}

	out := make([]ApplicationWithUser, 0, len(apps))
	for _, a := range apps {
		out = append(out, ApplicationWithUser{Application: a, UserDetails: byRegNo[a.RegistrationNumber]})
	}
	return out, nil
}
