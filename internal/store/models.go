package store

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// EmailStatus tracks the outcome of the last applicant email.
// The empty value is the "not sent yet" state.
type EmailStatus string

const (
	EmailPending EmailStatus = "pending"
	EmailSuccess EmailStatus = "success"
	EmailError   EmailStatus = "error"
)

// Departments lists the values an application may target.
var Departments = []string{"writing", "dev", "ang", "bdpr", "photo", "video"}

// ValidDepartment reports whether d is one of Departments.
func ValidDepartment(d string) bool {
	for _, dep := range Departments {
		if dep == d {
			return true
		}
	}
	return false
}

type User struct {
	ID                primitive.ObjectID `json:"_id" bson:"_id,omitempty"`
	UserID            string             `json:"userId" bson:"userId"`
	FirstName         string             `json:"firstname" bson:"firstname"`
	LastName          string             `json:"lastname" bson:"lastname"`
	RegNo             string             `json:"regNo" bson:"regNo"`
	College           string             `json:"college" bson:"college"`
	Year              string             `json:"year" bson:"year"`
	Email             string             `json:"email" bson:"email"`
	Phone             string             `json:"phone" bson:"phone"`
	CreatedAt         time.Time          `json:"createdAt" bson:"createdAt"`
	LastModified      time.Time          `json:"lastModified" bson:"lastModified"`
	EmailStatus       EmailStatus        `json:"emailStatus" bson:"emailStatus"`
	LastEmailSentAt   *time.Time         `json:"lastEmailSentAt" bson:"lastEmailSentAt"`
	SheetStatus       string             `json:"sheetStatus,omitempty" bson:"sheetStatus,omitempty"`
	LastSheetUpdateAt *time.Time         `json:"lastSheetUpdateAt,omitempty" bson:"lastSheetUpdateAt,omitempty"`
}

// FullName joins first and last name for greetings.
func (u User) FullName() string {
	if u.LastName == "" {
		return u.FirstName
	}
	return u.FirstName + " " + u.LastName
}

type Answer struct {
	QuestionID string `json:"questionId" bson:"questionId"`
	AnswerText string `json:"answerText" bson:"answerText"`
}

// Application holds a denormalized copy of the applicant identity taken at
// submission time; later user edits do not change it.
type Application struct {
	ID                 primitive.ObjectID `json:"_id" bson:"_id,omitempty"`
	UserID             string             `json:"userId" bson:"userId"`
	Name               string             `json:"name" bson:"name"`
	Email              string             `json:"email" bson:"email"`
	Phone              string             `json:"phone" bson:"phone"`
	RegistrationNumber string             `json:"registrationNumber" bson:"registrationNumber"`
	College            string             `json:"college" bson:"college"`
	Year               string             `json:"year" bson:"year"`
	Department         string             `json:"department" bson:"department"`
	Answers            []Answer           `json:"answers" bson:"answers"`
	LastHash           string             `json:"lastHash" bson:"lastHash"`
	CreatedAt          time.Time          `json:"createdAt" bson:"createdAt"`
	LastUpdated        time.Time          `json:"lastUpdated" bson:"lastUpdated"`
}

// ApplicationKey is the lightweight projection used to find applications
// missing from a sheet.
type ApplicationKey struct {
	ID                 primitive.ObjectID `bson:"_id"`
	RegistrationNumber string             `bson:"registrationNumber"`
	Department         string             `bson:"department"`
}

// SyncState is the checkpoint row for one sync stream.
type SyncState struct {
	Stream       string    `db:"stream" bson:"_id" json:"stream"`
	LastSyncTime time.Time `db:"last_sync_time" bson:"lastSyncTime" json:"lastSyncTime"`
	RowsSynced   int64     `db:"rows_synced" bson:"rowsSynced" json:"rowsSynced"`
	Status       string    `db:"status" bson:"status" json:"status"`
	ErrorMessage string    `db:"error_message" bson:"errorMessage,omitempty" json:"errorMessage,omitempty"`
	UpdatedAt    time.Time `db:"updated_at" bson:"updatedAt" json:"updatedAt"`
}

// Conflict records a sheet row and a store record that disagree while
// carrying the same timestamp.
type Conflict struct {
	ID         string    `db:"id" bson:"_id" json:"id"`
	Stream     string    `db:"stream" bson:"stream" json:"stream"`
	Key        string    `db:"record_key" bson:"key" json:"key"`
	StoreData  string    `db:"store_data" bson:"storeData" json:"storeData"`
	SheetData  string    `db:"sheet_data" bson:"sheetData" json:"sheetData"`
	Type       string    `db:"conflict_type" bson:"type" json:"type"`
	DetectedAt time.Time `db:"detected_at" bson:"detectedAt" json:"detectedAt"`
}

type SyncHistory struct {
	ID                string     `db:"id" bson:"_id" json:"id"`
	StartedAt         time.Time  `db:"started_at" bson:"startedAt" json:"startedAt"`
	CompletedAt       *time.Time `db:"completed_at" bson:"completedAt,omitempty" json:"completedAt,omitempty"`
	Trigger           string     `db:"trigger_source" bson:"trigger" json:"trigger"`
	StreamsSynced     string     `db:"streams_synced" bson:"streamsSynced" json:"streamsSynced"`
	TotalRows         int64      `db:"total_rows" bson:"totalRows" json:"totalRows"`
	ConflictsDetected int        `db:"conflicts_detected" bson:"conflictsDetected" json:"conflictsDetected"`
	Status            string     `db:"status" bson:"status" json:"status"`
	ErrorMessage      string     `db:"error_message" bson:"errorMessage,omitempty" json:"errorMessage,omitempty"`
}
