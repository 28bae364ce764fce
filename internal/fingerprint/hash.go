// Package fingerprint computes stable content digests used to skip no-op writes.
package fingerprint

import (
	"crypto/md5"
	"encoding/hex"
	"encoding/json"

	"recruitment-sync-service/internal/store"
)

type answer struct {
	QuestionID string `json:"questionId"`
	AnswerText string `json:"answerText"`
}

// content fixes the field order of the hashed document.
type content struct {
	Name               string   `json:"name"`
	Email              string   `json:"email"`
	Phone              string   `json:"phone"`
	RegistrationNumber string   `json:"registrationNumber"`
	College            string   `json:"college"`
	Year               string   `json:"year"`
	Department         string   `json:"department"`
	Answers            []answer `json:"answers"`
}

// Application returns the hex MD5 of a's identity fields and ordered answers.
// Bookkeeping fields (ids, timestamps, lastHash) do not contribute.
func Application(a store.Application) string {
	c := content{
		Name:               a.Name,
		Email:              a.Email,
		Phone:              a.Phone,
		RegistrationNumber: a.RegistrationNumber,
		College:            a.College,
		Year:               a.Year,
		Department:         a.Department,
		Answers:            make([]answer, 0, len(a.Answers)),
	}
	for _, ans := range a.Answers {
		c.Answers = append(c.Answers, answer{QuestionID: ans.QuestionID, AnswerText: ans.AnswerText})
	}

	// marshalling plain strings cannot fail
	b, _ := json.Marshal(c)
	sum := md5.Sum(b)
	return hex.EncodeToString(sum[:])
}
