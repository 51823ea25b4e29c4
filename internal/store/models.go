package store

import "time"

type User struct {
	ID           string
	Username     string
	Email        string
	PasswordHash string
	Role         string
	CreatedAt    time.Time
}

type Response struct {
	ID          string
	FormID      string
	SubmittedBy string
	SubmittedAt time.Time
	IPAddress   string
	UserAgent   string
}

// Answer stores one submitted value. QuestionType is copied from the question
// at submission time; Value is nil for file answers.
type Answer struct {
	ID           string
	ResponseID   string
	QuestionID   string
	QuestionType string
	Value        *string
	Position     int
}

// File is an uploaded attachment of a file answer. Content is empty when the
// bytes live in object storage under StorageKey, and for metadata listings.
type File struct {
	ID         string
	AnswerID   string
	ResponseID string
	FileName   string
	MimeType   string
	Size       int64
	Content    []byte
	StorageKey string
	CreatedAt  time.Time
}

type ResponseSummary struct {
	ID          string
	FormID      string
	SubmittedBy string
	SubmittedAt time.Time
	AnswerCount int
}

// ResponseWithAnswers is a response plus its answers in submission order.
type ResponseWithAnswers struct {
	Response
	Answers []Answer
}
