package app

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorKind groups domain errors for callers that do not care about the
// exact code.
type ErrorKind string

const (
	KindValidation   ErrorKind = "validation"
	KindNotFound     ErrorKind = "not_found"
	KindConflict     ErrorKind = "conflict"
	KindUnauthorized ErrorKind = "unauthorized"
	KindDataAccess   ErrorKind = "data_access"
)

const (
	CodeFormNotFound         = "FORM_NOT_FOUND"
	CodeResponseNotFound     = "RESPONSE_NOT_FOUND"
	CodeFileNotFound         = "FILE_NOT_FOUND"
	CodeRevisionNotFound     = "REVISION_NOT_FOUND"
	CodeValidation           = "VALIDATION_ERROR"
	CodeQuestionValidation   = "QUESTION_VALIDATION"
	CodeFormLocked           = "FORM_LOCKED"
	CodeFormUnpublished      = "FORM_UNPUBLISHED"
	CodeDuplicateResponse    = "DUPLICATE_RESPONSE"
	CodeSubmissionInProgress = "SUBMISSION_IN_PROGRESS"
	CodeRequiredQuestion     = "REQUIRED_QUESTION"
	CodeFormUnauthorized     = "FORM_UNAUTHORIZED"
	CodeResponseUnauthorized = "RESPONSE_UNAUTHORIZED"
	CodeFileUnauthorized     = "FILE_UNAUTHORIZED"
	CodeFormDataAccess       = "FORM_DATA_ACCESS"
	CodeResponseDataAccess   = "RESPONSE_DATA_ACCESS"
	CodeUserDataAccess       = "USER_DATA_ACCESS"
)

type DomainError struct {
	Kind    ErrorKind
	Status  int
	Code    string
	Message string
	Details any
	// Cause is set only for data access errors.
	Cause error
}

func (e *DomainError) Error() string {
	if e == nil {
		return ""
	}
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *DomainError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}

func domainError(kind ErrorKind, status int, code, message string, details any) *DomainError {
	return &DomainError{
		Kind:    kind,
		Status:  status,
		Code:    code,
		Message: message,
		Details: details,
	}
}

// IsKind reports whether err is a domain error of the given kind.
func IsKind(err error, kind ErrorKind) bool {
	var domainErr *DomainError
	return errors.As(err, &domainErr) && domainErr.Kind == kind
}

// IsCode reports whether err is a domain error with the given code.
func IsCode(err error, code string) bool {
	var domainErr *DomainError
	return errors.As(err, &domainErr) && domainErr.Code == code
}

func errFormNotFound(formID string) *DomainError {
	return domainError(KindNotFound, http.StatusNotFound, CodeFormNotFound, "Form not found", map[string]any{"formId": formID})
}

func errResponseNotFound(responseID string) *DomainError {
	return domainError(KindNotFound, http.StatusNotFound, CodeResponseNotFound, "Response not found", map[string]any{"responseId": responseID})
}

func errFileNotFound(fileID string) *DomainError {
	return domainError(KindNotFound, http.StatusNotFound, CodeFileNotFound, "File not found", map[string]any{"fileId": fileID})
}

func errRevisionNotFound(formID, hash string) *DomainError {
	return domainError(KindNotFound, http.StatusNotFound, CodeRevisionNotFound, "Revision not found", map[string]any{"formId": formID, "hash": hash})
}

func errValidation(message string) *DomainError {
	return domainError(KindValidation, http.StatusUnprocessableEntity, CodeValidation, message, nil)
}

func errQuestionValidation(message string, index int, questionID string) *DomainError {
	return domainError(KindValidation, http.StatusUnprocessableEntity, CodeQuestionValidation, message, map[string]any{
		"index":      index,
		"questionId": questionID,
	})
}

func errFormLocked(formID string, responses int) *DomainError {
	return domainError(KindConflict, http.StatusConflict, CodeFormLocked, "Form is published and has responses; it can no longer be edited", map[string]any{
		"formId":        formID,
		"responseCount": responses,
	})
}

func errFormUnpublished(formID string) *DomainError {
	return domainError(KindConflict, http.StatusConflict, CodeFormUnpublished, "Form is not accepting responses", map[string]any{"formId": formID})
}

func errDuplicateResponse(formID string) *DomainError {
	return domainError(KindConflict, http.StatusConflict, CodeDuplicateResponse, "You have already responded to this form", map[string]any{"formId": formID})
}

func errSubmissionInProgress(formID string) *DomainError {
	return domainError(KindConflict, http.StatusConflict, CodeSubmissionInProgress, "A submission for this form is already in progress", map[string]any{"formId": formID})
}

func errRequiredQuestion(questionID, label string) *DomainError {
	return domainError(KindConflict, http.StatusUnprocessableEntity, CodeRequiredQuestion, fmt.Sprintf("Question %q is required", label), map[string]any{
		"questionId": questionID,
		"label":      label,
	})
}

func errFormUnauthorized() *DomainError {
	return domainError(KindUnauthorized, http.StatusForbidden, CodeFormUnauthorized, "You are not allowed to manage this form", nil)
}

func errResponseUnauthorized() *DomainError {
	return domainError(KindUnauthorized, http.StatusForbidden, CodeResponseUnauthorized, "You are not allowed to view these responses", nil)
}

func errFileUnauthorized() *DomainError {
	return domainError(KindUnauthorized, http.StatusForbidden, CodeFileUnauthorized, "You are not allowed to view this file", nil)
}

// formDataAccess wraps a form store failure. Domain errors pass through.
func formDataAccess(op string, err error) error {
	return dataAccess(CodeFormDataAccess, "Form storage failure", op, err)
}

// responseDataAccess wraps a response store failure. Domain errors pass
// through.
func responseDataAccess(op string, err error) error {
	return dataAccess(CodeResponseDataAccess, "Response storage failure", op, err)
}

func userDataAccess(op string, err error) error {
	return dataAccess(CodeUserDataAccess, "User storage failure", op, err)
}

func dataAccess(code, message, op string, err error) error {
	if err == nil {
		return nil
	}
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return err
	}
	return &DomainError{
		Kind:    KindDataAccess,
		Status:  http.StatusInternalServerError,
		Code:    code,
		Message: message,
		Cause:   fmt.Errorf("%s: %w", op, err),
	}
}
