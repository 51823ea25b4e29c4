package app

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/naveen-disprz/formBuilderBackend/internal/blob"
	"github.com/naveen-disprz/formBuilderBackend/internal/email"
	"github.com/naveen-disprz/formBuilderBackend/internal/formstore"
	"github.com/naveen-disprz/formBuilderBackend/internal/rbac"
	"github.com/naveen-disprz/formBuilderBackend/internal/schema"
	"github.com/naveen-disprz/formBuilderBackend/internal/store"
	"github.com/naveen-disprz/formBuilderBackend/internal/util"
)

const defaultMimeType = "application/octet-stream"

// AnswerInput is one submitted answer. Value is kept raw so each question type
// can encode it its own way.
type AnswerInput struct {
	QuestionID string          `json:"questionId"`
	Value      json.RawMessage `json:"value"`
	File       *FileInput      `json:"file,omitempty"`
}

// FileInput carries an upload inline; Content is base64 in JSON.
type FileInput struct {
	FileName string `json:"fileName"`
	MimeType string `json:"mimeType"`
	Size     int64  `json:"size"`
	Content  []byte `json:"content"`
}

type ClientMeta struct {
	IPAddress string
	UserAgent string
}

type SubmissionResult struct {
	ResponseID  string    `json:"responseId"`
	SubmittedAt time.Time `json:"submittedAt"`
}

type ResponseSummary struct {
	ID            string    `json:"id"`
	FormID        string    `json:"formId"`
	FormTitle     string    `json:"formTitle,omitempty"`
	SubmittedBy   string    `json:"submittedBy"`
	SubmitterName string    `json:"submitterName"`
	SubmittedAt   time.Time `json:"submittedAt"`
	AnswerCount   int       `json:"answerCount"`
}

type ResponseList struct {
	Items    []ResponseSummary `json:"items"`
	Total    int               `json:"total"`
	Page     int               `json:"page"`
	PageSize int               `json:"pageSize"`
}

type FileMeta struct {
	ID        string    `json:"id"`
	FileName  string    `json:"fileName"`
	MimeType  string    `json:"mimeType"`
	Size      int64     `json:"size"`
	CreatedAt time.Time `json:"createdAt"`
}

type AnswerDetail struct {
	ID            string              `json:"id"`
	QuestionID    string              `json:"questionId"`
	QuestionLabel string              `json:"questionLabel"`
	Type          schema.QuestionType `json:"type"`
	Value         schema.Value        `json:"value"`
	File          *FileMeta           `json:"file,omitempty"`
}

type ResponseDetail struct {
	ID            string         `json:"id"`
	FormID        string         `json:"formId"`
	FormTitle     string         `json:"formTitle,omitempty"`
	SubmittedBy   string         `json:"submittedBy"`
	SubmitterName string         `json:"submitterName"`
	SubmittedAt   time.Time      `json:"submittedAt"`
	Answers       []AnswerDetail `json:"answers"`
}

// FileDownload is a file with its content loaded.
type FileDownload struct {
	FileMeta
	ResponseID string `json:"responseId"`
	Content    []byte `json:"content"`
}

// SubmitResponse records one submission by submitterID. Rows are written in
// order: the response, then each answer followed by its file. A failure part
// way through leaves the rows already written.
func (s *Service) SubmitResponse(ctx context.Context, formID string, answers []AnswerInput, submitterID string, meta ClientMeta) (SubmissionResult, error) {
	form, err := s.GetForm(ctx, formID)
	if err != nil {
		return SubmissionResult{}, err
	}
	if !form.IsPublished {
		return SubmissionResult{}, errFormUnpublished(form.ID)
	}

	if s.locks != nil {
		release, ok, err := s.locks.Acquire(ctx, submissionLockKey(form.ID, submitterID), s.cfg.SubmissionLockTTL)
		switch {
		case err != nil:
			log.Printf("forms: submission lock for %s unavailable, relying on unique constraint: %v", form.ID, err)
		case !ok:
			return SubmissionResult{}, errSubmissionInProgress(form.ID)
		default:
			defer release()
		}
	}

	exists, err := s.responses.ResponseExists(ctx, form.ID, submitterID)
	if err != nil {
		return SubmissionResult{}, responseDataAccess("check existing response", err)
	}
	if exists {
		return SubmissionResult{}, errDuplicateResponse(form.ID)
	}

	if err := checkRequired(form, answers); err != nil {
		return SubmissionResult{}, err
	}

	response := store.Response{
		ID:          util.NewUUID(),
		FormID:      form.ID,
		SubmittedBy: submitterID,
		SubmittedAt: s.now(),
		IPAddress:   strings.TrimSpace(meta.IPAddress),
		UserAgent:   strings.TrimSpace(meta.UserAgent),
	}
	if err := s.responses.InsertResponse(ctx, response); err != nil {
		if errors.Is(err, store.ErrDuplicateResponse) {
			return SubmissionResult{}, errDuplicateResponse(form.ID)
		}
		return SubmissionResult{}, responseDataAccess("insert response", err)
	}

	position := 0
	for _, input := range answers {
		question, ok := form.Question(strings.TrimSpace(input.QuestionID))
		if !ok {
			continue
		}
		answer := store.Answer{
			ID:           util.NewUUID(),
			ResponseID:   response.ID,
			QuestionID:   question.ID,
			QuestionType: string(question.Type),
			Position:     position,
		}
		if value, ok := schema.EncodeValue(question.Type, input.Value); ok {
			answer.Value = &value
		}
		if err := s.responses.InsertAnswer(ctx, answer); err != nil {
			return SubmissionResult{}, responseDataAccess("insert answer", err)
		}
		position++

		if input.File == nil {
			continue
		}
		if err := s.storeFile(ctx, form.ID, response.ID, answer.ID, *input.File); err != nil {
			return SubmissionResult{}, err
		}
	}

	result := SubmissionResult{ResponseID: response.ID, SubmittedAt: response.SubmittedAt}
	s.notifyCreator(form, submitterID, result)
	return result, nil
}

func submissionLockKey(formID, submitterID string) string {
	return "submission:" + formID + ":" + submitterID
}

// checkRequired fails on the first required non-file question in form order
// without a non-blank answer.
func checkRequired(form schema.Form, answers []AnswerInput) error {
	answered := make(map[string]struct{}, len(answers))
	for _, input := range answers {
		if !schema.IsBlank(input.Value) {
			answered[strings.TrimSpace(input.QuestionID)] = struct{}{}
		}
	}
	for _, question := range form.Questions {
		if !question.Required || question.Type.IsFile() {
			continue
		}
		if _, ok := answered[question.ID]; !ok {
			return errRequiredQuestion(question.ID, question.Label)
		}
	}
	return nil
}

// storeFile writes the file row for an answer. With object storage configured
// the bytes go to the bucket and the row keeps the key; a failed upload keeps
// the bytes inline instead.
func (s *Service) storeFile(ctx context.Context, formID, responseID, answerID string, input FileInput) error {
	file := store.File{
		ID:        util.NewUUID(),
		AnswerID:  answerID,
		FileName:  strings.TrimSpace(input.FileName),
		MimeType:  strings.TrimSpace(input.MimeType),
		Size:      input.Size,
		Content:   input.Content,
		CreatedAt: s.now(),
	}
	if file.FileName == "" {
		file.FileName = "upload"
	}
	if file.MimeType == "" {
		file.MimeType = defaultMimeType
	}
	if len(input.Content) > 0 {
		file.Size = int64(len(input.Content))
	}

	if s.blobs != nil && len(file.Content) > 0 {
		key := blob.ObjectKey(formID, responseID, file.ID)
		if err := s.blobs.Put(ctx, key, file.Content, file.MimeType); err != nil {
			log.Printf("forms: upload file %s to object storage, storing inline: %v", file.ID, err)
		} else {
			file.StorageKey = key
		}
	}

	if err := s.responses.InsertFile(ctx, file); err != nil {
		return responseDataAccess("insert file", err)
	}
	return nil
}

// notifyCreator mails the form creator about a new response. It never fails
// the submission.
func (s *Service) notifyCreator(form schema.Form, submitterID string, result SubmissionResult) {
	if s.notifier == nil || !s.notifier.IsConfigured() {
		return
	}
	s.async(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		creator, err := s.users.GetUserByID(ctx, form.CreatedBy)
		if err != nil {
			log.Printf("forms: notify creator of form %s: %v", form.ID, err)
			return
		}
		if strings.TrimSpace(creator.Email) == "" {
			return
		}
		err = s.notifier.SendResponseNotification(creator.Email, email.ResponseNotification{
			RecipientName: creator.Username,
			FormTitle:     form.Title,
			SubmitterName: s.userName(ctx, submitterID, map[string]string{}),
			SubmittedAt:   result.SubmittedAt,
			ResponseID:    result.ResponseID,
		})
		if err != nil {
			log.Printf("forms: send response notification for %s: %v", result.ResponseID, err)
		}
	})
}

// ListFormResponses pages through a form's responses, newest first. Only the
// form's creator may list them.
func (s *Service) ListFormResponses(ctx context.Context, formID string, page store.Page, callerID string) (ResponseList, error) {
	form, err := s.GetForm(ctx, formID)
	if err != nil {
		return ResponseList{}, err
	}
	if !rbac.CanViewFormResponses(callerID, form) {
		return ResponseList{}, errResponseUnauthorized()
	}

	rows, total, err := s.responses.ListResponsesByForm(ctx, form.ID, page)
	if err != nil {
		return ResponseList{}, responseDataAccess("list form responses", err)
	}

	names := map[string]string{}
	items := make([]ResponseSummary, 0, len(rows))
	for _, row := range rows {
		items = append(items, ResponseSummary{
			ID:            row.ID,
			FormID:        row.FormID,
			FormTitle:     form.Title,
			SubmittedBy:   row.SubmittedBy,
			SubmitterName: s.userName(ctx, row.SubmittedBy, names),
			SubmittedAt:   row.SubmittedAt,
			AnswerCount:   row.AnswerCount,
		})
	}
	return s.responseList(items, total, page), nil
}

// ListUserResponses pages through the caller's own submissions. Form titles
// are filled in when the form store answers.
func (s *Service) ListUserResponses(ctx context.Context, userID string, page store.Page) (ResponseList, error) {
	rows, total, err := s.responses.ListResponsesByUser(ctx, userID, page)
	if err != nil {
		return ResponseList{}, responseDataAccess("list user responses", err)
	}

	formIDs := make([]string, 0, len(rows))
	for _, row := range rows {
		formIDs = append(formIDs, row.FormID)
	}
	titles := map[string]string{}
	if len(formIDs) > 0 {
		forms, err := s.forms.GetMany(ctx, formIDs)
		if err != nil {
			log.Printf("forms: load titles for user %s responses: %v", userID, err)
		}
		for id, form := range forms {
			titles[id] = form.Title
		}
	}

	names := map[string]string{}
	items := make([]ResponseSummary, 0, len(rows))
	for _, row := range rows {
		items = append(items, ResponseSummary{
			ID:            row.ID,
			FormID:        row.FormID,
			FormTitle:     titles[row.FormID],
			SubmittedBy:   row.SubmittedBy,
			SubmitterName: s.userName(ctx, row.SubmittedBy, names),
			SubmittedAt:   row.SubmittedAt,
			AnswerCount:   row.AnswerCount,
		})
	}
	return s.responseList(items, total, page), nil
}

func (s *Service) responseList(items []ResponseSummary, total int, page store.Page) ResponseList {
	limit, offset := page.Bounds(s.cfg.MaxPageSize)
	return ResponseList{Items: items, Total: total, Page: offset/limit + 1, PageSize: limit}
}

// GetResponse returns a response with its answers decoded per question type.
func (s *Service) GetResponse(ctx context.Context, responseID, callerID string, role rbac.Role) (ResponseDetail, error) {
	response, err := s.responses.GetResponse(ctx, responseID)
	if errors.Is(err, sql.ErrNoRows) {
		return ResponseDetail{}, errResponseNotFound(responseID)
	}
	if err != nil {
		return ResponseDetail{}, responseDataAccess("get response", err)
	}

	form, err := s.owningForm(ctx, response.FormID)
	if err != nil {
		return ResponseDetail{}, err
	}
	if !rbac.CanViewResponse(callerID, role, responseRef(response), form) {
		return ResponseDetail{}, errResponseUnauthorized()
	}

	answers, err := s.responses.ListAnswers(ctx, response.ID)
	if err != nil {
		return ResponseDetail{}, responseDataAccess("list answers", err)
	}
	files, err := s.responses.ListResponseFiles(ctx, response.ID)
	if err != nil {
		return ResponseDetail{}, responseDataAccess("list response files", err)
	}
	filesByAnswer := make(map[string]store.File, len(files))
	for _, file := range files {
		filesByAnswer[file.AnswerID] = file
	}

	detail := ResponseDetail{
		ID:            response.ID,
		FormID:        response.FormID,
		SubmittedBy:   response.SubmittedBy,
		SubmitterName: s.userName(ctx, response.SubmittedBy, map[string]string{}),
		SubmittedAt:   response.SubmittedAt,
		Answers:       make([]AnswerDetail, 0, len(answers)),
	}
	if form != nil {
		detail.FormTitle = form.Title
	}
	for _, answer := range answers {
		questionType := schema.QuestionType(answer.QuestionType)
		item := AnswerDetail{
			ID:            answer.ID,
			QuestionID:    answer.QuestionID,
			QuestionLabel: answer.QuestionID,
			Type:          questionType,
			Value:         schema.DecodeValue(questionType, answer.Value),
		}
		if form != nil {
			if question, ok := form.Question(answer.QuestionID); ok {
				item.QuestionLabel = question.Label
			}
		}
		if file, ok := filesByAnswer[answer.ID]; ok {
			meta := fileMeta(file)
			item.File = &meta
		}
		detail.Answers = append(detail.Answers, item)
	}
	return detail, nil
}

// GetFile returns an uploaded file to callers allowed to see its response.
func (s *Service) GetFile(ctx context.Context, fileID, callerID string, role rbac.Role) (FileDownload, error) {
	file, err := s.responses.GetFile(ctx, fileID)
	if errors.Is(err, sql.ErrNoRows) {
		return FileDownload{}, errFileNotFound(fileID)
	}
	if err != nil {
		return FileDownload{}, responseDataAccess("get file", err)
	}

	response, err := s.responses.GetResponse(ctx, file.ResponseID)
	if errors.Is(err, sql.ErrNoRows) {
		return FileDownload{}, errFileNotFound(fileID)
	}
	if err != nil {
		return FileDownload{}, responseDataAccess("get file response", err)
	}
	form, err := s.owningForm(ctx, response.FormID)
	if err != nil {
		return FileDownload{}, err
	}
	if !rbac.CanViewFile(callerID, role, responseRef(response), form) {
		return FileDownload{}, errFileUnauthorized()
	}

	content := file.Content
	if file.StorageKey != "" {
		if s.blobs == nil {
			return FileDownload{}, responseDataAccess("read file content", fmt.Errorf("file %s is in object storage but none is configured", file.ID))
		}
		content, err = s.blobs.Get(ctx, file.StorageKey)
		if err != nil {
			return FileDownload{}, responseDataAccess("read file content", err)
		}
	}
	if content == nil {
		content = []byte{}
	}
	return FileDownload{FileMeta: fileMeta(file), ResponseID: file.ResponseID, Content: content}, nil
}

// owningForm returns nil when the response's form is gone.
func (s *Service) owningForm(ctx context.Context, formID string) (*schema.Form, error) {
	form, err := s.forms.Get(ctx, formID)
	if errors.Is(err, formstore.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, formDataAccess("get response form", err)
	}
	return &form, nil
}

func responseRef(response store.Response) rbac.ResponseRef {
	return rbac.ResponseRef{ID: response.ID, FormID: response.FormID, SubmittedBy: response.SubmittedBy}
}

func fileMeta(file store.File) FileMeta {
	return FileMeta{
		ID:        file.ID,
		FileName:  file.FileName,
		MimeType:  file.MimeType,
		Size:      file.Size,
		CreatedAt: file.CreatedAt,
	}
}
