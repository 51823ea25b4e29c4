package app

import (
	"encoding/base64"
	"fmt"
	"mime"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/naveen-disprz/formBuilderBackend/internal/authpw"
	"github.com/naveen-disprz/formBuilderBackend/internal/export"
	"github.com/naveen-disprz/formBuilderBackend/internal/schema"
)

func sessionPayload(session Session) map[string]any {
	return map[string]any{
		"accessToken": session.Token,
		"userId":      session.UserID,
		"userName":    session.UserName,
		"role":        session.Role,
		"expiresAt":   session.ExpiresAt.Unix(),
	}
}

func (s *HTTPServer) handleSignUp(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Username string `json:"username"`
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := decodeBody(w, r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}

	session, err := s.service.SignUp(r.Context(), authpw.SignUpRequest{
		Username: body.Username,
		Email:    body.Email,
		Password: body.Password,
	})
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, sessionPayload(session))
}

func (s *HTTPServer) handleSignIn(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := decodeBody(w, r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}

	session, err := s.service.SignIn(r.Context(), body.Username, body.Password)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sessionPayload(session))
}

func (s *HTTPServer) handleLogout(w http.ResponseWriter, r *http.Request) {
	session, ok := s.requireSession(w, r)
	if !ok {
		return
	}
	if err := s.service.Logout(r.Context(), session); err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *HTTPServer) handleListForms(w http.ResponseWriter, r *http.Request) {
	session, ok := s.requireSession(w, r)
	if !ok {
		return
	}
	page := pageFromQuery(r)
	list, err := s.service.ListForms(r.Context(), ListFormsInput{
		Page:     page.Number,
		PageSize: page.Size,
		Search:   r.URL.Query().Get("search"),
		Role:     session.Role,
	})
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (s *HTTPServer) handleCreateForm(w http.ResponseWriter, r *http.Request) {
	session, ok := s.requireManager(w, r)
	if !ok {
		return
	}
	var def schema.Definition
	if err := decodeBody(w, r, &def); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	form, err := s.service.CreateForm(r.Context(), def, session.UserID)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, form)
}

func (s *HTTPServer) handleGetForm(w http.ResponseWriter, r *http.Request) {
	session, ok := s.requireSession(w, r)
	if !ok {
		return
	}
	form, err := s.service.ViewForm(r.Context(), chi.URLParam(r, "formID"), session.Role)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, form)
}

func (s *HTTPServer) handleUpdateForm(w http.ResponseWriter, r *http.Request) {
	session, ok := s.requireManager(w, r)
	if !ok {
		return
	}
	var def schema.Definition
	if err := decodeBody(w, r, &def); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	form, err := s.service.UpdateForm(r.Context(), chi.URLParam(r, "formID"), def, session.UserID)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, form)
}

func (s *HTTPServer) handleDeleteForm(w http.ResponseWriter, r *http.Request) {
	session, ok := s.requireManager(w, r)
	if !ok {
		return
	}
	formID := chi.URLParam(r, "formID")
	deleted, err := s.service.DeleteForm(r.Context(), formID, session.UserID)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	if !deleted {
		s.writeDomainError(w, r, errFormNotFound(formID))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"deleted": true})
}

func (s *HTTPServer) handlePublishForm(w http.ResponseWriter, r *http.Request) {
	session, ok := s.requireManager(w, r)
	if !ok {
		return
	}
	changed, err := s.service.PublishForm(r.Context(), chi.URLParam(r, "formID"), session.UserID)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"published": true, "changed": changed})
}

func (s *HTTPServer) handleSetVisibility(w http.ResponseWriter, r *http.Request) {
	session, ok := s.requireManager(w, r)
	if !ok {
		return
	}
	var body struct {
		Visible *bool `json:"visible"`
	}
	if err := decodeBody(w, r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	if body.Visible == nil {
		s.writeDomainError(w, r, errValidation("visible is required"))
		return
	}
	changed, err := s.service.SetFormVisibility(r.Context(), chi.URLParam(r, "formID"), *body.Visible, session.UserID)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"visibility": *body.Visible, "changed": changed})
}

func (s *HTTPServer) handleListRevisions(w http.ResponseWriter, r *http.Request) {
	if _, ok := s.requireManager(w, r); !ok {
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	revisions, err := s.service.ListFormRevisions(r.Context(), chi.URLParam(r, "formID"), limit)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": revisions})
}

func (s *HTTPServer) handleGetRevision(w http.ResponseWriter, r *http.Request) {
	if _, ok := s.requireManager(w, r); !ok {
		return
	}
	snapshot, err := s.service.GetFormRevision(r.Context(), chi.URLParam(r, "formID"), chi.URLParam(r, "hash"))
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, snapshot)
}

func (s *HTTPServer) handleSubmitResponse(w http.ResponseWriter, r *http.Request) {
	session, ok := s.requireSession(w, r)
	if !ok {
		return
	}
	var body struct {
		Answers []AnswerInput `json:"answers"`
	}
	if err := decodeBody(w, r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	result, err := s.service.SubmitResponse(r.Context(), chi.URLParam(r, "formID"), body.Answers, session.UserID, clientMeta(r))
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, result)
}

func (s *HTTPServer) handleListFormResponses(w http.ResponseWriter, r *http.Request) {
	session, ok := s.requireSession(w, r)
	if !ok {
		return
	}
	list, err := s.service.ListFormResponses(r.Context(), chi.URLParam(r, "formID"), pageFromQuery(r), session.UserID)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (s *HTTPServer) handleExportResponses(w http.ResponseWriter, r *http.Request) {
	session, ok := s.requireSession(w, r)
	if !ok {
		return
	}
	format, err := export.ParseFormat(r.URL.Query().Get("format"))
	if err != nil {
		s.writeDomainError(w, r, errValidation("format must be csv or json"))
		return
	}
	result, err := s.service.ExportResponses(r.Context(), chi.URLParam(r, "formID"), session.UserID, format)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", result.MimeType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", result.Filename))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(result.Data)
}

func (s *HTTPServer) handleListMyResponses(w http.ResponseWriter, r *http.Request) {
	session, ok := s.requireSession(w, r)
	if !ok {
		return
	}
	list, err := s.service.ListUserResponses(r.Context(), session.UserID, pageFromQuery(r))
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (s *HTTPServer) handleGetResponse(w http.ResponseWriter, r *http.Request) {
	session, ok := s.requireSession(w, r)
	if !ok {
		return
	}
	detail, err := s.service.GetResponse(r.Context(), chi.URLParam(r, "responseID"), session.UserID, session.Role)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, detail)
}

func (s *HTTPServer) handleGetFile(w http.ResponseWriter, r *http.Request) {
	session, ok := s.requireSession(w, r)
	if !ok {
		return
	}
	file, err := s.service.GetFile(r.Context(), chi.URLParam(r, "fileID"), session.UserID, session.Role)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	if r.URL.Query().Get("raw") == "1" {
		w.Header().Set("Content-Type", downloadContentType(file.MimeType))
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", file.FileName))
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(file.Content)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"id":         file.ID,
		"responseId": file.ResponseID,
		"fileName":   file.FileName,
		"mimeType":   file.MimeType,
		"size":       file.Size,
		"createdAt":  file.CreatedAt,
		"content":    base64.StdEncoding.EncodeToString(file.Content),
	})
}

// inlineContentTypes are uploaded types served under their own content type.
// Anything else is sent as opaque bytes.
var inlineContentTypes = map[string]bool{
	"text/plain":      true,
	"text/csv":        true,
	"application/pdf": true,
	"image/png":       true,
	"image/jpeg":      true,
	"image/gif":       true,
	"image/webp":      true,
}

func downloadContentType(declared string) string {
	mediaType, _, err := mime.ParseMediaType(declared)
	if err != nil || !inlineContentTypes[mediaType] {
		return defaultMimeType
	}
	return mediaType
}
