package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
)

// ErrDuplicateResponse is returned by InsertResponse when the (form,
// submitter) uniqueness constraint rejects the row.
var ErrDuplicateResponse = errors.New("response already exists for form and submitter")

// ErrUsernameTaken is returned by CreateUser on a username or email clash.
var ErrUsernameTaken = errors.New("username or email already registered")

const uniqueViolation = "23505"

type PostgresStore struct {
	db          *sql.DB
	maxPageSize int
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db, maxPageSize: DefaultMaxPage}
}

// SetMaxPageSize caps page sizes requested through list queries.
func (s *PostgresStore) SetMaxPageSize(size int) {
	if size > 0 {
		s.maxPageSize = size
	}
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *PostgresStore) CreateUser(ctx context.Context, user User) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (id, username, email, password_hash, role)
		VALUES ($1, $2, NULLIF($3, ''), $4, $5)
	`, user.ID, user.Username, user.Email, user.PasswordHash, user.Role)
	if isUniqueViolation(err) {
		return ErrUsernameTaken
	}
	if err != nil {
		return fmt.Errorf("insert user: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetUserByID(ctx context.Context, userID string) (User, error) {
	if !validUUID(userID) {
		return User{}, sql.ErrNoRows
	}
	return s.scanUser(s.db.QueryRowContext(ctx, `
		SELECT id, username, COALESCE(email, ''), password_hash, role, created_at
		FROM users WHERE id=$1
	`, userID))
}

func (s *PostgresStore) GetUserByUsername(ctx context.Context, username string) (User, error) {
	return s.scanUser(s.db.QueryRowContext(ctx, `
		SELECT id, username, COALESCE(email, ''), password_hash, role, created_at
		FROM users WHERE LOWER(username)=LOWER($1)
	`, strings.TrimSpace(username)))
}

func (s *PostgresStore) scanUser(row *sql.Row) (User, error) {
	var user User
	err := row.Scan(&user.ID, &user.Username, &user.Email, &user.PasswordHash, &user.Role, &user.CreatedAt)
	if err != nil {
		return User{}, err
	}
	return user, nil
}

func (s *PostgresStore) ResponseExists(ctx context.Context, formID, userID string) (bool, error) {
	if !validUUID(userID) {
		return false, nil
	}
	var exists bool
	err := s.db.QueryRowContext(ctx, `
		SELECT EXISTS(SELECT 1 FROM responses WHERE form_id=$1 AND submitted_by=$2)
	`, formID, userID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check existing response: %w", err)
	}
	return exists, nil
}

func (s *PostgresStore) CountResponses(ctx context.Context, formID string) (int, error) {
	var count int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM responses WHERE form_id=$1`, formID).Scan(&count); err != nil {
		return 0, fmt.Errorf("count responses: %w", err)
	}
	return count, nil
}

func (s *PostgresStore) InsertResponse(ctx context.Context, item Response) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO responses (id, form_id, submitted_by, submitted_at, ip_address, user_agent)
		VALUES ($1, $2, $3, $4, NULLIF($5, ''), NULLIF($6, ''))
	`, item.ID, item.FormID, item.SubmittedBy, item.SubmittedAt, item.IPAddress, item.UserAgent)
	if isUniqueViolation(err) {
		return ErrDuplicateResponse
	}
	if err != nil {
		return fmt.Errorf("insert response: %w", err)
	}
	return nil
}

func (s *PostgresStore) InsertAnswer(ctx context.Context, item Answer) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO answers (id, response_id, question_id, question_type, value, position)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, item.ID, item.ResponseID, item.QuestionID, item.QuestionType, item.Value, item.Position)
	if err != nil {
		return fmt.Errorf("insert answer: %w", err)
	}
	return nil
}

func (s *PostgresStore) InsertFile(ctx context.Context, item File) error {
	var content []byte
	if item.StorageKey == "" {
		content = item.Content
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO files (id, answer_id, file_name, mime_type, size_bytes, content, storage_key)
		VALUES ($1, $2, $3, $4, $5, $6, NULLIF($7, ''))
	`, item.ID, item.AnswerID, item.FileName, item.MimeType, item.Size, content, item.StorageKey)
	if err != nil {
		return fmt.Errorf("insert file: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetResponse(ctx context.Context, responseID string) (Response, error) {
	if !validUUID(responseID) {
		return Response{}, sql.ErrNoRows
	}
	var item Response
	err := s.db.QueryRowContext(ctx, `
		SELECT id, form_id, submitted_by, submitted_at, COALESCE(ip_address, ''), COALESCE(user_agent, '')
		FROM responses
		WHERE id=$1
	`, responseID).Scan(&item.ID, &item.FormID, &item.SubmittedBy, &item.SubmittedAt, &item.IPAddress, &item.UserAgent)
	if err != nil {
		return Response{}, err
	}
	return item, nil
}

func (s *PostgresStore) ListAnswers(ctx context.Context, responseID string) ([]Answer, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, response_id, question_id, question_type, value, position
		FROM answers
		WHERE response_id=$1
		ORDER BY position ASC
	`, responseID)
	if err != nil {
		return nil, fmt.Errorf("list answers: %w", err)
	}
	defer rows.Close()

	items := make([]Answer, 0)
	for rows.Next() {
		var item Answer
		var value sql.NullString
		if err := rows.Scan(&item.ID, &item.ResponseID, &item.QuestionID, &item.QuestionType, &value, &item.Position); err != nil {
			return nil, fmt.Errorf("scan answer: %w", err)
		}
		if value.Valid {
			v := value.String
			item.Value = &v
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate answers: %w", err)
	}
	return items, nil
}

// ListResponseFiles returns file metadata for every file answer of a response.
func (s *PostgresStore) ListResponseFiles(ctx context.Context, responseID string) ([]File, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT f.id, f.answer_id, a.response_id, f.file_name, f.mime_type, f.size_bytes, COALESCE(f.storage_key, ''), f.created_at
		FROM files f
		JOIN answers a ON a.id = f.answer_id
		WHERE a.response_id=$1
	`, responseID)
	if err != nil {
		return nil, fmt.Errorf("list response files: %w", err)
	}
	defer rows.Close()

	items := make([]File, 0)
	for rows.Next() {
		var item File
		if err := rows.Scan(&item.ID, &item.AnswerID, &item.ResponseID, &item.FileName, &item.MimeType, &item.Size, &item.StorageKey, &item.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan file: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate files: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) GetFile(ctx context.Context, fileID string) (File, error) {
	if !validUUID(fileID) {
		return File{}, sql.ErrNoRows
	}
	var item File
	err := s.db.QueryRowContext(ctx, `
		SELECT f.id, f.answer_id, a.response_id, f.file_name, f.mime_type, f.size_bytes, f.content, COALESCE(f.storage_key, ''), f.created_at
		FROM files f
		JOIN answers a ON a.id = f.answer_id
		WHERE f.id=$1
	`, fileID).Scan(&item.ID, &item.AnswerID, &item.ResponseID, &item.FileName, &item.MimeType, &item.Size, &item.Content, &item.StorageKey, &item.CreatedAt)
	if err != nil {
		return File{}, err
	}
	return item, nil
}

func (s *PostgresStore) ListResponsesByForm(ctx context.Context, formID string, page Page) ([]ResponseSummary, int, error) {
	return s.listSummaries(ctx, "r.form_id=$1", formID, page)
}

func (s *PostgresStore) ListResponsesByUser(ctx context.Context, userID string, page Page) ([]ResponseSummary, int, error) {
	if !validUUID(userID) {
		return []ResponseSummary{}, 0, nil
	}
	return s.listSummaries(ctx, "r.submitted_by=$1", userID, page)
}

func (s *PostgresStore) listSummaries(ctx context.Context, where string, arg any, page Page) ([]ResponseSummary, int, error) {
	var total int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM responses r WHERE `+where, arg).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count responses: %w", err)
	}

	limit, offset := page.Bounds(s.maxPageSize)
	rows, err := s.db.QueryContext(ctx, `
		SELECT r.id, r.form_id, r.submitted_by, r.submitted_at, COUNT(a.id)
		FROM responses r
		LEFT JOIN answers a ON a.response_id = r.id
		WHERE `+where+`
		GROUP BY r.id
		ORDER BY r.submitted_at DESC, r.id
		LIMIT $2 OFFSET $3
	`, arg, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("list responses: %w", err)
	}
	defer rows.Close()

	items := make([]ResponseSummary, 0)
	for rows.Next() {
		var item ResponseSummary
		if err := rows.Scan(&item.ID, &item.FormID, &item.SubmittedBy, &item.SubmittedAt, &item.AnswerCount); err != nil {
			return nil, 0, fmt.Errorf("scan response summary: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterate responses: %w", err)
	}
	return items, total, nil
}

// ListResponsesWithAnswers loads every response of a form with its answers,
// oldest first.
func (s *PostgresStore) ListResponsesWithAnswers(ctx context.Context, formID string) ([]ResponseWithAnswers, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT r.id, r.form_id, r.submitted_by, r.submitted_at,
			a.id, a.question_id, a.question_type, a.value, a.position
		FROM responses r
		LEFT JOIN answers a ON a.response_id = r.id
		WHERE r.form_id=$1
		ORDER BY r.submitted_at ASC, r.id, a.position ASC
	`, formID)
	if err != nil {
		return nil, fmt.Errorf("list responses with answers: %w", err)
	}
	defer rows.Close()

	items := make([]ResponseWithAnswers, 0)
	index := map[string]int{}
	for rows.Next() {
		var (
			response     Response
			answerID     sql.NullString
			questionID   sql.NullString
			questionType sql.NullString
			value        sql.NullString
			position     sql.NullInt64
		)
		if err := rows.Scan(&response.ID, &response.FormID, &response.SubmittedBy, &response.SubmittedAt,
			&answerID, &questionID, &questionType, &value, &position); err != nil {
			return nil, fmt.Errorf("scan response row: %w", err)
		}
		pos, ok := index[response.ID]
		if !ok {
			pos = len(items)
			index[response.ID] = pos
			items = append(items, ResponseWithAnswers{Response: response, Answers: []Answer{}})
		}
		if !answerID.Valid {
			continue
		}
		answer := Answer{
			ID:           answerID.String,
			ResponseID:   response.ID,
			QuestionID:   questionID.String,
			QuestionType: questionType.String,
			Position:     int(position.Int64),
		}
		if value.Valid {
			v := value.String
			answer.Value = &v
		}
		items[pos].Answers = append(items[pos].Answers, answer)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate response rows: %w", err)
	}
	return items, nil
}

// DeleteResponse removes a response; answers and files cascade.
func (s *PostgresStore) DeleteResponse(ctx context.Context, responseID string) (bool, error) {
	if !validUUID(responseID) {
		return false, nil
	}
	result, err := s.db.ExecContext(ctx, `DELETE FROM responses WHERE id=$1`, responseID)
	if err != nil {
		return false, fmt.Errorf("delete response: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("delete response rows: %w", err)
	}
	return affected > 0, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}

func validUUID(value string) bool {
	_, err := uuid.Parse(strings.TrimSpace(value))
	return err == nil
}
