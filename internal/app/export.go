package app

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/naveen-disprz/formBuilderBackend/internal/export"
	"github.com/naveen-disprz/formBuilderBackend/internal/rbac"
	"github.com/naveen-disprz/formBuilderBackend/internal/schema"
	"github.com/naveen-disprz/formBuilderBackend/internal/store"
)

// ExportResponses renders every response of a form, one row per response and
// one column per question in form order. Only the form's creator may export.
func (s *Service) ExportResponses(ctx context.Context, formID, callerID string, format export.Format) (*export.Result, error) {
	form, err := s.GetForm(ctx, formID)
	if err != nil {
		return nil, err
	}
	if !rbac.CanViewFormResponses(callerID, form) {
		return nil, errResponseUnauthorized()
	}

	responses, err := s.responses.ListResponsesWithAnswers(ctx, form.ID)
	if err != nil {
		return nil, responseDataAccess("list responses for export", err)
	}

	names := map[string]string{}
	table := exportTable(form, responses, func(id string) string {
		return s.userName(ctx, id, names)
	})
	result, err := export.Render(table, format)
	if errors.Is(err, export.ErrUnsupportedFormat) {
		return nil, errValidation(fmt.Sprintf("unsupported export format %q", format))
	}
	if err != nil {
		return nil, fmt.Errorf("export responses: %w", err)
	}
	return result, nil
}

func exportTable(form schema.Form, responses []store.ResponseWithAnswers, name func(string) string) export.Table {
	table := export.Table{Title: form.Title, Columns: make([]string, 0, len(form.Questions))}
	for _, question := range form.Questions {
		table.Columns = append(table.Columns, question.Label)
	}

	for _, response := range responses {
		byQuestion := make(map[string]store.Answer, len(response.Answers))
		for _, answer := range response.Answers {
			byQuestion[answer.QuestionID] = answer
		}
		row := export.Row{
			ResponseID:  response.ID,
			SubmittedBy: name(response.SubmittedBy),
			SubmittedAt: response.SubmittedAt,
			Cells:       make([]string, 0, len(form.Questions)),
		}
		for _, question := range form.Questions {
			answer, ok := byQuestion[question.ID]
			if !ok {
				row.Cells = append(row.Cells, "")
				continue
			}
			row.Cells = append(row.Cells, exportCell(answer))
		}
		table.Rows = append(table.Rows, row)
	}
	return table
}

// exportCell flattens a stored answer for a spreadsheet cell. Choices are
// joined with "; ".
func exportCell(answer store.Answer) string {
	questionType := schema.QuestionType(answer.QuestionType)
	if questionType.IsFile() {
		return "[file]"
	}
	value := schema.DecodeValue(questionType, answer.Value)
	if questionType.IsSelect() {
		return strings.Join(value.Choices, "; ")
	}
	return value.Text
}
