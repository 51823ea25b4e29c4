package search

import (
	"log"

	"github.com/naveen-disprz/formBuilderBackend/internal/schema"
)

// Service is the facade the form lifecycle talks to. A nil or unhealthy
// backend turns searches into misses and index writes into no-ops.
type Service struct {
	backend Backend
}

// NewService creates a search service. backend may be nil if Meilisearch is
// not configured.
func NewService(backend Backend) *Service {
	return &Service{backend: backend}
}

func (s *Service) available() bool {
	return s != nil && s.backend != nil && s.backend.Healthy()
}

// Search returns ids and total from the index. ok is false when the index
// could not answer and the caller should query the store instead.
func (s *Service) Search(q Query) (ids []string, total int, ok bool) {
	if !s.available() {
		return nil, 0, false
	}
	ids, total, err := s.backend.Search(q)
	if err != nil {
		log.Printf("search: meilisearch error, falling back to form store: %v", err)
		return nil, 0, false
	}
	if ids == nil {
		ids = []string{}
	}
	return ids, total, true
}

// IndexForm indexes a form (fire-and-forget).
func (s *Service) IndexForm(form schema.Form) {
	if !s.available() {
		return
	}
	record := RecordFromForm(form)
	go func() {
		if err := s.backend.IndexForms([]FormRecord{record}); err != nil {
			log.Printf("search: index form %s: %v", record.ID, err)
		}
	}()
}

// DeleteForm removes a form from the index (fire-and-forget).
func (s *Service) DeleteForm(id string) {
	if !s.available() {
		return
	}
	go func() {
		if err := s.backend.DeleteForm(id); err != nil {
			log.Printf("search: delete form %s: %v", id, err)
		}
	}()
}

// ReindexAll pushes every given form to the index synchronously.
func (s *Service) ReindexAll(forms []schema.Form) {
	if !s.available() || len(forms) == 0 {
		return
	}
	records := make([]FormRecord, 0, len(forms))
	for _, form := range forms {
		records = append(records, RecordFromForm(form))
	}
	if err := s.backend.IndexForms(records); err != nil {
		log.Printf("search: reindex forms: %v", err)
	}
}
