package conversation

import (
	"context"
	"sort"
	"sync"
	"time"
)

// InMemoryStore keeps the conversation aggregate in process memory. Used for
// development without a database and for tests.
type InMemoryStore struct {
	mu             sync.RWMutex
	nextThreadID   int
	nextResponseID int
	threads        map[int]*Thread
	responses      map[int]*ThreadResponse
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		threads:   make(map[int]*Thread),
		responses: make(map[int]*ThreadResponse),
	}
}

func (s *InMemoryStore) CreateThread(_ context.Context, t Thread) (Thread, error) {
	now := time.Now().UTC()
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextThreadID++
	t.ID = s.nextThreadID
	t.CreatedAt = now
	t.UpdatedAt = now
	stored := t.Clone()
	s.threads[t.ID] = &stored
	return t, nil
}

func (s *InMemoryStore) FindThread(_ context.Context, id int) (Thread, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.threads[id]
	if !ok {
		return Thread{}, ErrThreadNotFound
	}
	return t.Clone(), nil
}

func (s *InMemoryStore) ListThreadsByProject(_ context.Context, projectID int) ([]Thread, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Thread, 0, 8)
	for _, t := range s.threads {
		if t.ProjectID == projectID {
			out = append(out, t.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

func (s *InMemoryStore) UpdateThread(_ context.Context, id int, patch ThreadPatch) (Thread, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.threads[id]
	if !ok {
		return Thread{}, ErrThreadNotFound
	}
	if patch.Summary != nil {
		t.Summary = *patch.Summary
	}
	if patch.Questions != nil {
		t.Questions = append([]string(nil), patch.Questions...)
	}
	if patch.QuestionsStatus != nil {
		t.QuestionsStatus = *patch.QuestionsStatus
	}
	if patch.QuestionsError != nil {
		t.QuestionsError = *patch.QuestionsError
	}
	if patch.QuestionsTaskID != nil {
		t.QuestionsTaskID = *patch.QuestionsTaskID
	}
	t.UpdatedAt = time.Now().UTC()
	return t.Clone(), nil
}

func (s *InMemoryStore) DeleteThread(_ context.Context, id int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.threads[id]; !ok {
		return ErrThreadNotFound
	}
	delete(s.threads, id)
	for rid, r := range s.responses {
		if r.ThreadID == id {
			delete(s.responses, rid)
		}
	}
	return nil
}

func (s *InMemoryStore) CreateResponse(_ context.Context, r ThreadResponse) (ThreadResponse, error) {
	now := time.Now().UTC()
	s.mu.Lock()
	defer s.mu.Unlock()
	if r.ThreadID != 0 {
		if _, ok := s.threads[r.ThreadID]; !ok {
			return ThreadResponse{}, ErrThreadNotFound
		}
	}
	s.nextResponseID++
	r.ID = s.nextResponseID
	r.CreatedAt = now
	r.UpdatedAt = now
	stored := r.Clone()
	s.responses[r.ID] = &stored
	return r, nil
}

func (s *InMemoryStore) FindResponse(_ context.Context, id int) (ThreadResponse, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.responses[id]
	if !ok {
		return ThreadResponse{}, ErrResponseNotFound
	}
	return r.Clone(), nil
}

func (s *InMemoryStore) ListResponsesByThread(_ context.Context, threadID int) ([]ThreadResponse, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]ThreadResponse, 0, 8)
	for _, r := range s.responses {
		if r.ThreadID == threadID {
			out = append(out, r.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *InMemoryStore) UpdateResponse(_ context.Context, id int, patch ResponsePatch) (ThreadResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.responses[id]
	if !ok {
		return ThreadResponse{}, ErrResponseNotFound
	}
	applyResponsePatch(r, patch)
	r.UpdatedAt = time.Now().UTC()
	return r.Clone(), nil
}

func applyResponsePatch(r *ThreadResponse, patch ResponsePatch) {
	if patch.SQL != nil {
		r.SQL = *patch.SQL
	}
	if patch.AskingTaskID != nil {
		r.AskingTaskID = *patch.AskingTaskID
	}
	if patch.AskingStatus != nil {
		r.AskingStatus = *patch.AskingStatus
	}
	if patch.AskingError != nil {
		r.AskingError = *patch.AskingError
	}
	if patch.BreakdownDetail != nil {
		d := *patch.BreakdownDetail
		r.BreakdownDetail = &d
	}
	if patch.AnswerDetail != nil {
		d := *patch.AnswerDetail
		r.AnswerDetail = &d
	}
	if patch.ChartDetail != nil {
		d := *patch.ChartDetail
		r.ChartDetail = &d
	}
	if patch.Adjustment != nil {
		a := *patch.Adjustment
		r.Adjustment = &a
	}
}

func (s *InMemoryStore) Close() error { return nil }
