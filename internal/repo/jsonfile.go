package repo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"ideaflow/internal/domain"
)

// JSONStore keeps every initiative in one JSON document that is rewritten
// wholesale on each mutation. Suitable for a single process.
type JSONStore struct {
	Path string

	mu sync.Mutex
}

type jsonDocument struct {
	Initiatives []domain.Initiative `json:"initiatives"`
}

func OpenJSONStore(path string) (*JSONStore, error) {
	if path == "" {
		return nil, errors.New("json store path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, persistErr("create store dir", err)
	}
	s := &JSONStore{Path: path}
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		if err := s.write(jsonDocument{Initiatives: []domain.Initiative{}}); err != nil {
			return nil, err
		}
	} else if err != nil {
		return nil, persistErr("stat store", err)
	}
	return s, nil
}

func (s *JSONStore) read() (jsonDocument, error) {
	var doc jsonDocument
	data, err := os.ReadFile(s.Path)
	if errors.Is(err, os.ErrNotExist) {
		return doc, nil
	}
	if err != nil {
		return doc, persistErr("read store", err)
	}
	if len(data) == 0 {
		return doc, nil
	}
	if err := json.Unmarshal(data, &doc); err != nil {
		return doc, persistErr("decode store", err)
	}
	return doc, nil
}

func (s *JSONStore) write(doc jsonDocument) error {
	if doc.Initiatives == nil {
		doc.Initiatives = []domain.Initiative{}
	}
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return persistErr("encode store", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(s.Path), ".initiatives-*.json")
	if err != nil {
		return persistErr("write store", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return persistErr("write store", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return persistErr("write store", err)
	}
	if err := os.Rename(tmp.Name(), s.Path); err != nil {
		os.Remove(tmp.Name())
		return persistErr("replace store", err)
	}
	return nil
}

func indexOf(items []domain.Initiative, id string) int {
	for i := range items {
		if items[i].ID == id {
			return i
		}
	}
	return -1
}

func (s *JSONStore) ListInitiatives(_ context.Context, f Filter) ([]domain.Initiative, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, err := s.read()
	if err != nil {
		return nil, err
	}
	res := []domain.Initiative{}
	for _, in := range doc.Initiatives {
		if f.match(in) {
			res = append(res, in)
		}
	}
	sortNewestFirst(res)
	return res, nil
}

func (s *JSONStore) GetInitiative(_ context.Context, id string) (domain.Initiative, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, err := s.read()
	if err != nil {
		return domain.Initiative{}, err
	}
	i := indexOf(doc.Initiatives, id)
	if i < 0 {
		return domain.Initiative{}, ErrNotFound
	}
	return doc.Initiatives[i], nil
}

func (s *JSONStore) InsertInitiative(_ context.Context, in domain.Initiative) (domain.Initiative, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, err := s.read()
	if err != nil {
		return in, err
	}
	if indexOf(doc.Initiatives, in.ID) >= 0 {
		return in, persistErr("insert initiative", fmt.Errorf("duplicate id %s", in.ID))
	}
	if in.ADOWorkItemID != nil && hasWorkItem(doc.Initiatives, *in.ADOWorkItemID) {
		return in, persistErr("insert initiative", fmt.Errorf("duplicate work item %d", *in.ADOWorkItemID))
	}
	in.Idea = in.Idea.Clone()
	doc.Initiatives = append(doc.Initiatives, in)
	if err := s.write(doc); err != nil {
		return in, err
	}
	return in, nil
}

func (s *JSONStore) MergePatchInitiative(ctx context.Context, id string, patch domain.InitiativePatch) (domain.Initiative, error) {
	return s.UpdateInitiative(ctx, id, constantPatch(patch))
}

func (s *JSONStore) UpdateInitiative(_ context.Context, id string, fn PatchFunc) (domain.Initiative, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, err := s.read()
	if err != nil {
		return domain.Initiative{}, err
	}
	i := indexOf(doc.Initiatives, id)
	if i < 0 {
		return domain.Initiative{}, ErrNotFound
	}
	cur := doc.Initiatives[i]
	patch, err := fn(cur)
	if err != nil {
		return cur, err
	}
	if patch.IsEmpty() {
		return cur, nil
	}
	others := append(append([]domain.Initiative{}, doc.Initiatives[:i]...), doc.Initiatives[i+1:]...)
	if patch.ADOWorkItemID != nil && hasWorkItem(others, *patch.ADOWorkItemID) {
		return cur, persistErr("update initiative", fmt.Errorf("duplicate work item %d", *patch.ADOWorkItemID))
	}
	next := patch.Apply(cur)
	doc.Initiatives[i] = next
	if err := s.write(doc); err != nil {
		return cur, err
	}
	return next, nil
}

func (s *JSONStore) DeleteInitiative(_ context.Context, id string) (domain.Initiative, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, err := s.read()
	if err != nil {
		return domain.Initiative{}, err
	}
	i := indexOf(doc.Initiatives, id)
	if i < 0 {
		return domain.Initiative{}, ErrNotFound
	}
	cur := doc.Initiatives[i]
	doc.Initiatives = append(doc.Initiatives[:i], doc.Initiatives[i+1:]...)
	if err := s.write(doc); err != nil {
		return cur, err
	}
	return cur, nil
}

func (s *JSONStore) WorkItemExists(_ context.Context, workItemID int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, err := s.read()
	if err != nil {
		return false, err
	}
	return hasWorkItem(doc.Initiatives, workItemID), nil
}

func (s *JSONStore) Close() error { return nil }

func hasWorkItem(items []domain.Initiative, workItemID int64) bool {
	for _, in := range items {
		if in.ADOWorkItemID != nil && *in.ADOWorkItemID == workItemID {
			return true
		}
	}
	return false
}
