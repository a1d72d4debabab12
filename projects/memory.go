// Package projects provides an in-memory ProjectStore.
package projects

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/ineyio/sitegen"
)

// MemoryStore is an in-process ProjectStore.
type MemoryStore struct {
	mu       sync.RWMutex
	projects map[string]sitegen.Project
	frames   map[string]sitegen.Frame
	chats    map[string]sitegen.Chat
	now      func() time.Time
}

var _ sitegen.ProjectStore = (*MemoryStore)(nil)

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		projects: make(map[string]sitegen.Project),
		frames:   make(map[string]sitegen.Frame),
		chats:    make(map[string]sitegen.Chat),
		now:      time.Now,
	}
}

func (s *MemoryStore) CreateProject(_ context.Context, p sitegen.Project) (sitegen.Project, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if p.ID == "" {
		p.ID = sitegen.NewProjectID()
	}
	if _, exists := s.projects[p.ID]; exists {
		return sitegen.Project{}, fmt.Errorf("%w: project id already in use", sitegen.ErrInvalidRequest)
	}
	now := s.now().UTC()
	p.CreatedAt, p.UpdatedAt = now, now
	s.projects[p.ID] = p
	return p, nil
}

func (s *MemoryStore) GetProject(_ context.Context, projectID string) (sitegen.Project, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.projects[projectID]
	if !ok {
		return sitegen.Project{}, sitegen.ErrProjectNotFound
	}
	return p, nil
}

// ListProjects returns the owner's projects, newest first.
func (s *MemoryStore) ListProjects(_ context.Context, ownerID string) ([]sitegen.Project, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []sitegen.Project
	for _, p := range s.projects {
		if p.OwnerID == ownerID {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (s *MemoryStore) DeleteProject(_ context.Context, projectID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.projects[projectID]; !ok {
		return sitegen.ErrProjectNotFound
	}
	for id, f := range s.frames {
		if f.ProjectID == projectID {
			delete(s.chats, id)
			delete(s.frames, id)
		}
	}
	delete(s.projects, projectID)
	return nil
}

func (s *MemoryStore) CreateFrame(_ context.Context, f sitegen.Frame) (sitegen.Frame, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.projects[f.ProjectID]
	if !ok {
		return sitegen.Frame{}, sitegen.ErrProjectNotFound
	}
	if f.ID == "" {
		f.ID = sitegen.NewFrameID()
	}
	now := s.now().UTC()
	f.CreatedAt = now
	s.frames[f.ID] = f

	p.UpdatedAt = now
	s.projects[p.ID] = p
	return f, nil
}

func (s *MemoryStore) GetFrame(_ context.Context, frameID string) (sitegen.Frame, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	f, ok := s.frames[frameID]
	if !ok {
		return sitegen.Frame{}, sitegen.ErrFrameNotFound
	}
	return f, nil
}

// ListFrames returns the project's frames, oldest first.
func (s *MemoryStore) ListFrames(_ context.Context, projectID string) ([]sitegen.Frame, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []sitegen.Frame
	for _, f := range s.frames {
		if f.ProjectID == projectID {
			out = append(out, f)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *MemoryStore) UpdateFrameDesign(_ context.Context, frameID string, design sitegen.Bundle) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, ok := s.frames[frameID]
	if !ok {
		return sitegen.ErrFrameNotFound
	}
	f.Design = design
	s.frames[frameID] = f
	return nil
}

func (s *MemoryStore) SaveChat(_ context.Context, c sitegen.Chat) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.frames[c.FrameID]; !ok {
		return sitegen.ErrFrameNotFound
	}
	if prev, ok := s.chats[c.FrameID]; ok {
		c.CreatedAt = prev.CreatedAt
	} else {
		c.CreatedAt = s.now().UTC()
	}
	c.Messages = slices.Clone(c.Messages)
	s.chats[c.FrameID] = c
	return nil
}

func (s *MemoryStore) GetChat(_ context.Context, frameID string) (sitegen.Chat, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.chats[frameID]
	if !ok {
		return sitegen.Chat{}, sitegen.ErrFrameNotFound
	}
	c.Messages = slices.Clone(c.Messages)
	return c, nil
}
