package sitegen

import (
	"context"
	"strings"

	"github.com/google/uuid"
)

// ProjectStore persists projects, their frames and the chat attached to each frame.
//
// Lookups of a missing project return ErrProjectNotFound; lookups of a missing
// frame or chat return ErrFrameNotFound.
type ProjectStore interface {
	CreateProject(ctx context.Context, p Project) (Project, error)
	GetProject(ctx context.Context, projectID string) (Project, error)
	ListProjects(ctx context.Context, ownerID string) ([]Project, error)

	// DeleteProject removes the project with its frames and chats.
	DeleteProject(ctx context.Context, projectID string) error

	CreateFrame(ctx context.Context, f Frame) (Frame, error)
	GetFrame(ctx context.Context, frameID string) (Frame, error)
	ListFrames(ctx context.Context, projectID string) ([]Frame, error)
	UpdateFrameDesign(ctx context.Context, frameID string, design Bundle) error

	// SaveChat creates or replaces the chat of a frame.
	SaveChat(ctx context.Context, c Chat) error
	GetChat(ctx context.Context, frameID string) (Chat, error)
}

// NewProjectID returns a fresh project identifier.
func NewProjectID() string {
	return uuid.NewString()
}

// NewFrameID returns a fresh 12-character frame identifier.
func NewFrameID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
}
