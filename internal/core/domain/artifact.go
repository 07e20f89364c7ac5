package domain

import (
	"time"

	"github.com/google/uuid"
)

// Artifact is an immutable published payload.
type Artifact struct {
	ID          uuid.UUID
	PipelineID  PipelineID
	Name        string
	ContentType string
	Data        []byte
	GeneratedAt time.Time
}

// NewArtifact tags data with a fresh generation id.
func NewArtifact(pipelineID PipelineID, name, contentType string, data []byte, at time.Time) Artifact {
	return Artifact{
		ID:          uuid.New(),
		PipelineID:  pipelineID,
		Name:        name,
		ContentType: contentType,
		Data:        data,
		GeneratedAt: at,
	}
}
