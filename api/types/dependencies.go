package types

import (
	"github.com/killallgit/marginalia/internal/database"
	"github.com/killallgit/marginalia/internal/services/persistence"
)

// Dependencies holds all the dependencies needed by handlers
type Dependencies struct {
	DB                *database.DB
	AnnotationService persistence.Service
}
