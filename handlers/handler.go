package handlers

import (
	"go.uber.org/zap"

	"github.com/padraicbc/racedata/ingest"
	"github.com/padraicbc/racedata/matching"
	"github.com/padraicbc/racedata/store"
)

// Handler holds shared dependencies used by all route handlers.
type Handler struct {
	store     *store.Store
	ingest    *ingest.Orchestrator
	links     *matching.Service
	overrides *matching.Overrides
	resolver  *matching.Resolver
	log       *zap.Logger
	JWTKey    []byte
}

// New creates a Handler over the store, the ingestion orchestrator and the
// link service, signing tokens with jwtKey.
func New(st *store.Store, orch *ingest.Orchestrator, links *matching.Service, jwtKey []byte, log *zap.Logger) *Handler {
	if log == nil {
		log = zap.NewNop()
	}
	return &Handler{
		store:     st,
		ingest:    orch,
		links:     links,
		overrides: matching.NewOverrides(st, log),
		resolver:  matching.NewResolver(st),
		log:       log,
		JWTKey:    jwtKey,
	}
}
