// Package api declares HTTP contracts and route registration helpers.
package api

import (
	"context"
	"net/http"
	"net/url"

	service "github.com/okian/fplcache/internal/app"
	"github.com/okian/fplcache/internal/domain/model"
	"github.com/okian/fplcache/internal/domain/query"
	"github.com/okian/fplcache/internal/domain/transform"
	"github.com/okian/fplcache/pkg/logger"
)

// Dependencies required by HTTP handlers. Using an interface bundle keeps
// the handler layer loosely coupled to implementations in other packages.
type Dependencies interface {
	// Sync control.
	RequestSync(ctx context.Context, apiKey string) (model.SyncRun, error)
	SyncRun(ctx context.Context, id string) (model.SyncRun, error)
	SyncRuns(ctx context.Context) []model.SyncRun

	// Read operations against the live snapshot.
	Snapshot(ctx context.Context) (model.SnapshotInfo, error)
	ParseQuery(category model.Category, params url.Values) (query.Query, error)
	Entity(ctx context.Context, category model.Category, id int64) (model.Entity, model.SnapshotInfo, error)
	Entities(ctx context.Context, q query.Query) (service.Page, error)
	SearchPlayers(ctx context.Context, ps service.PlayerSearch) (service.Page, error)
	SearchTeams(ctx context.Context, name string) ([]model.Entity, model.SnapshotInfo, error)
	Fixtures(ctx context.Context, gameweek int64) (service.FixtureList, error)
	Gameweeks(ctx context.Context) ([]model.Entity, model.SnapshotInfo, error)
	CurrentGameweek(ctx context.Context) (int64, model.SnapshotInfo, error)
	Standings(ctx context.Context) ([]model.Entity, model.SnapshotInfo, error)
	PlayerContext(ctx context.Context, id int64) (service.PlayerContext, error)
	Schema(ctx context.Context, category model.Category) ([]transform.Field, error)
}

// Server wires HTTP routes for the business API.
type Server struct {
	healthHandler *HealthHandler
	statsHandler  *StatsHandler
	syncHandler   *SyncHandler
	readHandler   *ReadHandler
}

// NewServer creates a new API server with all handlers.
func NewServer(deps Dependencies, statsProvider StatsProvider) *Server {
	log := logger.Get().Named("api")
	return &Server{
		healthHandler: NewHealthHandler(),
		statsHandler:  NewStatsHandler(statsProvider),
		syncHandler:   NewSyncHandler(deps, log),
		readHandler:   NewReadHandler(deps, log),
	}
}

// Register attaches all HTTP routes to mux.
func (s *Server) Register(_ context.Context, mux *http.ServeMux) {
	if mux == nil {
		panic("api: nil mux")
	}
	route := func(pattern, endpoint string, h http.HandlerFunc) {
		mux.HandleFunc(pattern, MetricsMiddleware(h, endpoint))
	}

	route("GET /healthz", "healthz", s.healthHandler.HandleHealth)
	route("GET /stats", "stats", s.statsHandler.HandleStats)

	route("POST /api/v1/sync", "sync", s.syncHandler.HandleRequestSync)
	route("GET /api/v1/sync/runs", "sync_runs", s.syncHandler.HandleListRuns)
	route("GET /api/v1/sync/runs/{id}", "sync_run", s.syncHandler.HandleGetRun)

	r := s.readHandler
	route("GET /api/v1/snapshot", "snapshot", r.HandleSnapshot)
	route("GET /api/v1/entities/{category}", "entities", r.HandleEntities)
	route("GET /api/v1/entities/{category}/{id}", "entity", r.HandleEntity)
	route("GET /api/v1/players", "players", r.categoryList(model.Players))
	route("GET /api/v1/players/search", "players_search", r.HandleSearchPlayers)
	route("GET /api/v1/players/{id}", "player", r.categoryGet(model.Players))
	route("GET /api/v1/teams", "teams", r.categoryList(model.Teams))
	route("GET /api/v1/teams/search", "teams_search", r.HandleSearchTeams)
	route("GET /api/v1/teams/{id}", "team", r.categoryGet(model.Teams))
	route("GET /api/v1/fixtures", "fixtures", r.HandleFixtures)
	route("GET /api/v1/gameweeks", "gameweeks", r.HandleGameweeks)
	route("GET /api/v1/gameweeks/current", "gameweek_current", r.HandleCurrentGameweek)
	route("GET /api/v1/standings", "standings", r.HandleStandings)
	route("GET /api/v1/schemas/{category}", "schema", r.HandleSchema)
	route("GET /api/v1/context/players/{id}", "player_context", r.HandlePlayerContext)
}
