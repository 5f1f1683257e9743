package api

import (
	"net/http"
	"strconv"
	"strings"

	service "github.com/okian/fplcache/internal/app"
	"github.com/okian/fplcache/internal/domain/model"
	"github.com/okian/fplcache/internal/domain/query"
	"github.com/okian/fplcache/pkg/logger"
)

// ReadHandler serves reads against the live snapshot.
type ReadHandler struct {
	deps   Dependencies
	logger logger.Logger
}

// NewReadHandler creates a new read handler.
func NewReadHandler(deps Dependencies, log logger.Logger) *ReadHandler {
	return &ReadHandler{deps: deps, logger: log}
}

// HandleSnapshot handles GET /api/v1/snapshot.
func (h *ReadHandler) HandleSnapshot(w http.ResponseWriter, r *http.Request) {
	info, err := h.deps.Snapshot(r.Context())
	if err != nil {
		fail(w, r, h.logger, Wrap("snapshot", err))
		return
	}
	setSnapshot(w, info)
	writeJSON(w, http.StatusOK, info)
}

// HandleEntities handles GET /api/v1/entities/{category}.
func (h *ReadHandler) HandleEntities(w http.ResponseWriter, r *http.Request) {
	category, err := service.ParseCategory(r.PathValue("category"))
	if err != nil {
		fail(w, r, h.logger, Wrap("list entities", err))
		return
	}
	h.list(w, r, category)
}

// HandleEntity handles GET /api/v1/entities/{category}/{id}.
func (h *ReadHandler) HandleEntity(w http.ResponseWriter, r *http.Request) {
	category, err := service.ParseCategory(r.PathValue("category"))
	if err != nil {
		fail(w, r, h.logger, Wrap("get entity", err))
		return
	}
	h.get(w, r, category)
}

func (h *ReadHandler) categoryList(category model.Category) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) { h.list(w, r, category) }
}

func (h *ReadHandler) categoryGet(category model.Category) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) { h.get(w, r, category) }
}

func (h *ReadHandler) list(w http.ResponseWriter, r *http.Request, category model.Category) {
	const op = "list entities"
	q, err := h.deps.ParseQuery(category, r.URL.Query())
	if err != nil {
		fail(w, r, h.logger, Wrap(op, err))
		return
	}
	page, err := h.deps.Entities(r.Context(), q)
	if err != nil {
		fail(w, r, h.logger, Wrap(op, err))
		return
	}
	writePage(w, page)
}

func (h *ReadHandler) get(w http.ResponseWriter, r *http.Request, category model.Category) {
	const op = "get entity"
	id, ok := pathID(r, "id")
	if !ok {
		fail(w, r, h.logger, NewKind(op, query.ErrNotFound))
		return
	}
	e, info, err := h.deps.Entity(r.Context(), category, id)
	if err != nil {
		fail(w, r, h.logger, Wrap(op, err))
		return
	}
	setSnapshot(w, info)
	writeJSON(w, http.StatusOK, e)
}

// HandleSearchPlayers handles GET /api/v1/players/search.
func (h *ReadHandler) HandleSearchPlayers(w http.ResponseWriter, r *http.Request) {
	const op = "search players"
	params := r.URL.Query()
	ps := service.PlayerSearch{
		Name:     strings.TrimSpace(params.Get("name")),
		Team:     strings.TrimSpace(params.Get("team")),
		Position: strings.TrimSpace(params.Get("position")),
		Filters:  params["filter"],
		Sort:     params.Get("sort"),
		Order:    params.Get("order"),
	}
	if raw := params.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			fail(w, r, h.logger, WrapKind(op, query.ErrInvalidQuery, err))
			return
		}
		ps.Limit = n
	}
	page, err := h.deps.SearchPlayers(r.Context(), ps)
	if err != nil {
		fail(w, r, h.logger, Wrap(op, err))
		return
	}
	writePage(w, page)
}

// HandleSearchTeams handles GET /api/v1/teams/search.
func (h *ReadHandler) HandleSearchTeams(w http.ResponseWriter, r *http.Request) {
	teams, info, err := h.deps.SearchTeams(r.Context(), r.URL.Query().Get("name"))
	if err != nil {
		fail(w, r, h.logger, Wrap("search teams", err))
		return
	}
	writeList(w, info, teams)
}

// HandleFixtures handles GET /api/v1/fixtures. Without a gameweek parameter
// the current gameweek is used; the gameweek served is echoed in X-Gameweek.
func (h *ReadHandler) HandleFixtures(w http.ResponseWriter, r *http.Request) {
	const op = "fixtures"
	var gw int64
	if raw := r.URL.Query().Get("gameweek"); raw != "" {
		n, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || n < 1 {
			fail(w, r, h.logger, NewKind(op, query.ErrInvalidQuery))
			return
		}
		gw = n
	}
	list, err := h.deps.Fixtures(r.Context(), gw)
	if err != nil {
		fail(w, r, h.logger, Wrap(op, err))
		return
	}
	w.Header().Set(HeaderGameweek, strconv.FormatInt(list.Gameweek, 10))
	writeList(w, list.Snapshot, list.Fixtures)
}

// HandleGameweeks handles GET /api/v1/gameweeks.
func (h *ReadHandler) HandleGameweeks(w http.ResponseWriter, r *http.Request) {
	gws, info, err := h.deps.Gameweeks(r.Context())
	if err != nil {
		fail(w, r, h.logger, Wrap("gameweeks", err))
		return
	}
	writeList(w, info, gws)
}

type currentGameweek struct {
	Gameweek int64 `json:"gameweek"`
}

// HandleCurrentGameweek handles GET /api/v1/gameweeks/current.
func (h *ReadHandler) HandleCurrentGameweek(w http.ResponseWriter, r *http.Request) {
	gw, info, err := h.deps.CurrentGameweek(r.Context())
	if err != nil {
		fail(w, r, h.logger, Wrap("current gameweek", err))
		return
	}
	setSnapshot(w, info)
	writeJSON(w, http.StatusOK, currentGameweek{Gameweek: gw})
}

// HandleStandings handles GET /api/v1/standings.
func (h *ReadHandler) HandleStandings(w http.ResponseWriter, r *http.Request) {
	rows, info, err := h.deps.Standings(r.Context())
	if err != nil {
		fail(w, r, h.logger, Wrap("standings", err))
		return
	}
	writeList(w, info, rows)
}

// HandleSchema handles GET /api/v1/schemas/{category}.
func (h *ReadHandler) HandleSchema(w http.ResponseWriter, r *http.Request) {
	const op = "schema"
	category, err := service.ParseCategory(r.PathValue("category"))
	if err != nil {
		fail(w, r, h.logger, Wrap(op, err))
		return
	}
	fields, err := h.deps.Schema(r.Context(), category)
	if err != nil {
		fail(w, r, h.logger, Wrap(op, err))
		return
	}
	writeJSON(w, http.StatusOK, fields)
}

// HandlePlayerContext handles GET /api/v1/context/players/{id}.
func (h *ReadHandler) HandlePlayerContext(w http.ResponseWriter, r *http.Request) {
	const op = "player context"
	id, ok := pathID(r, "id")
	if !ok {
		fail(w, r, h.logger, NewKind(op, query.ErrNotFound))
		return
	}
	pc, err := h.deps.PlayerContext(r.Context(), id)
	if err != nil {
		fail(w, r, h.logger, Wrap(op, err))
		return
	}
	setSnapshot(w, pc.Snapshot)
	pc.UpcomingFixtures = entities(pc.UpcomingFixtures)
	writeJSON(w, http.StatusOK, pc)
}

func writePage(w http.ResponseWriter, page service.Page) {
	setSnapshot(w, page.Snapshot)
	w.Header().Set(HeaderTotalCount, strconv.Itoa(page.Total))
	writeJSON(w, http.StatusOK, entities(page.Items))
}

func writeList(w http.ResponseWriter, info model.SnapshotInfo, list []model.Entity) {
	setSnapshot(w, info)
	w.Header().Set(HeaderTotalCount, strconv.Itoa(len(list)))
	writeJSON(w, http.StatusOK, entities(list))
}
