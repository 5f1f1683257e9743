package service

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/okian/fplcache/internal/adapters/repository"
	"github.com/okian/fplcache/internal/domain/model"
	"github.com/okian/fplcache/internal/domain/query"
	"github.com/okian/fplcache/internal/domain/transform"
	"github.com/okian/fplcache/pkg/metrics"
)

// Search and context defaults.
const (
	DefaultSearchLimit = 10
	UpcomingFixtures   = 5
	minTeamQuery       = 2
)

// Page is one page of a list query.
type Page struct {
	Snapshot model.SnapshotInfo `json:"snapshot"`
	Total    int                `json:"total"`
	Limit    int                `json:"limit"`
	Offset   int                `json:"offset"`
	Items    []model.Entity     `json:"items"`
}

// PlayerSearch narrows a player search. Every set field must match.
type PlayerSearch struct {
	Name     string   // substring of web, first or second name
	Team     string   // exact team name or short name
	Position string   // label or short code
	Filters  []string // field:op:value
	Sort     string
	Order    string // asc or desc; desc when Sort is set and Order is empty
	Limit    int
}

// FixtureList is the fixtures of one gameweek.
type FixtureList struct {
	Snapshot model.SnapshotInfo `json:"snapshot"`
	Gameweek int64              `json:"gameweek"`
	Fixtures []model.Entity     `json:"fixtures"`
}

// PlayerContext is a player with their team and next fixtures.
type PlayerContext struct {
	Snapshot         model.SnapshotInfo `json:"snapshot"`
	Player           model.Entity       `json:"player"`
	Team             *model.Entity      `json:"team,omitempty"`
	CurrentGameweek  int64              `json:"current_gameweek"`
	UpcomingFixtures []model.Entity     `json:"upcoming_fixtures"`
}

// ParseCategory resolves a category name, reporting unknown names as not found.
func ParseCategory(name string) (model.Category, error) {
	cat, err := model.ParseCategory(name)
	if err != nil {
		return "", fmt.Errorf("%w: %v", query.ErrNotFound, err)
	}
	return cat, nil
}

// ParseQuery validates list parameters for category against the configured
// page size cap.
func (s *Service) ParseQuery(category model.Category, params url.Values) (query.Query, error) {
	return query.Parse(category, params, s.maxLimit)
}

// Snapshot describes the live snapshot.
func (s *Service) Snapshot(ctx context.Context) (model.SnapshotInfo, error) {
	info, err := s.store.Latest(ctx)
	if errors.Is(err, repository.ErrNoSnapshot) {
		s.maybeRefresh(ctx, info, true)
		return model.SnapshotInfo{}, fmt.Errorf("%w: no snapshot published", query.ErrNotFound)
	}
	if err != nil {
		return model.SnapshotInfo{}, err
	}
	s.maybeRefresh(ctx, info, false)
	return info, nil
}

// Entity returns one entity by id.
func (s *Service) Entity(ctx context.Context, category model.Category, id int64) (model.Entity, model.SnapshotInfo, error) {
	defer observe("entity", time.Now())
	list, info, err := s.latest(ctx, repository.Filter{Category: category, IDs: []int64{id}})
	if err != nil {
		return model.Entity{}, info, err
	}
	if len(list) == 0 {
		return model.Entity{}, info, fmt.Errorf("%w: %s %d", query.ErrNotFound, category, id)
	}
	return list[0], info, nil
}

// Entities runs a list query.
func (s *Service) Entities(ctx context.Context, q query.Query) (Page, error) {
	defer observe("entities", time.Now())
	list, info, err := s.latest(ctx, repository.Filter{Category: q.Category, Match: q.Match})
	if err != nil {
		return Page{}, err
	}
	items, total := q.Apply(list)
	return Page{Snapshot: info, Total: total, Limit: q.Limit, Offset: q.Offset, Items: items}, nil
}

// SearchPlayers finds players by name, team, position and filters. An unknown
// team yields an empty result.
func (s *Service) SearchPlayers(ctx context.Context, ps PlayerSearch) (Page, error) {
	defer observe("search_players", time.Now())

	q := query.Query{Category: model.Players, Sort: strings.TrimSpace(ps.Sort), Limit: ps.Limit}
	switch {
	case q.Limit == 0:
		q.Limit = DefaultSearchLimit
	case q.Limit < 0 || q.Limit > s.maxLimit:
		return Page{}, fmt.Errorf("%w: limit must be between 1 and %d", query.ErrInvalidQuery, s.maxLimit)
	}
	if q.Sort != "" {
		if _, ok := transform.FieldKind(model.Players, q.Sort); !ok {
			return Page{}, fmt.Errorf("%w: unknown sort field %q", query.ErrInvalidQuery, q.Sort)
		}
	}
	switch strings.ToLower(strings.TrimSpace(ps.Order)) {
	case "":
		q.Desc = q.Sort != ""
	case "asc":
	case "desc":
		q.Desc = true
	default:
		return Page{}, fmt.Errorf("%w: order must be asc or desc", query.ErrInvalidQuery)
	}
	for _, expr := range ps.Filters {
		p, err := query.ParseFilter(model.Players, expr)
		if err != nil {
			return Page{}, err
		}
		q.Filters = append(q.Filters, p)
	}
	var position int64
	if ps.Position != "" {
		code, ok := transform.PositionCode(ps.Position)
		if !ok {
			return Page{}, fmt.Errorf("%w: unknown position %q", query.ErrInvalidQuery, ps.Position)
		}
		position = code
	}
	name := strings.ToLower(strings.TrimSpace(ps.Name))

	info, err := s.Snapshot(ctx)
	if err != nil {
		return Page{}, err
	}

	var teamID int64
	if team := strings.TrimSpace(ps.Team); team != "" {
		teams, err := s.pinned(ctx, info, repository.Filter{Category: model.Teams, Match: func(e model.Entity) bool {
			return strings.EqualFold(e.Str("name"), team) || strings.EqualFold(e.Str("short_name"), team)
		}})
		if err != nil {
			return Page{}, err
		}
		if len(teams) == 0 {
			return Page{Snapshot: info, Limit: q.Limit, Items: []model.Entity{}}, nil
		}
		teamID = teams[0].ID
	}

	players, err := s.pinned(ctx, info, repository.Filter{Category: model.Players, Match: func(e model.Entity) bool {
		if name != "" && !containsFold(name, e.Str("web_name"), e.Str("first_name"), e.Str("second_name")) {
			return false
		}
		if teamID != 0 {
			if t, _ := e.Int("team"); t != teamID {
				return false
			}
		}
		if position != 0 {
			if et, _ := e.Int("element_type"); et != position {
				return false
			}
		}
		return q.Match(e)
	}})
	if err != nil {
		return Page{}, err
	}
	items, total := q.Apply(players)
	return Page{Snapshot: info, Total: total, Limit: q.Limit, Items: items}, nil
}

// SearchTeams matches name against team names and short names.
func (s *Service) SearchTeams(ctx context.Context, name string) ([]model.Entity, model.SnapshotInfo, error) {
	defer observe("search_teams", time.Now())
	needle := strings.ToLower(strings.TrimSpace(name))
	if len(needle) < minTeamQuery {
		return nil, model.SnapshotInfo{}, fmt.Errorf("%w: team name needs at least %d characters", query.ErrInvalidQuery, minTeamQuery)
	}
	list, info, err := s.latest(ctx, repository.Filter{Category: model.Teams, Match: func(e model.Entity) bool {
		return containsFold(needle, e.Str("name"), e.Str("short_name"))
	}})
	if err != nil {
		return nil, info, err
	}
	if len(list) == 0 {
		return nil, info, fmt.Errorf("%w: no team matching %q", query.ErrNotFound, name)
	}
	return list, info, nil
}

// Fixtures lists the fixtures of a gameweek ordered by kickoff. Zero selects
// the current gameweek.
func (s *Service) Fixtures(ctx context.Context, gameweek int64) (FixtureList, error) {
	defer observe("fixtures", time.Now())
	if gameweek < 0 {
		return FixtureList{}, fmt.Errorf("%w: gameweek must be positive", query.ErrInvalidQuery)
	}
	info, err := s.Snapshot(ctx)
	if err != nil {
		return FixtureList{}, err
	}
	if gameweek == 0 {
		gws, err := s.pinned(ctx, info, repository.Filter{Category: model.Gameweeks})
		if err != nil {
			return FixtureList{}, err
		}
		gameweek = currentGameweek(gws)
	}
	fixtures, err := s.pinned(ctx, info, repository.Filter{Category: model.Fixtures, Match: func(e model.Entity) bool {
		gw, ok := e.Int("gameweek")
		return ok && gw == gameweek
	}})
	if err != nil {
		return FixtureList{}, err
	}
	query.SortBy(fixtures, "kickoff_time", false)
	return FixtureList{Snapshot: info, Gameweek: gameweek, Fixtures: fixtures}, nil
}

// Gameweeks lists every gameweek.
func (s *Service) Gameweeks(ctx context.Context) ([]model.Entity, model.SnapshotInfo, error) {
	defer observe("gameweeks", time.Now())
	return s.latest(ctx, repository.Filter{Category: model.Gameweeks})
}

// CurrentGameweek resolves the gameweek flagged current, else the earliest
// unfinished one by deadline, else 1.
func (s *Service) CurrentGameweek(ctx context.Context) (int64, model.SnapshotInfo, error) {
	gws, info, err := s.latest(ctx, repository.Filter{Category: model.Gameweeks})
	if err != nil {
		return 0, info, err
	}
	return currentGameweek(gws), info, nil
}

// Standings returns the derived league table by position.
func (s *Service) Standings(ctx context.Context) ([]model.Entity, model.SnapshotInfo, error) {
	defer observe("standings", time.Now())
	list, info, err := s.latest(ctx, repository.Filter{Category: model.Standings})
	if err != nil {
		return nil, info, err
	}
	if len(list) == 0 {
		return nil, info, fmt.Errorf("%w: standings not available", query.ErrNotFound)
	}
	query.SortBy(list, "position", false)
	return list, info, nil
}

// PlayerContext returns a player with their team and next unfinished
// fixtures by kickoff, all read from one snapshot.
func (s *Service) PlayerContext(ctx context.Context, id int64) (PlayerContext, error) {
	defer observe("player_context", time.Now())
	player, info, err := s.Entity(ctx, model.Players, id)
	if err != nil {
		return PlayerContext{}, err
	}
	out := PlayerContext{Snapshot: info, Player: player, UpcomingFixtures: []model.Entity{}}

	teamID, _ := player.Int("team")
	teams, err := s.pinned(ctx, info, repository.Filter{Category: model.Teams, IDs: []int64{teamID}})
	if err != nil {
		return PlayerContext{}, err
	}
	if len(teams) > 0 {
		out.Team = &teams[0]
	}

	gws, err := s.pinned(ctx, info, repository.Filter{Category: model.Gameweeks})
	if err != nil {
		return PlayerContext{}, err
	}
	out.CurrentGameweek = currentGameweek(gws)

	fixtures, err := s.pinned(ctx, info, repository.Filter{Category: model.Fixtures, Match: func(e model.Entity) bool {
		home, _ := e.Int("home_team")
		away, _ := e.Int("away_team")
		if (home != teamID && away != teamID) || e.Bool("finished") {
			return false
		}
		gw, ok := e.Int("gameweek")
		return !ok || gw >= out.CurrentGameweek
	}})
	if err != nil {
		return PlayerContext{}, err
	}
	query.SortBy(fixtures, "kickoff_time", false)
	if len(fixtures) > UpcomingFixtures {
		fixtures = fixtures[:UpcomingFixtures]
	}
	out.UpcomingFixtures = fixtures
	return out, nil
}

// Schema lists the attributes of a category.
func (s *Service) Schema(_ context.Context, category model.Category) ([]transform.Field, error) {
	fields, err := transform.Schema(category)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", query.ErrNotFound, err)
	}
	return fields, nil
}

// latest reads from the live snapshot and kicks a stale refresh when due.
func (s *Service) latest(ctx context.Context, f repository.Filter) ([]model.Entity, model.SnapshotInfo, error) {
	list, info, err := s.store.ReadLatest(ctx, f)
	if errors.Is(err, repository.ErrNoSnapshot) {
		s.maybeRefresh(ctx, info, true)
		return nil, info, fmt.Errorf("%w: no snapshot published", query.ErrNotFound)
	}
	if err != nil {
		return nil, info, err
	}
	s.maybeRefresh(ctx, info, false)
	return list, info, nil
}

// pinned reads from the version a multi-category query started on.
func (s *Service) pinned(ctx context.Context, info model.SnapshotInfo, f repository.Filter) ([]model.Entity, error) {
	list, err := s.store.ReadVersion(ctx, info.Version, f)
	if errors.Is(err, repository.ErrUnknownVersion) {
		return nil, fmt.Errorf("%w: snapshot %d was pruned", query.ErrNotFound, info.Version)
	}
	return list, err
}

func currentGameweek(gws []model.Entity) int64 {
	var (
		next     int64
		deadline time.Time
	)
	for _, gw := range gws {
		if gw.Bool("is_current") {
			return gw.ID
		}
		if gw.Bool("finished") {
			continue
		}
		d, ok := gw.Time("deadline_time")
		if next == 0 || (ok && (deadline.IsZero() || d.Before(deadline))) {
			next, deadline = gw.ID, d
		}
	}
	if next == 0 {
		return 1
	}
	return next
}

func containsFold(needle string, haystack ...string) bool {
	for _, h := range haystack {
		if strings.Contains(strings.ToLower(h), needle) {
			return true
		}
	}
	return false
}

func observe(op string, start time.Time) {
	metrics.RecordQueryLatency(op, float64(time.Since(start).Microseconds())/1000)
}
