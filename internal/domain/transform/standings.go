package transform

import (
	"sort"

	"github.com/okian/fplcache/internal/domain/model"
)

// League points per result.
const (
	pointsWin  = 3
	pointsDraw = 1
)

var standingsSchema = []Field{
	{Name: "id", Kind: model.KindInt, Required: true, Derived: true},
	{Name: "position", Kind: model.KindInt, Required: true, Derived: true},
	{Name: "team", Kind: model.KindInt, Required: true, Derived: true, Ref: model.Teams},
	{Name: "team_name", Kind: model.KindString, Derived: true},
	{Name: "short_name", Kind: model.KindString, Derived: true},
	{Name: "played", Kind: model.KindInt, Derived: true},
	{Name: "wins", Kind: model.KindInt, Derived: true},
	{Name: "draws", Kind: model.KindInt, Derived: true},
	{Name: "losses", Kind: model.KindInt, Derived: true},
	{Name: "goals_for", Kind: model.KindInt, Derived: true},
	{Name: "goals_against", Kind: model.KindInt, Derived: true},
	{Name: "goal_difference", Kind: model.KindInt, Derived: true},
	{Name: "points", Kind: model.KindInt, Derived: true},
}

type tally struct {
	team                        model.Entity
	played, wins, draws, losses int64
	goalsFor, goalsAgainst      int64
}

func (t *tally) points() int64 { return t.wins*pointsWin + t.draws*pointsDraw }
func (t *tally) diff() int64   { return t.goalsFor - t.goalsAgainst }

// Standings derives the league table from teams and finished fixtures. Every
// team appears even with no games played. Ordering is points, goal
// difference, goals scored, then team id.
func Standings(teams, fixtures []model.Entity) []model.Entity {
	byID := make(map[int64]*tally, len(teams))
	for _, t := range teams {
		byID[t.ID] = &tally{team: t}
	}
	for _, f := range fixtures {
		if !f.Bool("finished") {
			continue
		}
		hs, okH := f.Int("home_score")
		as, okA := f.Int("away_score")
		if !okH || !okA {
			continue
		}
		homeID, _ := f.Int("home_team")
		awayID, _ := f.Int("away_team")
		home, away := byID[homeID], byID[awayID]
		if home == nil || away == nil {
			continue
		}
		home.record(hs, as)
		away.record(as, hs)
	}

	rows := make([]*tally, 0, len(byID))
	for _, t := range byID {
		rows = append(rows, t)
	}
	sort.Slice(rows, func(i, j int) bool {
		a, b := rows[i], rows[j]
		if a.points() != b.points() {
			return a.points() > b.points()
		}
		if a.diff() != b.diff() {
			return a.diff() > b.diff()
		}
		if a.goalsFor != b.goalsFor {
			return a.goalsFor > b.goalsFor
		}
		return a.team.ID < b.team.ID
	})

	out := make([]model.Entity, 0, len(rows))
	for i, r := range rows {
		out = append(out, model.Entity{
			Category: model.Standings,
			ID:       r.team.ID,
			Attributes: map[string]model.Value{
				"position":        model.IntValue(int64(i + 1)),
				"team":            model.IntValue(r.team.ID),
				"team_name":       model.StringValue(r.team.Str("name")),
				"short_name":      model.StringValue(r.team.Str("short_name")),
				"played":          model.IntValue(r.played),
				"wins":            model.IntValue(r.wins),
				"draws":           model.IntValue(r.draws),
				"losses":          model.IntValue(r.losses),
				"goals_for":       model.IntValue(r.goalsFor),
				"goals_against":   model.IntValue(r.goalsAgainst),
				"goal_difference": model.IntValue(r.diff()),
				"points":          model.IntValue(r.points()),
			},
			Refs: map[string]model.Ref{"team": {Category: model.Teams, ID: r.team.ID}},
		})
	}
	return out
}

func (t *tally) record(scored, conceded int64) {
	t.played++
	t.goalsFor += scored
	t.goalsAgainst += conceded
	switch {
	case scored > conceded:
		t.wins++
	case scored < conceded:
		t.losses++
	default:
		t.draws++
	}
}
