package transform

import (
	"strings"

	"github.com/okian/fplcache/internal/domain/model"
)

// Position labels keyed by the upstream element_type.
var positions = map[int64]string{
	1: "Goalkeeper",
	2: "Defender",
	3: "Midfielder",
	4: "Forward",
}

// PositionName maps an element_type to its label.
func PositionName(elementType int64) string {
	if p, ok := positions[elementType]; ok {
		return p
	}
	return "Unknown"
}

// PositionCode maps a label or short code (GK, DEF, MID, FWD) back to element_type.
func PositionCode(name string) (int64, bool) {
	switch strings.ToUpper(strings.TrimSpace(name)) {
	case "GK", "GKP", "GOALKEEPER":
		return 1, true
	case "DEF", "DEFENDER":
		return 2, true
	case "MID", "MIDFIELDER":
		return 3, true
	case "FWD", "FORWARD":
		return 4, true
	}
	return 0, false
}

func req(upstream, internal string, kind model.Kind) FieldSpec {
	return FieldSpec{Upstream: upstream, Internal: internal, Kind: kind, Required: true}
}

func opt(upstream, internal string, kind model.Kind) FieldSpec {
	return FieldSpec{Upstream: upstream, Internal: internal, Kind: kind}
}

func ref(upstream, internal string, target model.Category, required bool) FieldSpec {
	return FieldSpec{Upstream: upstream, Internal: internal, Kind: model.KindInt, Required: required, Ref: target}
}

var playersTable = Table{
	Category: model.Players,
	Fields: []FieldSpec{
		req("id", "id", model.KindInt),
		opt("code", "code", model.KindInt),
		req("first_name", "first_name", model.KindString),
		req("second_name", "second_name", model.KindString),
		req("web_name", "web_name", model.KindString),
		req("element_type", "element_type", model.KindInt),
		ref("team", "team", model.Teams, true),
		opt("team_code", "team_code", model.KindInt),
		req("now_cost", "now_cost", model.KindInt),
		req("total_points", "total_points", model.KindInt),
		opt("event_points", "event_points", model.KindInt),
		opt("minutes", "minutes", model.KindInt),
		opt("goals_scored", "goals_scored", model.KindInt),
		opt("assists", "assists", model.KindInt),
		opt("clean_sheets", "clean_sheets", model.KindInt),
		opt("goals_conceded", "goals_conceded", model.KindInt),
		opt("own_goals", "own_goals", model.KindInt),
		opt("penalties_saved", "penalties_saved", model.KindInt),
		opt("penalties_missed", "penalties_missed", model.KindInt),
		opt("yellow_cards", "yellow_cards", model.KindInt),
		opt("red_cards", "red_cards", model.KindInt),
		opt("saves", "saves", model.KindInt),
		opt("bonus", "bonus", model.KindInt),
		opt("bps", "bps", model.KindInt),
		opt("form", "form", model.KindFloat),
		opt("points_per_game", "points_per_game", model.KindFloat),
		opt("selected_by_percent", "selected_by_percent", model.KindFloat),
		opt("influence", "influence", model.KindFloat),
		opt("creativity", "creativity", model.KindFloat),
		opt("threat", "threat", model.KindFloat),
		opt("ict_index", "ict_index", model.KindFloat),
		opt("ep_this", "expected_points_this", model.KindFloat),
		opt("ep_next", "expected_points_next", model.KindFloat),
		opt("expected_goals", "expected_goals", model.KindFloat),
		opt("expected_assists", "expected_assists", model.KindFloat),
		opt("chance_of_playing_this_round", "chance_this_round", model.KindInt),
		opt("chance_of_playing_next_round", "chance_next_round", model.KindInt),
		opt("status", "status", model.KindString),
		opt("news", "news", model.KindString),
		opt("news_added", "news_added", model.KindTime),
	},
	Derived: []Field{
		{Name: "full_name", Kind: model.KindString, Derived: true},
		{Name: "position", Kind: model.KindString, Derived: true},
		{Name: "cost", Kind: model.KindFloat, Derived: true},
	},
	derive: derivePlayer,
}

func derivePlayer(e *model.Entity) {
	e.Attributes["full_name"] = model.StringValue(strings.TrimSpace(e.Str("first_name") + " " + e.Str("second_name")))
	et, _ := e.Int("element_type")
	e.Attributes["position"] = model.StringValue(PositionName(et))
	if c, ok := e.Int("now_cost"); ok {
		e.Attributes["cost"] = model.FloatValue(float64(c) / 10)
	}
}

var teamsTable = Table{
	Category: model.Teams,
	Fields: []FieldSpec{
		req("id", "id", model.KindInt),
		opt("code", "code", model.KindInt),
		req("name", "name", model.KindString),
		req("short_name", "short_name", model.KindString),
		opt("strength", "strength", model.KindInt),
		opt("strength_overall_home", "strength_overall_home", model.KindInt),
		opt("strength_overall_away", "strength_overall_away", model.KindInt),
		opt("strength_attack_home", "strength_attack_home", model.KindInt),
		opt("strength_attack_away", "strength_attack_away", model.KindInt),
		opt("strength_defence_home", "strength_defence_home", model.KindInt),
		opt("strength_defence_away", "strength_defence_away", model.KindInt),
		opt("pulse_id", "pulse_id", model.KindInt),
	},
}

var gameweeksTable = Table{
	Category: model.Gameweeks,
	Fields: []FieldSpec{
		req("id", "id", model.KindInt),
		req("name", "name", model.KindString),
		req("deadline_time", "deadline_time", model.KindTime),
		req("finished", "finished", model.KindBool),
		opt("data_checked", "data_checked", model.KindBool),
		req("is_previous", "is_previous", model.KindBool),
		req("is_current", "is_current", model.KindBool),
		req("is_next", "is_next", model.KindBool),
		opt("average_entry_score", "average_entry_score", model.KindInt),
		opt("highest_score", "highest_score", model.KindInt),
		ref("most_selected", "most_selected", model.Players, false),
		ref("most_captained", "most_captained", model.Players, false),
		ref("top_element", "top_element", model.Players, false),
		opt("transfers_made", "transfers_made", model.KindInt),
	},
}

var fixturesTable = Table{
	Category: model.Fixtures,
	Fields: []FieldSpec{
		req("id", "id", model.KindInt),
		opt("code", "code", model.KindInt),
		ref("event", "gameweek", model.Gameweeks, false),
		opt("kickoff_time", "kickoff_time", model.KindTime),
		req("finished", "finished", model.KindBool),
		opt("started", "started", model.KindBool),
		opt("minutes", "minutes", model.KindInt),
		ref("team_h", "home_team", model.Teams, true),
		ref("team_a", "away_team", model.Teams, true),
		opt("team_h_score", "home_score", model.KindInt),
		opt("team_a_score", "away_score", model.KindInt),
		opt("team_h_difficulty", "home_difficulty", model.KindInt),
		opt("team_a_difficulty", "away_difficulty", model.KindInt),
	},
	Derived: []Field{
		{Name: "result", Kind: model.KindString, Derived: true},
	},
	derive: deriveFixture,
}

// deriveFixture records H, A or D for finished fixtures with both scores.
func deriveFixture(e *model.Entity) {
	if !e.Bool("finished") {
		return
	}
	h, okH := e.Int("home_score")
	a, okA := e.Int("away_score")
	if !okH || !okA {
		return
	}
	switch {
	case h > a:
		e.Attributes["result"] = model.StringValue("H")
	case a > h:
		e.Attributes["result"] = model.StringValue("A")
	default:
		e.Attributes["result"] = model.StringValue("D")
	}
}

var tables = map[model.Category]*Table{
	model.Players:   &playersTable,
	model.Teams:     &teamsTable,
	model.Gameweeks: &gameweeksTable,
	model.Fixtures:  &fixturesTable,
}
