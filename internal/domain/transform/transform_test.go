package transform_test

import (
	"errors"
	"fmt"
	"testing"

	"github.com/okian/fplcache/internal/domain/model"
	"github.com/okian/fplcache/internal/domain/transform"
	. "github.com/smartystreets/goconvey/convey"
)

func playerJSON(id int, extra string) model.RawRecord {
	return model.RawRecord(fmt.Sprintf(`{
		"id": %d, "code": %d, "first_name": "First%d", "second_name": "Last%d",
		"web_name": "P%d", "element_type": %d, "team": %d, "now_cost": 55,
		"total_points": %d, "form": "5.5", "selected_by_percent": "12.3",
		"chance_of_playing_next_round": null, "news": "", "news_added": null %s
	}`, id, 1000+id, id, id, id, id%4+1, id%20+1, id*2, extra))
}

func TestNormalizePlayers(t *testing.T) {
	Convey("Given a batch of 100 player records with 3 missing a required field", t, func() {
		records := make([]model.RawRecord, 0, 100)
		for i := 1; i <= 100; i++ {
			rec := playerJSON(i, "")
			if i%40 == 0 || i == 7 {
				rec = model.RawRecord(fmt.Sprintf(`{"id": %d, "first_name": "No", "second_name": "Team", "web_name": "x", "element_type": 1, "now_cost": 40, "total_points": 0}`, i))
			}
			records = append(records, rec)
		}

		Convey("When normalizing", func() {
			res, err := transform.Normalize(model.Players, records)

			Convey("Then 97 entities are produced and 3 are skipped", func() {
				So(err, ShouldBeNil)
				So(len(res.Entities), ShouldEqual, 97)
				So(len(res.Skipped), ShouldEqual, 3)
				for _, s := range res.Skipped {
					So(errors.Is(s, transform.ErrMissingField), ShouldBeTrue)
					So(s.Field, ShouldEqual, "team")
				}
				So(res.Skipped[0].Index, ShouldEqual, 6)
				So(res.Skipped[0].RecordID, ShouldEqual, 7)
			})
		})
	})

	Convey("Given a single well formed player", t, func() {
		res, err := transform.Normalize(model.Players, []model.RawRecord{playerJSON(10, "")})
		So(err, ShouldBeNil)
		So(len(res.Entities), ShouldEqual, 1)
		p := res.Entities[0]

		Convey("Then numeric strings become numbers", func() {
			So(p.Attributes["form"].Kind, ShouldEqual, model.KindFloat)
			So(p.Attributes["form"].Float, ShouldEqual, 5.5)
			So(p.Attributes["selected_by_percent"].Float, ShouldEqual, 12.3)
		})

		Convey("Then nullable fields are absent", func() {
			_, ok := p.Attributes["chance_next_round"]
			So(ok, ShouldBeFalse)
			_, ok = p.Attributes["news_added"]
			So(ok, ShouldBeFalse)
		})

		Convey("Then empty strings are kept for string fields", func() {
			So(p.Attributes["news"].Kind, ShouldEqual, model.KindString)
			So(p.Attributes["news"].Str, ShouldEqual, "")
		})

		Convey("Then derived fields are computed", func() {
			So(p.Str("full_name"), ShouldEqual, "First10 Last10")
			So(p.Str("position"), ShouldEqual, "Midfielder")
			So(p.Attributes["cost"].Float, ShouldEqual, 5.5)
		})

		Convey("Then the team is a reference", func() {
			So(p.Refs["team"], ShouldResemble, model.Ref{Category: model.Teams, ID: 11})
		})
	})

	Convey("Given records with type problems", t, func() {
		records := []model.RawRecord{
			playerJSON(1, `, "minutes": "ninety"`),
			playerJSON(2, `, "status": 5`),
			model.RawRecord(`[1, 2, 3]`),
			model.RawRecord(`not json`),
			playerJSON(1, ""),
			playerJSON(3, ""),
			playerJSON(3, ""),
		}

		Convey("When normalizing", func() {
			res, err := transform.Normalize(model.Players, records)

			Convey("Then each bad record is skipped with a reason", func() {
				So(err, ShouldBeNil)
				So(len(res.Entities), ShouldEqual, 2)
				So(len(res.Skipped), ShouldEqual, 5)
				So(errors.Is(res.Skipped[0], transform.ErrTypeMismatch), ShouldBeTrue)
				So(res.Skipped[0].Field, ShouldEqual, "minutes")
				So(errors.Is(res.Skipped[1], transform.ErrTypeMismatch), ShouldBeTrue)
				So(errors.Is(res.Skipped[2], transform.ErrNotObject), ShouldBeTrue)
				So(errors.Is(res.Skipped[3], transform.ErrNotObject), ShouldBeTrue)
				So(errors.Is(res.Skipped[4], transform.ErrDuplicateID), ShouldBeTrue)
				So(res.Skipped[4].Index, ShouldEqual, 6)
			})
		})
	})

	Convey("Given integers that do not fit in 64 bits", t, func() {
		records := []model.RawRecord{
			model.RawRecord(`{"id": 12345678901234567890, "name": "Arsenal", "short_name": "ARS"}`),
			model.RawRecord(`{"id": -12345678901234567890, "name": "Aston Villa", "short_name": "AVL"}`),
			model.RawRecord(`{"id": "9223372036854775808", "name": "Bournemouth", "short_name": "BOU"}`),
			model.RawRecord(`{"id": 4, "name": "Brentford", "short_name": "BRE"}`),
		}

		Convey("When normalizing", func() {
			res, err := transform.Normalize(model.Teams, records)

			Convey("Then the records are skipped instead of wrapped", func() {
				So(err, ShouldBeNil)
				So(len(res.Entities), ShouldEqual, 1)
				So(res.Entities[0].ID, ShouldEqual, 4)
				So(len(res.Skipped), ShouldEqual, 3)
				for _, s := range res.Skipped {
					So(errors.Is(s, transform.ErrTypeMismatch), ShouldBeTrue)
					So(s.Field, ShouldEqual, "id")
				}
			})
		})
	})

	Convey("Given an unknown category", t, func() {
		_, err := transform.Normalize(model.Category("managers"), nil)

		Convey("Then it fails without a field table", func() {
			So(errors.Is(err, transform.ErrNoFieldTable), ShouldBeTrue)
		})
	})
}

func TestNormalizeFixtures(t *testing.T) {
	Convey("Given finished and upcoming fixtures", t, func() {
		records := []model.RawRecord{
			model.RawRecord(`{"id": 1, "event": 1, "finished": true, "team_h": 1, "team_a": 2, "team_h_score": 2, "team_a_score": 0, "kickoff_time": "2024-08-16T19:00:00Z"}`),
			model.RawRecord(`{"id": 2, "event": 1, "finished": true, "team_h": 3, "team_a": 4, "team_h_score": 1, "team_a_score": 1, "kickoff_time": "2024-08-17T14:00:00Z"}`),
			model.RawRecord(`{"id": 3, "event": null, "finished": false, "team_h": 2, "team_a": 3, "team_h_score": null, "team_a_score": null, "kickoff_time": null}`),
		}

		Convey("When normalizing", func() {
			res, err := transform.Normalize(model.Fixtures, records)
			So(err, ShouldBeNil)
			So(len(res.Entities), ShouldEqual, 3)

			Convey("Then upstream names are mapped and results derived", func() {
				f := res.Entities[0]
				home, _ := f.Int("home_team")
				So(home, ShouldEqual, 1)
				So(f.Refs["gameweek"], ShouldResemble, model.Ref{Category: model.Gameweeks, ID: 1})
				So(f.Str("result"), ShouldEqual, "H")
				So(res.Entities[1].Str("result"), ShouldEqual, "D")
			})

			Convey("Then an unscheduled fixture has no gameweek and no result", func() {
				f := res.Entities[2]
				_, ok := f.Attributes["gameweek"]
				So(ok, ShouldBeFalse)
				_, ok = f.Attributes["result"]
				So(ok, ShouldBeFalse)
				_, ok = f.Refs["gameweek"]
				So(ok, ShouldBeFalse)
			})
		})
	})
}

func TestStandings(t *testing.T) {
	Convey("Given teams and finished fixtures", t, func() {
		teams, err := transform.Normalize(model.Teams, []model.RawRecord{
			model.RawRecord(`{"id": 1, "name": "Arsenal", "short_name": "ARS"}`),
			model.RawRecord(`{"id": 2, "name": "Aston Villa", "short_name": "AVL"}`),
			model.RawRecord(`{"id": 3, "name": "Bournemouth", "short_name": "BOU"}`),
		})
		So(err, ShouldBeNil)
		fixtures, err := transform.Normalize(model.Fixtures, []model.RawRecord{
			model.RawRecord(`{"id": 1, "finished": true, "team_h": 1, "team_a": 2, "team_h_score": 3, "team_a_score": 1}`),
			model.RawRecord(`{"id": 2, "finished": true, "team_h": 3, "team_a": 2, "team_h_score": 0, "team_a_score": 0}`),
			model.RawRecord(`{"id": 3, "finished": false, "team_h": 2, "team_a": 1}`),
		})
		So(err, ShouldBeNil)

		Convey("When deriving the table", func() {
			table := transform.Standings(teams.Entities, fixtures.Entities)

			Convey("Then rows are ordered by points then goal difference", func() {
				So(len(table), ShouldEqual, 3)
				So(table[0].ID, ShouldEqual, 1)
				pts, _ := table[0].Int("points")
				So(pts, ShouldEqual, 3)
				So(table[1].ID, ShouldEqual, 3)
				So(table[2].ID, ShouldEqual, 2)
				gd, _ := table[2].Int("goal_difference")
				So(gd, ShouldEqual, -2)
				pos, _ := table[2].Int("position")
				So(pos, ShouldEqual, 3)
				So(table[0].Str("team_name"), ShouldEqual, "Arsenal")
				So(table[0].Category, ShouldEqual, model.Standings)
			})
		})
	})
}

func TestSchema(t *testing.T) {
	Convey("Given the player schema", t, func() {
		fields, err := transform.Schema(model.Players)
		So(err, ShouldBeNil)

		Convey("Then it lists mapped and derived fields", func() {
			names := map[string]transform.Field{}
			for _, f := range fields {
				names[f.Name] = f
			}
			So(names["id"].Kind, ShouldEqual, model.KindInt)
			So(names["expected_points_next"].Upstream, ShouldEqual, "ep_next")
			So(names["cost"].Derived, ShouldBeTrue)
			So(names["team"].Ref, ShouldEqual, model.Teams)
		})

		Convey("Then field kinds can be looked up", func() {
			k, ok := transform.FieldKind(model.Players, "form")
			So(ok, ShouldBeTrue)
			So(k, ShouldEqual, model.KindFloat)
			_, ok = transform.FieldKind(model.Players, "nope")
			So(ok, ShouldBeFalse)
			k, ok = transform.FieldKind(model.Standings, "points")
			So(ok, ShouldBeTrue)
			So(k, ShouldEqual, model.KindInt)
		})
	})

	Convey("Given position labels", t, func() {
		So(transform.PositionName(1), ShouldEqual, "Goalkeeper")
		So(transform.PositionName(9), ShouldEqual, "Unknown")
		code, ok := transform.PositionCode("mid")
		So(ok, ShouldBeTrue)
		So(code, ShouldEqual, 3)
	})
}
