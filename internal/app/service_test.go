package service

import (
	"context"
	"errors"
	"io"
	"net/url"
	"testing"
	"time"

	"github.com/smartystreets/goconvey/convey"

	"github.com/okian/fplcache/internal/adapters/repository"
	"github.com/okian/fplcache/internal/domain/model"
	"github.com/okian/fplcache/internal/domain/query"
	"github.com/okian/fplcache/internal/domain/syncer"
	"github.com/okian/fplcache/internal/domain/transform"
	"github.com/okian/fplcache/internal/fakefpl"
	logging "github.com/okian/fplcache/pkg/logger"
)

func init() {
	_ = logging.Init(logging.WithWriter(io.Discard))
}

func smallSeason() *fakefpl.Dataset {
	return fakefpl.Generate(fakefpl.Config{Teams: 4, PlayersPerTeam: 3, CurrentGameweek: 3})
}

func waitIdle(s *Service) {
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if s.coordinator.State() == model.StateIdle {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
}

func TestServiceBeforeFirstSync(t *testing.T) {
	convey.Convey("Given a service with nothing published", t, func() {
		ctx := context.Background()
		svc := New(repository.NewMemoryStore(), smallSeason(), WithAPIKey("secret"))

		convey.Convey("Reads report not found", func() {
			_, err := svc.Snapshot(ctx)
			convey.So(errors.Is(err, query.ErrNotFound), convey.ShouldBeTrue)
			_, _, err = svc.Entity(ctx, model.Players, 1)
			convey.So(errors.Is(err, query.ErrNotFound), convey.ShouldBeTrue)
			_, err = svc.Fixtures(ctx, 0)
			convey.So(errors.Is(err, query.ErrNotFound), convey.ShouldBeTrue)
		})

		convey.Convey("A wrong key is rejected without creating a run", func() {
			_, err := svc.RequestSync(ctx, "nope")
			convey.So(errors.Is(err, ErrUnauthorized), convey.ShouldBeTrue)
			_, err = svc.RequestSync(ctx, "")
			convey.So(errors.Is(err, ErrUnauthorized), convey.ShouldBeTrue)
			convey.So(len(svc.SyncRuns(ctx)), convey.ShouldEqual, 0)
		})

		convey.Convey("The right key starts a run", func() {
			run, err := svc.RequestSync(ctx, "secret")
			convey.So(err, convey.ShouldBeNil)
			convey.So(run.Trigger, convey.ShouldEqual, model.TriggerAPI)
			waitIdle(svc)

			got, err := svc.SyncRun(ctx, run.ID)
			convey.So(err, convey.ShouldBeNil)
			convey.So(got.Outcome, convey.ShouldEqual, model.OutcomeSuccess)
			info, err := svc.Snapshot(ctx)
			convey.So(err, convey.ShouldBeNil)
			convey.So(info.Version, convey.ShouldEqual, got.Version)

			_, err = svc.SyncRun(ctx, "missing")
			convey.So(errors.Is(err, query.ErrNotFound), convey.ShouldBeTrue)
		})
	})

	convey.Convey("Given a service without a configured key", t, func() {
		svc := New(repository.NewMemoryStore(), smallSeason())
		_, err := svc.RequestSync(context.Background(), "")
		convey.So(errors.Is(err, ErrUnauthorized), convey.ShouldBeTrue)
	})
}

func TestServiceQueries(t *testing.T) {
	convey.Convey("Given a service after one sync", t, func() {
		ctx := context.Background()
		data := smallSeason()
		svc := New(repository.NewMemoryStore(), data)
		_, err := svc.Coordinator().Run(ctx, model.TriggerCLI)
		convey.So(err, convey.ShouldBeNil)

		convey.Convey("An entity reads back exactly as normalized", func() {
			recs, err := data.Records(model.Players)
			convey.So(err, convey.ShouldBeNil)
			res, err := transform.Normalize(model.Players, recs)
			convey.So(err, convey.ShouldBeNil)

			for _, want := range res.Entities {
				got, info, err := svc.Entity(ctx, model.Players, want.ID)
				convey.So(err, convey.ShouldBeNil)
				convey.So(info.Version, convey.ShouldEqual, 1)
				convey.So(got.Equal(want), convey.ShouldBeTrue)
			}
		})

		convey.Convey("An unknown id is not found", func() {
			_, _, err := svc.Entity(ctx, model.Players, 9999)
			convey.So(errors.Is(err, query.ErrNotFound), convey.ShouldBeTrue)
		})

		convey.Convey("List queries filter and page", func() {
			q, err := svc.ParseQuery(model.Players, url.Values{"filter": {"element_type:eq:1"}, "limit": {"3"}})
			convey.So(err, convey.ShouldBeNil)
			page, err := svc.Entities(ctx, q)
			convey.So(err, convey.ShouldBeNil)
			convey.So(page.Total, convey.ShouldEqual, 8)
			convey.So(len(page.Items), convey.ShouldEqual, 3)

			_, err = svc.ParseQuery(model.Players, url.Values{"filter": {"shoe_size:gt:3"}})
			convey.So(errors.Is(err, query.ErrInvalidQuery), convey.ShouldBeTrue)
		})

		convey.Convey("Player search combines team and position", func() {
			page, err := svc.SearchPlayers(ctx, PlayerSearch{Team: "ars"})
			convey.So(err, convey.ShouldBeNil)
			convey.So(page.Total, convey.ShouldEqual, 3)

			page, err = svc.SearchPlayers(ctx, PlayerSearch{Team: "Arsenal", Position: "GK"})
			convey.So(err, convey.ShouldBeNil)
			convey.So(page.Total, convey.ShouldEqual, 2)

			page, err = svc.SearchPlayers(ctx, PlayerSearch{Team: "Nowhere Rovers"})
			convey.So(err, convey.ShouldBeNil)
			convey.So(page.Total, convey.ShouldEqual, 0)

			_, err = svc.SearchPlayers(ctx, PlayerSearch{Position: "striker"})
			convey.So(errors.Is(err, query.ErrInvalidQuery), convey.ShouldBeTrue)
		})

		convey.Convey("Player search sorts descending by default", func() {
			page, err := svc.SearchPlayers(ctx, PlayerSearch{Sort: "total_points", Limit: 12})
			convey.So(err, convey.ShouldBeNil)
			convey.So(len(page.Items), convey.ShouldEqual, 12)
			for i := 1; i < len(page.Items); i++ {
				prev, _ := page.Items[i-1].Int("total_points")
				cur, _ := page.Items[i].Int("total_points")
				convey.So(prev, convey.ShouldBeGreaterThanOrEqualTo, cur)
			}
		})

		convey.Convey("Team search needs two characters and a match", func() {
			teams, _, err := svc.SearchTeams(ctx, "ar")
			convey.So(err, convey.ShouldBeNil)
			convey.So(len(teams), convey.ShouldEqual, 1)
			convey.So(teams[0].Str("name"), convey.ShouldEqual, "Arsenal")

			_, _, err = svc.SearchTeams(ctx, "a")
			convey.So(errors.Is(err, query.ErrInvalidQuery), convey.ShouldBeTrue)
			_, _, err = svc.SearchTeams(ctx, "zz")
			convey.So(errors.Is(err, query.ErrNotFound), convey.ShouldBeTrue)
		})

		convey.Convey("Fixtures default to the current gameweek", func() {
			current, _, err := svc.CurrentGameweek(ctx)
			convey.So(err, convey.ShouldBeNil)
			convey.So(current, convey.ShouldEqual, 3)

			list, err := svc.Fixtures(ctx, 0)
			convey.So(err, convey.ShouldBeNil)
			convey.So(list.Gameweek, convey.ShouldEqual, 3)
			convey.So(len(list.Fixtures), convey.ShouldEqual, 2)

			list, err = svc.Fixtures(ctx, 1)
			convey.So(err, convey.ShouldBeNil)
			convey.So(len(list.Fixtures), convey.ShouldEqual, 2)
			first, _ := list.Fixtures[0].Time("kickoff_time")
			second, _ := list.Fixtures[1].Time("kickoff_time")
			convey.So(first.Before(second), convey.ShouldBeTrue)
		})

		convey.Convey("Standings are ordered by position", func() {
			table, _, err := svc.Standings(ctx)
			convey.So(err, convey.ShouldBeNil)
			convey.So(len(table), convey.ShouldEqual, 4)
			for i, row := range table {
				pos, _ := row.Int("position")
				convey.So(pos, convey.ShouldEqual, i+1)
			}
		})

		convey.Convey("Player context carries the team and upcoming fixtures", func() {
			pc, err := svc.PlayerContext(ctx, 1)
			convey.So(err, convey.ShouldBeNil)
			convey.So(pc.Team, convey.ShouldNotBeNil)
			convey.So(pc.Team.ID, convey.ShouldEqual, 1)
			convey.So(pc.CurrentGameweek, convey.ShouldEqual, 3)
			convey.So(len(pc.UpcomingFixtures), convey.ShouldEqual, 4)
			for _, f := range pc.UpcomingFixtures {
				gw, _ := f.Int("gameweek")
				convey.So(gw, convey.ShouldBeGreaterThanOrEqualTo, 3)
				convey.So(f.Bool("finished"), convey.ShouldBeFalse)
			}

			_, err = svc.PlayerContext(ctx, 4242)
			convey.So(errors.Is(err, query.ErrNotFound), convey.ShouldBeTrue)
		})

		convey.Convey("Schemas are served per category", func() {
			fields, err := svc.Schema(ctx, model.Fixtures)
			convey.So(err, convey.ShouldBeNil)
			convey.So(len(fields), convey.ShouldBeGreaterThan, 5)

			_, err = ParseCategory("managers")
			convey.So(errors.Is(err, query.ErrNotFound), convey.ShouldBeTrue)
		})

		convey.Convey("Stats describe the live snapshot", func() {
			stats := svc.GetStats()
			convey.So(stats["snapshot_version"], convey.ShouldEqual, int64(1))
			convey.So(stats["retained_versions"], convey.ShouldEqual, 1)
		})
	})
}

func TestServiceStaleRead(t *testing.T) {
	convey.Convey("Given a snapshot older than stale_after", t, func() {
		ctx := context.Background()
		later := func() time.Time { return time.Now().Add(2 * time.Hour) }
		svc := New(repository.NewMemoryStore(), smallSeason(),
			WithStaleAfter(time.Hour),
			WithClock(later),
		)
		_, err := svc.Coordinator().Run(ctx, model.TriggerCLI)
		convey.So(err, convey.ShouldBeNil)

		convey.Convey("A read serves the old snapshot and starts a refresh", func() {
			info, err := svc.Snapshot(ctx)
			convey.So(err, convey.ShouldBeNil)
			convey.So(info.Version, convey.ShouldEqual, 1)
			waitIdle(svc)

			runs := svc.SyncRuns(ctx)
			convey.So(len(runs), convey.ShouldEqual, 2)
			convey.So(runs[0].Trigger, convey.ShouldEqual, model.TriggerStaleRead)
		})
	})

	convey.Convey("Given stale refresh disabled", t, func() {
		ctx := context.Background()
		svc := New(repository.NewMemoryStore(), smallSeason(),
			WithClock(func() time.Time { return time.Now().Add(48 * time.Hour) }),
		)
		_, err := svc.Coordinator().Run(ctx, model.TriggerCLI)
		convey.So(err, convey.ShouldBeNil)
		_, err = svc.Snapshot(ctx)
		convey.So(err, convey.ShouldBeNil)
		convey.So(len(svc.SyncRuns(ctx)), convey.ShouldEqual, 1)
	})
}

func TestServiceLifecycle(t *testing.T) {
	convey.Convey("Given a started service with a scheduler", t, func() {
		ctx := context.Background()
		svc := New(repository.NewMemoryStore(), smallSeason(), WithScheduler())
		convey.So(svc.Start(ctx), convey.ShouldBeNil)
		convey.So(svc.Start(ctx), convey.ShouldBeNil)

		stats := svc.GetStats()
		convey.So(stats["started"], convey.ShouldBeTrue)

		sctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		convey.So(svc.Stop(sctx), convey.ShouldBeNil)

		_, err := svc.TriggerSync(ctx, model.TriggerTimer)
		convey.So(errors.Is(err, syncer.ErrShuttingDown), convey.ShouldBeTrue)

		convey.Convey("Then stopping is final", func() {
			convey.So(errors.Is(svc.Start(ctx), ErrStopped), convey.ShouldBeTrue)
			convey.So(svc.GetStats()["started"], convey.ShouldBeFalse)
			convey.So(svc.Stop(sctx), convey.ShouldBeNil)
		})
	})
}
