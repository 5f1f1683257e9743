package service_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"

	"github.com/okian/fplcache/internal/adapters/repository"
	"github.com/okian/fplcache/internal/adapters/upstream"
	service "github.com/okian/fplcache/internal/app"
	"github.com/okian/fplcache/internal/domain/model"
	"github.com/okian/fplcache/internal/fakefpl"
)

func newClient(base string) *upstream.Client {
	return upstream.New(
		upstream.WithBaseURL(base),
		upstream.WithMaxAttempts(2),
		upstream.WithBackoff(time.Millisecond, 2*time.Millisecond),
	)
}

func playerTotal(ctx context.Context, svc *service.Service) int {
	q, err := svc.ParseQuery(model.Players, url.Values{"limit": {"1000"}})
	So(err, ShouldBeNil)
	page, err := svc.Entities(ctx, q)
	So(err, ShouldBeNil)
	return page.Total
}

func TestServiceIntegration(t *testing.T) {
	Convey("Given a fake upstream and a SQLite store", t, func() {
		ctx := context.Background()
		data := fakefpl.Generate(fakefpl.Config{Teams: 6, PlayersPerTeam: 5, CurrentGameweek: 4})
		fake := fakefpl.NewServer(data)
		srv := httptest.NewServer(fake)
		defer srv.Close()

		path := filepath.Join(t.TempDir(), "fpl")
		store, err := repository.NewSQLiteStore(path)
		So(err, ShouldBeNil)
		svc := service.New(store, newClient(srv.URL+"/api"))

		Convey("When a cycle runs end to end", func() {
			defer func() { _ = svc.Stop(ctx) }()
			run, err := svc.Coordinator().Run(ctx, model.TriggerCLI)
			So(err, ShouldBeNil)

			Convey("Then every category is published", func() {
				So(run.Outcome, ShouldEqual, model.OutcomeSuccess)
				So(run.Version, ShouldEqual, 1)
				So(playerTotal(ctx, svc), ShouldEqual, 30)

				rows, _, err := svc.Standings(ctx)
				So(err, ShouldBeNil)
				So(len(rows), ShouldEqual, 6)

				gw, _, err := svc.CurrentGameweek(ctx)
				So(err, ShouldBeNil)
				So(gw, ShouldEqual, 4)
			})

			Convey("Then each document is fetched at most once per category", func() {
				So(fake.Hits(fakefpl.PathBootstrap), ShouldBeBetweenOrEqual, 1, 3)
				So(fake.Hits(fakefpl.PathFixtures), ShouldEqual, 1)
			})

			Convey("And the snapshot survives reopening the store", func() {
				So(svc.Stop(ctx), ShouldBeNil)

				reopened, err := repository.NewSQLiteStore(path)
				So(err, ShouldBeNil)
				again := service.New(reopened, newClient(srv.URL+"/api"))
				defer func() { _ = again.Stop(ctx) }()

				info, err := again.Snapshot(ctx)
				So(err, ShouldBeNil)
				So(info.Version, ShouldEqual, 1)
				So(playerTotal(ctx, again), ShouldEqual, 30)
			})
		})

		Convey("When the fixtures endpoint fails once", func() {
			defer func() { _ = svc.Stop(ctx) }()
			fake.Fail(fakefpl.PathFixtures, fakefpl.Fault{Status: http.StatusBadGateway})

			run, err := svc.Coordinator().Run(ctx, model.TriggerCLI)

			Convey("Then the retry recovers it", func() {
				So(err, ShouldBeNil)
				So(run.Outcome, ShouldEqual, model.OutcomeSuccess)
				So(fake.Hits(fakefpl.PathFixtures), ShouldEqual, 2)
			})
		})

		Convey("When fixtures fail after a good cycle", func() {
			defer func() { _ = svc.Stop(ctx) }()
			_, err := svc.Coordinator().Run(ctx, model.TriggerCLI)
			So(err, ShouldBeNil)

			fake.Fail(fakefpl.PathFixtures,
				fakefpl.Fault{Status: http.StatusServiceUnavailable},
				fakefpl.Fault{Status: http.StatusServiceUnavailable},
			)
			run, err := svc.Coordinator().Run(ctx, model.TriggerCLI)

			Convey("Then the previous fixtures are carried into a partial snapshot", func() {
				So(err, ShouldBeNil)
				So(run.Version, ShouldEqual, 2)
				So(run.Outcome, ShouldEqual, model.OutcomePartial)
				So(run.Categories[model.Fixtures].CarriedForward, ShouldBeTrue)
				So(run.Categories[model.Fixtures].Error, ShouldNotBeBlank)

				list, err := svc.Fixtures(ctx, 1)
				So(err, ShouldBeNil)
				So(list.Snapshot.Version, ShouldEqual, 2)
				So(len(list.Fixtures), ShouldEqual, 3)
			})
		})

		Convey("When the upstream serves garbage", func() {
			defer func() { _ = svc.Stop(ctx) }()
			garbage := fakefpl.Fault{Status: http.StatusOK, Body: "<html>"}
			fake.Fail(fakefpl.PathBootstrap, garbage, garbage, garbage)
			fake.Fail(fakefpl.PathFixtures, fakefpl.Fault{Status: http.StatusOK, Body: "{"})

			_, err := svc.Coordinator().Run(ctx, model.TriggerCLI)

			Convey("Then nothing is published and reads stay not found", func() {
				So(err, ShouldNotBeNil)
				_, err = svc.Snapshot(ctx)
				So(err, ShouldNotBeNil)
			})
		})
	})
}
