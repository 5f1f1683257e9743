package repository

import (
	"context"
	"errors"
	"io"
	"path/filepath"
	"strconv"
	"sync"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"

	"github.com/okian/fplcache/internal/domain/model"
	"github.com/okian/fplcache/pkg/logger"
)

func init() {
	_ = logger.Init(logger.WithWriter(io.Discard))
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 8, 15, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func team(id int64, name string) model.Entity {
	return model.Entity{
		Category: model.Teams,
		ID:       id,
		Attributes: map[string]model.Value{
			"name":     model.StringValue(name),
			"strength": model.IntValue(id % 5),
		},
	}
}

func player(id, teamID int64, cost float64) model.Entity {
	return model.Entity{
		Category: model.Players,
		ID:       id,
		Attributes: map[string]model.Value{
			"web_name":  model.StringValue("P"),
			"cost":      model.FloatValue(cost),
			"available": model.BoolValue(id%2 == 0),
			"kickoff":   model.TimeValue(time.Date(2025, 8, 16, 14, 0, 0, 0, time.UTC)),
		},
		Refs: map[string]model.Ref{"team": {Category: model.Teams, ID: teamID}},
	}
}

// publish stages and commits one version.
func publish(ctx context.Context, s Store, sets ...[]model.Entity) model.SnapshotInfo {
	h, err := s.BeginWrite(ctx, "run")
	So(err, ShouldBeNil)
	for _, set := range sets {
		So(s.Write(ctx, h, set), ShouldBeNil)
	}
	info, err := s.Commit(ctx, h)
	So(err, ShouldBeNil)
	return info
}

type backend struct {
	name string
	open func(t *testing.T, clock *fakeClock) Store
}

var backends = []backend{
	{"memory", func(_ *testing.T, clock *fakeClock) Store {
		return NewMemoryStore(WithClock(clock.Now), WithRetention(2, time.Minute))
	}},
	{"sqlite", func(t *testing.T, clock *fakeClock) Store {
		s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "store"), WithClock(clock.Now), WithRetention(2, time.Minute))
		if err != nil {
			t.Fatalf("open sqlite store: %v", err)
		}
		return s
	}},
}

func TestStoreContract(t *testing.T) {
	for _, b := range backends {
		Convey("Given an empty "+b.name+" store", t, func() {
			ctx := context.Background()
			clock := newFakeClock()
			s := b.open(t, clock)
			defer func() { _ = s.Close() }()

			Convey("Then nothing is published", func() {
				_, err := s.Latest(ctx)
				So(errors.Is(err, ErrNoSnapshot), ShouldBeTrue)
				_, _, err = s.ReadLatest(ctx, Filter{Category: model.Teams})
				So(errors.Is(err, ErrNoSnapshot), ShouldBeTrue)
			})

			Convey("When a version is written but not committed", func() {
				h, err := s.BeginWrite(ctx, "r1")
				So(err, ShouldBeNil)
				So(s.Write(ctx, h, []model.Entity{team(1, "Arsenal")}), ShouldBeNil)

				Convey("Then readers do not see it", func() {
					_, err := s.Latest(ctx)
					So(errors.Is(err, ErrNoSnapshot), ShouldBeTrue)
					_, err = s.ReadVersion(ctx, h.Version, Filter{Category: model.Teams})
					So(errors.Is(err, ErrUnknownVersion), ShouldBeTrue)
				})

				Convey("Then writing the same category again fails", func() {
					err := s.Write(ctx, h, []model.Entity{team(2, "Villa")})
					So(errors.Is(err, ErrCategoryWritten), ShouldBeTrue)
				})

				Convey("Then mixing categories in one write fails", func() {
					err := s.Write(ctx, h, []model.Entity{player(1, 1, 5), team(2, "Villa")})
					So(errors.Is(err, ErrMixedCategories), ShouldBeTrue)
				})
			})

			Convey("When entities are committed", func() {
				teams := []model.Entity{team(3, "Chelsea"), team(1, "Arsenal"), team(2, "Villa")}
				players := []model.Entity{player(10, 1, 5.5), player(11, 3, 7)}
				info := publish(ctx, s, teams, players)

				Convey("Then they read back equal and ordered by id", func() {
					got, live, err := s.ReadLatest(ctx, Filter{Category: model.Teams})
					So(err, ShouldBeNil)
					So(live.Version, ShouldEqual, info.Version)
					So(len(got), ShouldEqual, 3)
					So(got[0].Equal(teams[1]), ShouldBeTrue)
					So(got[2].Equal(teams[0]), ShouldBeTrue)

					ps, _, err := s.ReadLatest(ctx, Filter{Category: model.Players, IDs: []int64{11, 99, 11}})
					So(err, ShouldBeNil)
					So(len(ps), ShouldEqual, 1)
					So(ps[0].Equal(players[1]), ShouldBeTrue)
				})

				Convey("Then counts are recorded per category", func() {
					So(info.Counts[model.Teams], ShouldEqual, 3)
					So(info.Counts[model.Players], ShouldEqual, 2)
					So(info.CommittedAt, ShouldEqual, clock.Now())
				})

				Convey("Then a match function narrows the read", func() {
					got, _, err := s.ReadLatest(ctx, Filter{Category: model.Teams, Match: func(e model.Entity) bool {
						return e.Str("name") == "Villa"
					}})
					So(err, ShouldBeNil)
					So(len(got), ShouldEqual, 1)
					So(got[0].ID, ShouldEqual, 2)
				})

				Convey("Then committing the same handle again fails", func() {
					_, err := s.Commit(ctx, WriteHandle{Version: info.Version})
					So(errors.Is(err, ErrHandleClosed), ShouldBeTrue)
				})
			})

			Convey("When an older handle commits after a newer one", func() {
				older, err := s.BeginWrite(ctx, "old")
				So(err, ShouldBeNil)
				So(s.Write(ctx, older, []model.Entity{team(1, "Old")}), ShouldBeNil)
				newer := publish(ctx, s, []model.Entity{team(1, "New")})

				_, err = s.Commit(ctx, older)

				Convey("Then the commit is stale and the newer version stays live", func() {
					So(errors.Is(err, ErrStaleCommit), ShouldBeTrue)
					live, err := s.Latest(ctx)
					So(err, ShouldBeNil)
					So(live.Version, ShouldEqual, newer.Version)
					So(older.Version, ShouldBeLessThan, newer.Version)
				})
			})

			Convey("When a handle is aborted", func() {
				first := publish(ctx, s, []model.Entity{team(1, "Arsenal")})
				h, err := s.BeginWrite(ctx, "r2")
				So(err, ShouldBeNil)
				So(s.Write(ctx, h, []model.Entity{team(1, "Changed")}), ShouldBeNil)
				So(s.Abort(ctx, h), ShouldBeNil)

				Convey("Then it cannot be committed and the live snapshot is unchanged", func() {
					_, err := s.Commit(ctx, h)
					So(errors.Is(err, ErrHandleClosed), ShouldBeTrue)
					got, live, err := s.ReadLatest(ctx, Filter{Category: model.Teams})
					So(err, ShouldBeNil)
					So(live.Version, ShouldEqual, first.Version)
					So(got[0].Str("name"), ShouldEqual, "Arsenal")
				})

				Convey("Then the next version number is not reused", func() {
					clock.Advance(2 * time.Minute)
					_, err := s.Prune(ctx)
					So(err, ShouldBeNil)
					next, err := s.BeginWrite(ctx, "r3")
					So(err, ShouldBeNil)
					So(next.Version, ShouldBeGreaterThan, h.Version)
				})
			})

			Convey("When more versions exist than retention keeps", func() {
				v1 := publish(ctx, s, []model.Entity{team(1, "v1")})
				clock.Advance(10 * time.Second)
				v2 := publish(ctx, s, []model.Entity{team(1, "v2")})
				clock.Advance(10 * time.Second)
				v3 := publish(ctx, s, []model.Entity{team(1, "v3")})

				Convey("Then a recently superseded version survives the grace period", func() {
					n, err := s.Prune(ctx)
					So(err, ShouldBeNil)
					So(n, ShouldEqual, 0)
					old, err := s.ReadVersion(ctx, v1.Version, Filter{Category: model.Teams})
					So(err, ShouldBeNil)
					So(old[0].Str("name"), ShouldEqual, "v1")
				})

				Convey("Then after the grace period only the newest generations remain", func() {
					clock.Advance(2 * time.Minute)
					n, err := s.Prune(ctx)
					So(err, ShouldBeNil)
					So(n, ShouldEqual, 1)

					_, err = s.ReadVersion(ctx, v1.Version, Filter{Category: model.Teams})
					So(errors.Is(err, ErrUnknownVersion), ShouldBeTrue)

					versions, err := s.Versions(ctx)
					So(err, ShouldBeNil)
					So(len(versions), ShouldEqual, 2)
					So(versions[0].Version, ShouldEqual, v3.Version)
					So(versions[1].Version, ShouldEqual, v2.Version)
				})
			})

			Convey("When a write is in flight during pruning", func() {
				publish(ctx, s, []model.Entity{team(1, "live")})
				h, err := s.BeginWrite(ctx, "slow")
				So(err, ShouldBeNil)
				clock.Advance(time.Hour)
				_, err = s.Prune(ctx)
				So(err, ShouldBeNil)

				Convey("Then it can still be committed", func() {
					So(s.Write(ctx, h, []model.Entity{team(1, "fresh")}), ShouldBeNil)
					info, err := s.Commit(ctx, h)
					So(err, ShouldBeNil)
					So(info.Version, ShouldEqual, h.Version)
				})
			})
		})
	}
}

func TestConcurrentReadersSeeWholeVersions(t *testing.T) {
	Convey("Given readers racing a writer on the memory store", t, func() {
		ctx := context.Background()
		s := NewMemoryStore()
		build := func(tag string) []model.Entity {
			out := make([]model.Entity, 50)
			for i := range out {
				out[i] = team(int64(i+1), tag)
			}
			return out
		}
		publish(ctx, s, build("v0"))

		var wg sync.WaitGroup
		torn := make(chan string, 1)
		stop := make(chan struct{})
		for r := 0; r < 4; r++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for {
					select {
					case <-stop:
						return
					default:
					}
					got, _, err := s.ReadLatest(ctx, Filter{Category: model.Teams})
					if err != nil || len(got) != 50 {
						select {
						case torn <- "short read":
						default:
						}
						return
					}
					for _, e := range got {
						if e.Str("name") != got[0].Str("name") {
							select {
							case torn <- "mixed versions":
							default:
							}
							return
						}
					}
				}
			}()
		}
		for i := 1; i <= 20; i++ {
			h, _ := s.BeginWrite(ctx, "w")
			_ = s.Write(ctx, h, build("v"+strconv.Itoa(i)))
			_, _ = s.Commit(ctx, h)
		}
		close(stop)
		wg.Wait()

		Convey("Then no reader observed a mixed or partial snapshot", func() {
			So(len(torn), ShouldEqual, 0)
		})
	})
}

func TestSQLitePointerSurvivesReopen(t *testing.T) {
	Convey("Given a sqlite store with a published snapshot", t, func() {
		ctx := context.Background()
		path := filepath.Join(t.TempDir(), "durable")
		s, err := NewSQLiteStore(path)
		So(err, ShouldBeNil)
		info := publish(ctx, s, []model.Entity{player(7, 2, 6.5)})
		So(s.Close(), ShouldBeNil)

		Convey("When the database is reopened", func() {
			again, err := NewSQLiteStore(path)
			So(err, ShouldBeNil)
			defer func() { _ = again.Close() }()

			Convey("Then the same version is live with identical entities", func() {
				got, live, err := again.ReadLatest(ctx, Filter{Category: model.Players})
				So(err, ShouldBeNil)
				So(live.Version, ShouldEqual, info.Version)
				So(live.Counts[model.Players], ShouldEqual, 1)
				So(got[0].Equal(player(7, 2, 6.5)), ShouldBeTrue)
			})
		})
	})
}

func TestOpen(t *testing.T) {
	Convey("Given store drivers", t, func() {
		Convey("When the driver is unknown", func() {
			_, err := Open("redis", "")

			Convey("Then it is rejected", func() {
				So(errors.Is(err, ErrUnsupportedStore), ShouldBeTrue)
			})
		})

		Convey("When the driver is memory", func() {
			s, err := Open("memory", "")

			Convey("Then a memory store is returned", func() {
				So(err, ShouldBeNil)
				_, ok := s.(*MemoryStore)
				So(ok, ShouldBeTrue)
			})
		})
	})
}

func TestRetentionGraceFloor(t *testing.T) {
	Convey("Given a store configured with no grace and one generation", t, func() {
		ctx := context.Background()
		clock := newFakeClock()
		s := NewMemoryStore(WithClock(clock.Now), WithRetention(1, 0))
		defer func() { _ = s.Close() }()

		v1 := publish(ctx, s, []model.Entity{team(1, "Arsenal")})
		clock.Advance(time.Second)
		publish(ctx, s, []model.Entity{team(1, "Arsenal"), team(2, "Villa")})

		Convey("When pruning right after the superseding commit", func() {
			n, err := s.Prune(ctx)

			Convey("Then a read pinned to the old version still succeeds", func() {
				So(err, ShouldBeNil)
				So(n, ShouldEqual, 0)
				list, err := s.ReadVersion(ctx, v1.Version, Filter{Category: model.Teams})
				So(err, ShouldBeNil)
				So(len(list), ShouldEqual, 1)
			})
		})

		Convey("When pruning after the minimum grace", func() {
			clock.Advance(MinGrace)
			n, err := s.Prune(ctx)

			Convey("Then the old version is gone", func() {
				So(err, ShouldBeNil)
				So(n, ShouldEqual, 1)
				_, err := s.ReadVersion(ctx, v1.Version, Filter{Category: model.Teams})
				So(errors.Is(err, ErrUnknownVersion), ShouldBeTrue)
			})
		})
	})
}

func TestRetentionPrunable(t *testing.T) {
	Convey("Given retention of two generations and a one minute grace", t, func() {
		r := Retention{Generations: 2, Grace: time.Minute}
		t0 := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
		states := []versionState{
			{Version: 1, CreatedAt: t0, CommittedAt: t0},
			{Version: 2, CreatedAt: t0, CommittedAt: t0.Add(time.Minute)},
			{Version: 3, CreatedAt: t0, CommittedAt: t0.Add(2 * time.Minute)},
			{Version: 4, CreatedAt: t0.Add(2 * time.Minute)},
			{Version: 5, CreatedAt: t0, InFlight: true},
			{Version: 6, CreatedAt: t0.Add(3 * time.Minute)},
		}

		Convey("When checked well after every commit", func() {
			got := r.Prunable(states, 3, t0.Add(10*time.Minute))

			Convey("Then old committed and abandoned versions go, in-flight ones stay", func() {
				So(got, ShouldResemble, []int64{1, 4, 6})
			})
		})

		Convey("When the superseding commit is recent", func() {
			got := r.Prunable(states, 3, t0.Add(90*time.Second))

			Convey("Then the superseded version is kept", func() {
				So(got, ShouldBeEmpty)
			})
		})

		Convey("When the live version is the only one", func() {
			got := Retention{Generations: 1}.Prunable(states[:1], 1, t0.Add(time.Hour))

			Convey("Then it is never pruned", func() {
				So(got, ShouldBeEmpty)
			})
		})
	})
}
