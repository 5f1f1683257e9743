package config_test

import (
	"errors"
	"testing"
	"time"

	"github.com/okian/fplcache/internal/config"
	"github.com/smartystreets/goconvey/convey"
)

func TestConfig_New(t *testing.T) {
	convey.Convey("Given a new config with default options", t, func() {
		cfg := config.New()

		convey.Convey("Then it should have sensible defaults", func() {
			convey.So(cfg.Addr, convey.ShouldEqual, ":9080")
			convey.So(cfg.UpstreamMaxAttempts, convey.ShouldEqual, 3)
			convey.So(cfg.UpstreamBackoffMax, convey.ShouldEqual, 8*time.Second)
			convey.So(cfg.SyncTimeout, convey.ShouldEqual, 5*time.Minute)
			convey.So(cfg.StoreDriver, convey.ShouldEqual, config.DriverMemory)
			convey.So(cfg.RetentionGenerations, convey.ShouldEqual, 5)
			convey.So(cfg.SyncAPIKey, convey.ShouldBeEmpty)
			convey.So(cfg.Validate(), convey.ShouldBeNil)
		})
	})
}

func TestConfig_Validate(t *testing.T) {
	convey.Convey("Given a default config", t, func() {
		cfg := config.New()

		convey.Convey("When retention_grace is zero", func() {
			cfg.RetentionGrace = 0

			convey.Convey("Then it is rejected", func() {
				err := cfg.Validate()
				convey.So(errors.Is(err, config.ErrInvalidConfig), convey.ShouldBeTrue)
				convey.So(err.Error(), convey.ShouldContainSubstring, "retention_grace")
			})
		})

		convey.Convey("When retention_grace is at the minimum", func() {
			cfg.RetentionGrace = config.MinRetentionGrace

			convey.Convey("Then it is accepted", func() {
				convey.So(cfg.Validate(), convey.ShouldBeNil)
			})
		})

		convey.Convey("When stale_after is negative", func() {
			cfg.StaleAfter = -time.Second

			convey.Convey("Then it is rejected", func() {
				convey.So(errors.Is(cfg.Validate(), config.ErrInvalidConfig), convey.ShouldBeTrue)
			})
		})
	})
}
