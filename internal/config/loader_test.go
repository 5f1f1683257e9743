package config_test

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/okian/fplcache/internal/config"
	"github.com/okian/fplcache/internal/domain/model"
	"github.com/smartystreets/goconvey/convey"
)

func TestConfigLoader(t *testing.T) {
	convey.Convey("Given a config loader", t, func() {
		ctx := context.Background()
		clearConfigEnvVars()

		convey.Convey("When loading config with defaults only", func() {
			cfg, err := config.Load(ctx)

			convey.Convey("Then it should load successfully with defaults", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(cfg.Addr, convey.ShouldEqual, ":9080")
				convey.So(cfg.SyncInterval, convey.ShouldEqual, 8*time.Hour)
				convey.So(cfg.Categories, convey.ShouldResemble, []string{"players", "teams", "gameweeks", "fixtures"})
				convey.So(cfg.CarryForward, convey.ShouldBeTrue)
			})
		})

		convey.Convey("When loading config with environment variables", func() {
			_ = os.Setenv("FPLCACHE_ADDR", ":8080")
			_ = os.Setenv("FPLCACHE_SYNC_INTERVAL", "90m")
			_ = os.Setenv("FPLCACHE_SYNC_API_KEY", "s3cret")
			_ = os.Setenv("FPLCACHE_CATEGORIES", "teams,fixtures")
			_ = os.Setenv("FPLCACHE_CARRY_FORWARD", "false")
			_ = os.Setenv("FPLCACHE_UPSTREAM_MAX_ATTEMPTS", "5")
			defer clearConfigEnvVars()

			cfg, err := config.Load(ctx)

			convey.Convey("Then it should override defaults with env vars", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(cfg.Addr, convey.ShouldEqual, ":8080")
				convey.So(cfg.SyncInterval, convey.ShouldEqual, 90*time.Minute)
				convey.So(cfg.SyncAPIKey, convey.ShouldEqual, "s3cret")
				convey.So(cfg.Categories, convey.ShouldResemble, []string{"teams", "fixtures"})
				convey.So(cfg.CarryForward, convey.ShouldBeFalse)
				convey.So(cfg.UpstreamMaxAttempts, convey.ShouldEqual, 5)
			})
		})

		convey.Convey("When loading config with both file and environment variables", func() {
			yamlContent := `
addr: ":9090"
store_driver: sqlite
store_path: /tmp/fpl
retention_generations: 3
sync_timeout: 2m
categories:
  - players
  - teams
`
			tmpFile := createTempConfigFile(yamlContent)
			defer func() { _ = os.Remove(tmpFile) }()

			_ = os.Setenv("FPLCACHE_CONFIG", tmpFile)
			_ = os.Setenv("FPLCACHE_ADDR", ":8080")
			defer clearConfigEnvVars()

			cfg, err := config.Load(ctx)

			convey.Convey("Then environment variables should override file values", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(cfg.Addr, convey.ShouldEqual, ":8080")
				convey.So(cfg.StoreDriver, convey.ShouldEqual, config.DriverSQLite)
				convey.So(cfg.StorePath, convey.ShouldEqual, "/tmp/fpl")
				convey.So(cfg.RetentionGenerations, convey.ShouldEqual, 3)
				convey.So(cfg.SyncTimeout, convey.ShouldEqual, 2*time.Minute)
				convey.So(cfg.Categories, convey.ShouldResemble, []string{"players", "teams"})
				convey.So(cfg.MaxQueryLimit, convey.ShouldEqual, 1000)
			})
		})

		convey.Convey("When loading config with invalid YAML file", func() {
			tmpFile := createTempConfigFile(`invalid: yaml: content: [`)
			defer func() { _ = os.Remove(tmpFile) }()
			_ = os.Setenv("FPLCACHE_CONFIG", tmpFile)
			defer clearConfigEnvVars()

			cfg, err := config.Load(ctx)

			convey.Convey("Then it should return a load error", func() {
				convey.So(errors.Is(err, config.ErrLoadConfig), convey.ShouldBeTrue)
				convey.So(cfg, convey.ShouldBeNil)
			})
		})

		convey.Convey("When loading config with non-existent file", func() {
			_ = os.Setenv("FPLCACHE_CONFIG", "/non/existent/fplcache.yaml")
			defer clearConfigEnvVars()

			cfg, err := config.Load(ctx)

			convey.Convey("Then it should return an error", func() {
				convey.So(err, convey.ShouldNotBeNil)
				convey.So(cfg, convey.ShouldBeNil)
			})
		})

		convey.Convey("When loading config with empty addr", func() {
			_ = os.Setenv("FPLCACHE_ADDR", "")
			defer clearConfigEnvVars()

			cfg, err := config.Load(ctx)

			convey.Convey("Then it should return a validation error", func() {
				convey.So(errors.Is(err, config.ErrInvalidConfig), convey.ShouldBeTrue)
				convey.So(err.Error(), convey.ShouldContainSubstring, "addr must not be empty")
				convey.So(cfg, convey.ShouldBeNil)
			})
		})

		convey.Convey("When a duration cannot be parsed", func() {
			_ = os.Setenv("FPLCACHE_SYNC_TIMEOUT", "soon")
			defer clearConfigEnvVars()

			cfg, err := config.Load(ctx)

			convey.Convey("Then it should return an error", func() {
				convey.So(err, convey.ShouldNotBeNil)
				convey.So(cfg, convey.ShouldBeNil)
			})
		})

		convey.Convey("When an unknown store driver is configured", func() {
			_ = os.Setenv("FPLCACHE_STORE_DRIVER", "redis")
			defer clearConfigEnvVars()

			_, err := config.Load(ctx)

			convey.Convey("Then validation rejects it", func() {
				convey.So(errors.Is(err, config.ErrInvalidConfig), convey.ShouldBeTrue)
			})
		})
	})
}

func TestFetchCategories(t *testing.T) {
	convey.Convey("Given category settings", t, func() {
		cfg := config.New()

		convey.Convey("When they repeat a category", func() {
			cfg.Categories = []string{"players", " teams", "players"}
			cats, err := cfg.FetchCategories()

			convey.Convey("Then duplicates are dropped in order", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(cats, convey.ShouldResemble, []model.Category{model.Players, model.Teams})
			})
		})

		convey.Convey("When they name the derived standings", func() {
			cfg.Categories = []string{"standings"}
			_, err := cfg.FetchCategories()

			convey.Convey("Then they are rejected", func() {
				convey.So(errors.Is(err, config.ErrInvalidConfig), convey.ShouldBeTrue)
			})
		})

		convey.Convey("When they name an unknown category", func() {
			cfg.Categories = []string{"managers"}

			convey.Convey("Then validation fails", func() {
				convey.So(errors.Is(cfg.Validate(), config.ErrInvalidConfig), convey.ShouldBeTrue)
			})
		})
	})
}

// Helper functions.

func clearConfigEnvVars() {
	envVars := []string{
		"FPLCACHE_CONFIG",
		"FPLCACHE_ADDR",
		"FPLCACHE_SYNC_INTERVAL",
		"FPLCACHE_SYNC_TIMEOUT",
		"FPLCACHE_SYNC_API_KEY",
		"FPLCACHE_CATEGORIES",
		"FPLCACHE_CARRY_FORWARD",
		"FPLCACHE_UPSTREAM_MAX_ATTEMPTS",
		"FPLCACHE_STORE_DRIVER",
	}
	for _, envVar := range envVars {
		_ = os.Unsetenv(envVar)
	}
}

func createTempConfigFile(content string) string {
	tmpFile, err := os.CreateTemp("", "fplcache-config-*.yaml")
	if err != nil {
		panic(err)
	}

	if _, err := tmpFile.WriteString(content); err != nil {
		panic(err)
	}

	if err := tmpFile.Close(); err != nil {
		panic(err)
	}

	return tmpFile.Name()
}
