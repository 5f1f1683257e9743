// Package fakefpl generates deterministic, FPL-shaped data and serves it over
// HTTP with the same paths as the public API. It backs local runs and tests.
package fakefpl

import "time"

// Config controls the generated season.
type Config struct {
	Teams           int       // number of clubs, rounded up to an even count
	PlayersPerTeam  int       // squad size per club
	Gameweeks       int       // capped at a full double round robin
	CurrentGameweek int       // gameweeks before it are finished
	Seed            uint64    // same seed, same data
	SeasonStart     time.Time // first kickoff
}

// Defaults.
const (
	DefaultTeams          = 20
	DefaultPlayersPerTeam = 15
	DefaultGameweeks      = 38
	DefaultCurrent        = 10
	DefaultSeed           = 2024
)

// DefaultSeasonStart is the first kickoff of the generated season.
var DefaultSeasonStart = time.Date(2024, time.August, 16, 19, 0, 0, 0, time.UTC)

// DefaultConfig returns a full-size season.
func DefaultConfig() Config {
	return Config{
		Teams:           DefaultTeams,
		PlayersPerTeam:  DefaultPlayersPerTeam,
		Gameweeks:       DefaultGameweeks,
		CurrentGameweek: DefaultCurrent,
		Seed:            DefaultSeed,
		SeasonStart:     DefaultSeasonStart,
	}
}

func (c Config) normalized() Config {
	d := DefaultConfig()
	if c.Teams < 2 {
		c.Teams = d.Teams
	}
	if c.Teams%2 == 1 {
		c.Teams++
	}
	if c.PlayersPerTeam < 1 {
		c.PlayersPerTeam = d.PlayersPerTeam
	}
	rounds := 2 * (c.Teams - 1)
	if c.Gameweeks < 1 || c.Gameweeks > rounds {
		c.Gameweeks = rounds
	}
	if c.CurrentGameweek < 1 {
		c.CurrentGameweek = 1
	}
	if c.CurrentGameweek > c.Gameweeks {
		c.CurrentGameweek = c.Gameweeks
	}
	if c.SeasonStart.IsZero() {
		c.SeasonStart = d.SeasonStart
	}
	return c
}
