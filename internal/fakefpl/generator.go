package fakefpl

import (
	"context"
	"fmt"
	"math/rand/v2"
	"strconv"
	"time"

	jsoniter "github.com/json-iterator/go"

	"github.com/okian/fplcache/internal/domain/model"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Object is one upstream JSON object.
type Object = map[string]any

// Dataset is one generated season in upstream shape.
type Dataset struct {
	Teams     []Object
	Players   []Object
	Gameweeks []Object
	Fixtures  []Object
}

var clubNames = []struct{ name, short string }{
	{"Arsenal", "ARS"}, {"Aston Villa", "AVL"}, {"Bournemouth", "BOU"}, {"Brentford", "BRE"},
	{"Brighton", "BHA"}, {"Chelsea", "CHE"}, {"Crystal Palace", "CRY"}, {"Everton", "EVE"},
	{"Fulham", "FUL"}, {"Ipswich", "IPS"}, {"Leicester", "LEI"}, {"Liverpool", "LIV"},
	{"Man City", "MCI"}, {"Man Utd", "MUN"}, {"Newcastle", "NEW"}, {"Nott'm Forest", "NFO"},
	{"Southampton", "SOU"}, {"Spurs", "TOT"}, {"West Ham", "WHU"}, {"Wolves", "WOL"},
}

var (
	firstNames = []string{"Bukayo", "Mohamed", "Erling", "Cole", "Bruno", "Son", "Ollie", "Alexander", "Jarrod", "Dominic", "Kai", "Virgil", "Jordan", "Pedro", "Morgan"}
	lastNames  = []string{"Saka", "Salah", "Haaland", "Palmer", "Fernandes", "Heung-min", "Watkins", "Isak", "Bowen", "Solanke", "Havertz", "van Dijk", "Pickford", "Neto", "Rogers"}
)

// squad positions by slot: 2 GK, 5 DEF, 5 MID, 3 FWD, then repeating.
var squadShape = []int{1, 1, 2, 2, 2, 2, 2, 3, 3, 3, 3, 3, 4, 4, 4}

const (
	daysPerGameweek = 7
	deadlineLead    = 90 * time.Minute
	kickoffSpacing  = 2 * time.Hour
)

// Generate builds a season from cfg. It performs no I/O and is deterministic
// for a given config.
func Generate(cfg Config) *Dataset {
	cfg = cfg.normalized()
	rng := rand.New(rand.NewPCG(cfg.Seed, cfg.Seed^0x9e3779b97f4a7c15))
	ds := &Dataset{}

	strength := make([]int, cfg.Teams)
	for i := 0; i < cfg.Teams; i++ {
		club := clubNames[i%len(clubNames)]
		name, short := club.name, club.short
		if i >= len(clubNames) {
			name = club.name + " " + strconv.Itoa(i/len(clubNames)+1)
			short = fmt.Sprintf("%s%d", club.short[:2], i/len(clubNames)+1)
		}
		strength[i] = 2 + rng.IntN(4)
		ds.Teams = append(ds.Teams, Object{
			"id":                    i + 1,
			"code":                  100 + i,
			"name":                  name,
			"short_name":            short,
			"strength":              strength[i],
			"strength_overall_home": 1000 + strength[i]*60 + rng.IntN(50),
			"strength_overall_away": 1000 + strength[i]*55 + rng.IntN(50),
			"strength_attack_home":  1000 + strength[i]*50 + rng.IntN(80),
			"strength_attack_away":  1000 + strength[i]*45 + rng.IntN(80),
			"strength_defence_home": 1000 + strength[i]*50 + rng.IntN(80),
			"strength_defence_away": 1000 + strength[i]*45 + rng.IntN(80),
			"pulse_id":              i + 1,
		})
	}

	id := 0
	for t := 0; t < cfg.Teams; t++ {
		for s := 0; s < cfg.PlayersPerTeam; s++ {
			id++
			ds.Players = append(ds.Players, player(rng, id, t+1, 100+t, squadShape[s%len(squadShape)], cfg.CurrentGameweek-1))
		}
	}

	ds.Fixtures, ds.Gameweeks = schedule(rng, cfg, strength, len(ds.Players))
	return ds
}

func player(rng *rand.Rand, id, team, teamCode, position, played int) Object {
	first := firstNames[rng.IntN(len(firstNames))]
	last := lastNames[(id+rng.IntN(len(lastNames)))%len(lastNames)]
	minutes := rng.IntN(90*played + 1)
	goals := 0
	if position > 1 {
		goals = rng.IntN(played*position/3 + 1)
	}
	assists := rng.IntN(played/2 + 1)
	points := minutes/60*2 + goals*(7-position) + assists*3
	form := float64(rng.IntN(100)) / 10
	return Object{
		"id":                           id,
		"code":                         200000 + id,
		"first_name":                   first,
		"second_name":                  last,
		"web_name":                     last,
		"element_type":                 position,
		"team":                         team,
		"team_code":                    teamCode,
		"now_cost":                     40 + rng.IntN(91),
		"total_points":                 points,
		"event_points":                 rng.IntN(16),
		"minutes":                      minutes,
		"goals_scored":                 goals,
		"assists":                      assists,
		"clean_sheets":                 rng.IntN(played/3 + 1),
		"goals_conceded":               rng.IntN(played*2 + 1),
		"yellow_cards":                 rng.IntN(4),
		"red_cards":                    0,
		"saves":                        0,
		"bonus":                        rng.IntN(10),
		"bps":                          rng.IntN(300),
		"form":                         strconv.FormatFloat(form, 'f', 1, 64),
		"points_per_game":              strconv.FormatFloat(float64(points)/float64(max(played, 1)), 'f', 1, 64),
		"selected_by_percent":          strconv.FormatFloat(float64(rng.IntN(600))/10, 'f', 1, 64),
		"ict_index":                    strconv.FormatFloat(float64(rng.IntN(1500))/10, 'f', 1, 64),
		"ep_next":                      strconv.FormatFloat(form/2, 'f', 1, 64),
		"status":                       "a",
		"news":                         "",
		"news_added":                   nil,
		"chance_of_playing_next_round": nil,
	}
}

// schedule builds a double round robin with the circle method.
func schedule(rng *rand.Rand, cfg Config, strength []int, players int) ([]Object, []Object) {
	n := cfg.Teams
	half := n - 1
	var fixtures, events []Object
	id := 0
	for gw := 1; gw <= cfg.Gameweeks; gw++ {
		round := (gw - 1) % half
		second := gw > half
		base := cfg.SeasonStart.Add(time.Duration(gw-1) * daysPerGameweek * 24 * time.Hour)
		finished := gw < cfg.CurrentGameweek
		for i := 0; i < n/2; i++ {
			home := (round + i) % half
			away := (half - i + round) % half
			if i == 0 {
				away = half
			}
			if (round%2 == 1 && i == 0) != second {
				home, away = away, home
			}
			id++
			fx := Object{
				"id":                id,
				"code":              3000000 + id,
				"event":             gw,
				"kickoff_time":      base.Add(time.Duration(i) * kickoffSpacing).Format(time.RFC3339),
				"finished":          finished,
				"started":           finished,
				"minutes":           0,
				"team_h":            home + 1,
				"team_a":            away + 1,
				"team_h_score":      nil,
				"team_a_score":      nil,
				"team_h_difficulty": strength[away],
				"team_a_difficulty": strength[home],
			}
			if finished {
				fx["minutes"] = 90
				fx["team_h_score"] = rng.IntN(strength[home] + 1)
				fx["team_a_score"] = rng.IntN(strength[away])
			}
			fixtures = append(fixtures, fx)
		}

		ev := Object{
			"id":                  gw,
			"name":                "Gameweek " + strconv.Itoa(gw),
			"deadline_time":       base.Add(-deadlineLead).Format(time.RFC3339),
			"finished":            finished,
			"data_checked":        finished,
			"is_previous":         gw == cfg.CurrentGameweek-1,
			"is_current":          gw == cfg.CurrentGameweek,
			"is_next":             gw == cfg.CurrentGameweek+1,
			"average_entry_score": 0,
			"highest_score":       nil,
			"most_selected":       nil,
			"top_element":         nil,
			"transfers_made":      0,
		}
		if finished {
			ev["average_entry_score"] = 40 + rng.IntN(30)
			ev["highest_score"] = 100 + rng.IntN(60)
			ev["most_selected"] = 1 + rng.IntN(players)
			ev["top_element"] = 1 + rng.IntN(players)
			ev["transfers_made"] = 1000000 + rng.IntN(9000000)
		}
		events = append(events, ev)
	}
	return fixtures, events
}

// Records returns the objects of one fetched category as raw records.
func (d *Dataset) Records(category model.Category) ([]model.RawRecord, error) {
	var objs []Object
	switch category {
	case model.Players:
		objs = d.Players
	case model.Teams:
		objs = d.Teams
	case model.Gameweeks:
		objs = d.Gameweeks
	case model.Fixtures:
		objs = d.Fixtures
	default:
		return nil, fmt.Errorf("%w: %s", model.ErrUnknownCategory, category)
	}
	out := make([]model.RawRecord, 0, len(objs))
	for _, o := range objs {
		b, err := json.Marshal(o)
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, nil
}

// FetchCategory serves Records in-process, without HTTP.
func (d *Dataset) FetchCategory(ctx context.Context, category model.Category) ([]model.RawRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return d.Records(category)
}

// Bootstrap renders the bootstrap-static document.
func (d *Dataset) Bootstrap() ([]byte, error) {
	return json.Marshal(Object{
		"elements": d.Players,
		"teams":    d.Teams,
		"events":   d.Gameweeks,
		"element_types": []Object{
			{"id": 1, "singular_name": "Goalkeeper", "singular_name_short": "GKP"},
			{"id": 2, "singular_name": "Defender", "singular_name_short": "DEF"},
			{"id": 3, "singular_name": "Midfielder", "singular_name_short": "MID"},
			{"id": 4, "singular_name": "Forward", "singular_name_short": "FWD"},
		},
		"total_players": 10000000,
	})
}

// FixturesDocument renders the fixtures document.
func (d *Dataset) FixturesDocument() ([]byte, error) {
	return json.Marshal(d.Fixtures)
}
