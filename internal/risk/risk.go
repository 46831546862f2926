// Package risk scores login attempts from recent history.
//
// Assess is a pure function: the same Config and Input always produce the
// same Assessment. Each detector is exported and can be called on its own.
// Points are additive across categories and the score is capped at 100.
package risk

import (
	"strconv"
	"strings"
	"time"
	"unicode"
)

// Level buckets a score.
type Level string

const (
	Low      Level = "low"
	Medium   Level = "medium"
	High     Level = "high"
	Critical Level = "critical"
)

// LevelFor maps a score to its level: <30 low, <60 medium, <80 high, else critical.
func LevelFor(score int) Level {
	switch {
	case score >= 80:
		return Critical
	case score >= 60:
		return High
	case score >= 30:
		return Medium
	default:
		return Low
	}
}

// Category groups indicators and owns one recommendation.
type Category string

const (
	CategoryFrequency Category = "frequency"
	CategoryDiversity Category = "diversity"
	CategoryUserAgent Category = "user_agent"
	CategoryTime      Category = "time_of_day"
	CategoryVelocity  Category = "velocity"
	CategoryPattern   Category = "pattern_change"
)

var categoryOrder = []Category{
	CategoryFrequency, CategoryDiversity, CategoryUserAgent,
	CategoryTime, CategoryVelocity, CategoryPattern,
}

var recommendations = map[Category]string{
	CategoryFrequency: "Require step-up verification before the next login attempt",
	CategoryDiversity: "Confirm the login from the new location with the account owner",
	CategoryUserAgent: "Challenge the client to rule out automation",
	CategoryTime:      "Notify the account owner of off-hours activity",
	CategoryVelocity:  "Throttle or block the source address",
	CategoryPattern:   "Review recent account activity for abuse",
}

// Indicator is one triggered signal.
type Indicator struct {
	Name     string   `json:"name"`
	Category Category `json:"category"`
	Points   int      `json:"points"`
	Detail   string   `json:"detail,omitempty"`
}

// Assessment is the scoring result. It is never persisted.
type Assessment struct {
	Score           int         `json:"risk_score"`
	Level           Level       `json:"risk_level"`
	Indicators      []Indicator `json:"indicators"`
	Recommendations []string    `json:"recommendations"`
}

// Has reports whether an indicator with name fired.
func (a Assessment) Has(name string) bool {
	for _, ind := range a.Indicators {
		if ind.Name == name {
			return true
		}
	}
	return false
}

// Attempt is one historical login attempt.
type Attempt struct {
	At        time.Time `json:"at"`
	Success   bool      `json:"success"`
	Address   string    `json:"address,omitempty"`
	Location  string    `json:"location,omitempty"`
	UserAgent string    `json:"user_agent,omitempty"`
}

// Place is the location used for diversity checks, falling back to the address.
func (a Attempt) Place() string {
	if a.Location != "" {
		return a.Location
	}
	return a.Address
}

// Input is the current attempt plus history. Histories hold prior attempts
// only, oldest first.
type Input struct {
	Now               time.Time
	Address           string
	Location          string
	UserAgent         string
	IdentifierHistory []Attempt
	AddressHistory    []Attempt
}

// Config holds thresholds and point values.
type Config struct {
	FrequencyWindow     time.Duration
	FrequencyThreshold  int
	FrequencyPoints     int
	FrequencyHighPoints int

	KnownLocations    int
	NewLocationPoints int

	AutomationAgents []string
	MinAgentLength   int
	AgentPoints      int

	// SuspiciousHourStart and SuspiciousHourEnd bound a [start, end) band.
	SuspiciousHourStart int
	SuspiciousHourEnd   int
	UnusualTimePoints   int
	WeekendDays         []time.Weekday
	WeekendPoints       int
	TimeZone            *time.Location

	VelocityWindow    time.Duration
	VelocityThreshold int
	VelocityPoints    int

	PatternWindow time.Duration
	PatternFactor int
	PatternFloor  int
	PatternPoints int
}

// DefaultConfig returns the stock thresholds.
func DefaultConfig() Config {
	return Config{
		FrequencyWindow:     15 * time.Minute,
		FrequencyThreshold:  5,
		FrequencyPoints:     30,
		FrequencyHighPoints: 40,

		KnownLocations:    5,
		NewLocationPoints: 20,

		AutomationAgents: []string{
			"bot", "crawler", "spider", "scraper", "curl", "wget",
			"python-requests", "python-urllib", "go-http-client", "java/",
			"okhttp", "httpclient", "libwww", "headless", "phantomjs",
			"selenium", "postman",
		},
		MinAgentLength: 10,
		AgentPoints:    20,

		SuspiciousHourStart: 3,
		SuspiciousHourEnd:   5,
		UnusualTimePoints:   10,
		WeekendDays:         []time.Weekday{time.Saturday, time.Sunday},
		WeekendPoints:       5,
		TimeZone:            time.UTC,

		VelocityWindow:    5 * time.Minute,
		VelocityThreshold: 5,
		VelocityPoints:    25,

		PatternWindow: time.Hour,
		PatternFactor: 3,
		PatternFloor:  10,
		PatternPoints: 15,
	}
}

// Assess runs every detector and combines the result.
func Assess(cfg Config, in Input) Assessment {
	var found []Indicator
	for _, detect := range []func(Config, Input) []Indicator{
		Frequency, Diversity, UserAgent, TimeOfDay, Velocity, PatternChange,
	} {
		found = append(found, detect(cfg, in)...)
	}

	a := Assessment{Indicators: found, Recommendations: []string{}}
	if a.Indicators == nil {
		a.Indicators = []Indicator{}
	}
	seen := map[Category]bool{}
	for _, ind := range found {
		a.Score += ind.Points
		seen[ind.Category] = true
	}
	if a.Score > 100 {
		a.Score = 100
	}
	a.Level = LevelFor(a.Score)
	for _, c := range categoryOrder {
		if seen[c] {
			a.Recommendations = append(a.Recommendations, recommendations[c])
		}
	}
	return a
}

func countSince(history []Attempt, since time.Time, match func(Attempt) bool) int {
	n := 0
	for _, h := range history {
		if h.At.After(since) && (match == nil || match(h)) {
			n++
		}
	}
	return n
}

func failed(a Attempt) bool { return !a.Success }

// Frequency fires frequent_attempts when failed attempts inside
// FrequencyWindow reach the threshold, with higher points at twice it.
func Frequency(cfg Config, in Input) []Indicator {
	if cfg.FrequencyThreshold <= 0 {
		return nil
	}
	n := countSince(in.IdentifierHistory, in.Now.Add(-cfg.FrequencyWindow), failed)
	if n < cfg.FrequencyThreshold {
		return nil
	}
	points := cfg.FrequencyPoints
	if n >= 2*cfg.FrequencyThreshold {
		points = cfg.FrequencyHighPoints
	}
	return []Indicator{{
		Name:     "frequent_attempts",
		Category: CategoryFrequency,
		Points:   points,
		Detail:   strconv.Itoa(n) + " failed attempts in " + cfg.FrequencyWindow.String(),
	}}
}

// Diversity fires new_location when the current place is absent from the
// last KnownLocations successful places and those show at least two
// distinct values.
func Diversity(cfg Config, in Input) []Indicator {
	current := Attempt{Address: in.Address, Location: in.Location}.Place()
	if current == "" || cfg.KnownLocations <= 0 {
		return nil
	}
	known := make([]string, 0, cfg.KnownLocations)
	for i := len(in.IdentifierHistory) - 1; i >= 0 && len(known) < cfg.KnownLocations; i-- {
		h := in.IdentifierHistory[i]
		if h.Success && h.Place() != "" {
			known = append(known, h.Place())
		}
	}
	distinct := map[string]struct{}{}
	for _, k := range known {
		distinct[k] = struct{}{}
	}
	if len(distinct) < 2 {
		return nil
	}
	if _, ok := distinct[current]; ok {
		return nil
	}
	return []Indicator{{
		Name:     "new_location",
		Category: CategoryDiversity,
		Points:   cfg.NewLocationPoints,
		Detail:   "login from " + current,
	}}
}

// UserAgent fires suspicious_user_agent for automation markers, short or
// empty values, and control or markup characters.
func UserAgent(cfg Config, in Input) []Indicator {
	ua := strings.TrimSpace(in.UserAgent)
	reason := ""
	switch {
	case len(ua) < cfg.MinAgentLength:
		reason = "missing or abnormally short user agent"
	case strings.ContainsFunc(ua, func(r rune) bool { return unicode.IsControl(r) || r == '<' || r == '>' }):
		reason = "control or markup characters in user agent"
	default:
		lower := strings.ToLower(ua)
		for _, marker := range cfg.AutomationAgents {
			if marker != "" && strings.Contains(lower, marker) {
				reason = "automation marker " + marker
				break
			}
		}
	}
	if reason == "" {
		return nil
	}
	return []Indicator{{
		Name:     "suspicious_user_agent",
		Category: CategoryUserAgent,
		Points:   cfg.AgentPoints,
		Detail:   reason,
	}}
}

// TimeOfDay fires unusual_time inside the suspicious hour band and
// weekend_activity on configured weekend days.
func TimeOfDay(cfg Config, in Input) []Indicator {
	loc := cfg.TimeZone
	if loc == nil {
		loc = time.UTC
	}
	t := in.Now.In(loc)

	var out []Indicator
	if h := t.Hour(); h >= cfg.SuspiciousHourStart && h < cfg.SuspiciousHourEnd {
		out = append(out, Indicator{
			Name:     "unusual_time",
			Category: CategoryTime,
			Points:   cfg.UnusualTimePoints,
			Detail:   "login at " + t.Format("15:04"),
		})
	}
	for _, d := range cfg.WeekendDays {
		if t.Weekday() == d {
			out = append(out, Indicator{
				Name:     "weekend_activity",
				Category: CategoryTime,
				Points:   cfg.WeekendPoints,
				Detail:   "login on " + d.String(),
			})
			break
		}
	}
	return out
}

// Velocity fires rapid_attempts when the address made VelocityThreshold
// attempts inside VelocityWindow.
func Velocity(cfg Config, in Input) []Indicator {
	if cfg.VelocityThreshold <= 0 {
		return nil
	}
	n := countSince(in.AddressHistory, in.Now.Add(-cfg.VelocityWindow), nil)
	if n < cfg.VelocityThreshold {
		return nil
	}
	return []Indicator{{
		Name:     "rapid_attempts",
		Category: CategoryVelocity,
		Points:   cfg.VelocityPoints,
		Detail:   strconv.Itoa(n) + " attempts from " + in.Address + " in " + cfg.VelocityWindow.String(),
	}}
}

// PatternChange fires pattern_change when the latest PatternWindow holds
// more than PatternFactor times the attempts of the window before it and
// at least PatternFloor attempts.
func PatternChange(cfg Config, in Input) []Indicator {
	recentStart := in.Now.Add(-cfg.PatternWindow)
	priorStart := recentStart.Add(-cfg.PatternWindow)

	recent, prior := 0, 0
	for _, h := range in.IdentifierHistory {
		switch {
		case h.At.After(recentStart):
			recent++
		case h.At.After(priorStart):
			prior++
		}
	}
	if recent < cfg.PatternFloor || recent <= cfg.PatternFactor*prior {
		return nil
	}
	return []Indicator{{
		Name:     "pattern_change",
		Category: CategoryPattern,
		Points:   cfg.PatternPoints,
		Detail:   strconv.Itoa(recent) + " attempts this period against " + strconv.Itoa(prior) + " before",
	}}
}
