package risk

import (
	"reflect"
	"testing"
	"time"
)

// Tuesday, mid-morning UTC.
var weekday = time.Date(2026, 3, 3, 10, 0, 0, 0, time.UTC)

const browserUA = "Mozilla/5.0 (Macintosh; Intel Mac OS X 14_4) AppleWebKit/605.1.15 Safari/605.1.15"

func failures(n int, from time.Time, step time.Duration, addr string) []Attempt {
	out := make([]Attempt, n)
	for i := range out {
		out[i] = Attempt{At: from.Add(time.Duration(i) * step), Address: addr}
	}
	return out
}

func TestCleanAttemptIsLow(t *testing.T) {
	a := Assess(DefaultConfig(), Input{Now: weekday, Address: "192.0.2.1", UserAgent: browserUA})
	if a.Score != 0 || a.Level != Low || len(a.Indicators) != 0 || len(a.Recommendations) != 0 {
		t.Fatalf("expected clean low assessment, got %+v", a)
	}
}

func TestBruteForceWithCurlIsHighOrCritical(t *testing.T) {
	hist := failures(20, weekday.Add(-10*time.Minute), 30*time.Second, "198.51.100.9")
	a := Assess(DefaultConfig(), Input{
		Now:               weekday,
		Address:           "198.51.100.9",
		UserAgent:         "curl/8.4.0",
		IdentifierHistory: hist,
		AddressHistory:    hist,
	})
	if a.Level != High && a.Level != Critical {
		t.Fatalf("expected high or critical, got %s (%d)", a.Level, a.Score)
	}
	if !a.Has("frequent_attempts") || !a.Has("suspicious_user_agent") {
		t.Fatalf("expected frequency and user-agent indicators, got %+v", a.Indicators)
	}
}

func TestScoreCappedAt100(t *testing.T) {
	night := time.Date(2026, 3, 7, 3, 30, 0, 0, time.UTC) // Saturday
	hist := failures(30, night.Add(-4*time.Minute), 5*time.Second, "198.51.100.9")
	hist = append([]Attempt{
		{At: night.Add(-3 * time.Hour), Success: true, Location: "Berlin"},
		{At: night.Add(-2*time.Hour - 30*time.Minute), Success: true, Location: "Paris"},
	}, hist...)
	a := Assess(DefaultConfig(), Input{
		Now:               night,
		Address:           "198.51.100.9",
		Location:          "Lagos",
		UserAgent:         "",
		IdentifierHistory: hist,
		AddressHistory:    hist[2:],
	})
	if a.Score != 100 || a.Level != Critical {
		t.Fatalf("expected capped critical score, got %d %s", a.Score, a.Level)
	}
	want := []string{
		recommendations[CategoryFrequency],
		recommendations[CategoryDiversity],
		recommendations[CategoryUserAgent],
		recommendations[CategoryTime],
		recommendations[CategoryVelocity],
		recommendations[CategoryPattern],
	}
	if !reflect.DeepEqual(a.Recommendations, want) {
		t.Fatalf("unexpected recommendations: %v", a.Recommendations)
	}
}

func TestLevelBoundaries(t *testing.T) {
	cases := map[int]Level{0: Low, 29: Low, 30: Medium, 59: Medium, 60: High, 79: High, 80: Critical, 100: Critical}
	for score, want := range cases {
		if got := LevelFor(score); got != want {
			t.Fatalf("LevelFor(%d) = %s, want %s", score, got, want)
		}
	}
}

func TestFrequencyThresholds(t *testing.T) {
	cfg := DefaultConfig()
	cases := []struct {
		failed int
		points int
	}{
		{failed: 4, points: 0},
		{failed: 5, points: 30},
		{failed: 9, points: 30},
		{failed: 10, points: 40},
	}
	for _, tc := range cases {
		in := Input{Now: weekday, IdentifierHistory: failures(tc.failed, weekday.Add(-10*time.Minute), time.Second, "")}
		got := Frequency(cfg, in)
		points := 0
		if len(got) == 1 {
			points = got[0].Points
		}
		if points != tc.points {
			t.Fatalf("%d failures: expected %d points, got %d", tc.failed, tc.points, points)
		}
	}

	// Successes and stale failures do not count.
	hist := failures(10, weekday.Add(-time.Hour), time.Second, "")
	hist = append(hist, Attempt{At: weekday.Add(-time.Minute), Success: true})
	if got := Frequency(cfg, Input{Now: weekday, IdentifierHistory: hist}); len(got) != 0 {
		t.Fatalf("expected no frequency indicator, got %+v", got)
	}
}

func TestDiversity(t *testing.T) {
	cfg := DefaultConfig()
	single := []Attempt{
		{At: weekday.Add(-2 * time.Hour), Success: true, Location: "Berlin"},
		{At: weekday.Add(-time.Hour), Success: true, Location: "Berlin"},
	}
	if got := Diversity(cfg, Input{Now: weekday, Location: "Lagos", IdentifierHistory: single}); len(got) != 0 {
		t.Fatal("a single known location must not trigger new_location")
	}

	mixed := append(single, Attempt{At: weekday.Add(-30 * time.Minute), Success: true, Address: "192.0.2.5"})
	if got := Diversity(cfg, Input{Now: weekday, Location: "Lagos", IdentifierHistory: mixed}); len(got) != 1 || got[0].Name != "new_location" {
		t.Fatalf("expected new_location, got %+v", got)
	}
	if got := Diversity(cfg, Input{Now: weekday, Address: "192.0.2.5", IdentifierHistory: mixed}); len(got) != 0 {
		t.Fatal("known address must not trigger new_location")
	}
}

func TestUserAgent(t *testing.T) {
	cfg := DefaultConfig()
	cases := map[string]bool{
		browserUA:                       false,
		"":                              true,
		"Mozilla":                       true,
		"python-requests/2.31.0":        true,
		"Mozilla/5.0 <script>":          true,
		"Mozilla/5.0 (X11)\x00":         true,
		"Googlebot/2.1 (+google.com)":   true,
		"Mozilla/5.0 (Windows NT 10.0)": false,
	}
	for ua, want := range cases {
		got := len(UserAgent(cfg, Input{UserAgent: ua})) == 1
		if got != want {
			t.Fatalf("UserAgent(%q) = %v, want %v", ua, got, want)
		}
	}
}

func TestTimeOfDay(t *testing.T) {
	cfg := DefaultConfig()
	cases := []struct {
		at   time.Time
		want []string
	}{
		{at: time.Date(2026, 3, 3, 2, 59, 0, 0, time.UTC), want: nil},
		{at: time.Date(2026, 3, 3, 3, 0, 0, 0, time.UTC), want: []string{"unusual_time"}},
		{at: time.Date(2026, 3, 3, 4, 59, 0, 0, time.UTC), want: []string{"unusual_time"}},
		{at: time.Date(2026, 3, 3, 5, 0, 0, 0, time.UTC), want: nil},
		{at: time.Date(2026, 3, 8, 12, 0, 0, 0, time.UTC), want: []string{"weekend_activity"}},
		{at: time.Date(2026, 3, 7, 3, 15, 0, 0, time.UTC), want: []string{"unusual_time", "weekend_activity"}},
	}
	for _, tc := range cases {
		var names []string
		for _, ind := range TimeOfDay(cfg, Input{Now: tc.at}) {
			names = append(names, ind.Name)
		}
		if !reflect.DeepEqual(names, tc.want) {
			t.Fatalf("%s: got %v want %v", tc.at, names, tc.want)
		}
	}
}

func TestVelocity(t *testing.T) {
	cfg := DefaultConfig()
	four := failures(4, weekday.Add(-4*time.Minute), time.Second, "192.0.2.1")
	if got := Velocity(cfg, Input{Now: weekday, AddressHistory: four}); len(got) != 0 {
		t.Fatal("four attempts must not trigger rapid_attempts")
	}
	five := failures(5, weekday.Add(-4*time.Minute), time.Second, "192.0.2.1")
	if got := Velocity(cfg, Input{Now: weekday, AddressHistory: five}); len(got) != 1 || got[0].Points != 25 {
		t.Fatalf("expected rapid_attempts for 25 points, got %+v", got)
	}
	stale := failures(5, weekday.Add(-10*time.Minute), time.Second, "192.0.2.1")
	if got := Velocity(cfg, Input{Now: weekday, AddressHistory: stale}); len(got) != 0 {
		t.Fatal("attempts outside the window must not count")
	}
}

func TestPatternChange(t *testing.T) {
	cfg := DefaultConfig()
	prior := failures(3, weekday.Add(-90*time.Minute), time.Minute, "")

	// 9 recent against 3 prior: below the floor.
	hist := append(append([]Attempt{}, prior...), failures(9, weekday.Add(-30*time.Minute), time.Minute, "")...)
	if got := PatternChange(cfg, Input{Now: weekday, IdentifierHistory: hist}); len(got) != 0 {
		t.Fatal("below floor must not trigger")
	}
	// 10 recent against 3 prior: 10 > 9 and meets floor.
	hist = append(append([]Attempt{}, prior...), failures(10, weekday.Add(-30*time.Minute), time.Minute, "")...)
	if got := PatternChange(cfg, Input{Now: weekday, IdentifierHistory: hist}); len(got) != 1 {
		t.Fatal("expected pattern_change")
	}
	// 12 recent against 4 prior: exactly 3x does not trigger.
	prior4 := failures(4, weekday.Add(-90*time.Minute), time.Minute, "")
	hist = append(append([]Attempt{}, prior4...), failures(12, weekday.Add(-30*time.Minute), time.Minute, "")...)
	if got := PatternChange(cfg, Input{Now: weekday, IdentifierHistory: hist}); len(got) != 0 {
		t.Fatal("3x exactly must not trigger")
	}
}

func TestAssessIsPure(t *testing.T) {
	in := Input{Now: weekday, UserAgent: "wget/1.21", IdentifierHistory: failures(6, weekday.Add(-time.Minute), time.Second, "")}
	a, b := Assess(DefaultConfig(), in), Assess(DefaultConfig(), in)
	if !reflect.DeepEqual(a, b) {
		t.Fatal("assessment must be deterministic")
	}
}
