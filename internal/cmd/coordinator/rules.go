package coordinator

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/openparlor/parlor/internal/coord/capacity"
	"github.com/openparlor/parlor/internal/coord/phase"
)

// Duration wraps time.Duration with YAML parsing for values like "10m".
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

// Rules holds the game rules file: phase durations and channel budgets.
type Rules struct {
	Phases  map[string]Duration `yaml:"phases"`
	Channel capacity.Limits     `yaml:"channel"`
}

// DefaultRules returns the durations and budgets used when no rules file is
// configured.
func DefaultRules() Rules {
	return Rules{
		Phases: map[string]Duration{
			string(phase.Lobby):                Duration(10 * time.Minute),
			string(phase.LobbyReflection):      Duration(3 * time.Minute),
			string(phase.Discussion):           Duration(8 * time.Minute),
			string(phase.DiscussionReflection): Duration(3 * time.Minute),
			string(phase.Voting):               Duration(5 * time.Minute),
			string(phase.VotingReflection):     Duration(2 * time.Minute),
			string(phase.Night):                Duration(6 * time.Minute),
			string(phase.NightReflection):      Duration(2 * time.Minute),
		},
		Channel: capacity.Limits{
			MaxPerParticipant: 30,
			MaxTotal:          300,
		},
	}
}

// LoadRules reads a YAML rules file. An empty path returns the defaults.
func LoadRules(path string) (Rules, error) {
	if path == "" {
		return DefaultRules(), nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return Rules{}, fmt.Errorf("read rules file: %w", err)
	}
	var rules Rules
	if err := yaml.Unmarshal(raw, &rules); err != nil {
		return Rules{}, fmt.Errorf("parse rules file: %w", err)
	}
	for name := range rules.Phases {
		if _, ok := phase.Parse(name); !ok {
			return Rules{}, fmt.Errorf("rules file names unknown phase %q", name)
		}
	}
	return rules, nil
}

// Durations converts the rules' phase table into coordinator durations.
func (r Rules) Durations() map[phase.Phase]time.Duration {
	durations := make(map[phase.Phase]time.Duration, len(r.Phases))
	for name, d := range r.Phases {
		if p, ok := phase.Parse(name); ok {
			durations[p] = time.Duration(d)
		}
	}
	return durations
}
