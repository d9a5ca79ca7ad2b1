package config

import "sort"

func friction(mu float64) *float64 { return &mu }

var Presets = map[string]map[string]*Config{
	"ball_on_plane": {
		"rest": {Scenario: "ball_on_plane", Dt: 0.01, Steps: 100},
		"drop": {
			Scenario: "ball_on_plane", Dt: 0.005, Steps: 300,
			InitState: InitStateConfig{Positions: map[string]float64{"ball/root_1": 0.5}},
		},
		"roll": {
			Scenario: "ball_on_plane", Dt: 0.01, Steps: 200, Friction: friction(0.8),
			InitState: InitStateConfig{Velocities: map[string]float64{"ball/root_0": 1}},
		},
	},
	"sliding_puck": {
		"slide": {Scenario: "sliding_puck", Dt: 0.01, Steps: 300, Friction: friction(0.5)},
		"ice":   {Scenario: "sliding_puck", Dt: 0.01, Steps: 300, Friction: friction(0.05)},
		"fast": {
			Scenario: "sliding_puck", Dt: 0.01, Steps: 300, Friction: friction(0.5),
			InitState: InitStateConfig{Velocities: map[string]float64{"puck/root_0": 3, "puck/root_2": 1}},
		},
	},
	"crossed_bars": {
		"drop": {Scenario: "crossed_bars", Dt: 0.005, Steps: 200},
	},
	"tongs": {
		"squeeze": {Scenario: "tongs", Dt: 0.01, Steps: 200},
		"hard": {
			Scenario: "tongs", Dt: 0.005, Steps: 200,
			InitState: InitStateConfig{Torques: map[string]float64{"tongs/left_0": 5, "tongs/right_0": -5}},
		},
	},
	"pincer": {
		"squeeze": {Scenario: "pincer", Dt: 0.005, Steps: 200},
	},
	"pendulum_limit": {
		"rest": {Scenario: "pendulum_limit", Dt: 0.01, Steps: 200},
		"swing": {
			Scenario: "pendulum_limit", Dt: 0.005, Steps: 800,
			InitState: InitStateConfig{Velocities: map[string]float64{"pendulum/pivot_0": 2}},
		},
		"hold": {
			Scenario: "pendulum_limit", Dt: 0.01, Steps: 400,
			Controller: ControllerConfig{Type: "pid", Dof: "pendulum/pivot_0", Kp: 50, Kd: 10, Target: 1.2},
		},
	},
}

// GetPreset returns a copy of the named preset with unset fields taken from
// DefaultConfig, or nil if there is none.
func GetPreset(scenario, preset string) *Config {
	scenarioPresets, ok := Presets[scenario]
	if !ok {
		return nil
	}
	p, ok := scenarioPresets[preset]
	if !ok {
		return nil
	}
	cfg := DefaultConfig()
	cfg.Scenario = p.Scenario
	cfg.Dt = p.Dt
	cfg.Steps = p.Steps
	if p.Friction != nil {
		cfg.Friction = friction(*p.Friction)
	}
	cfg.InitState = InitStateConfig{
		Positions:  cloneMap(p.InitState.Positions),
		Velocities: cloneMap(p.InitState.Velocities),
		Torques:    cloneMap(p.InitState.Torques),
	}
	cfg.Controller = p.Controller
	return cfg
}

func cloneMap(m map[string]float64) map[string]float64 {
	if m == nil {
		return nil
	}
	out := make(map[string]float64, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func ListPresets(scenario string) []string {
	scenarioPresets, ok := Presets[scenario]
	if !ok {
		return nil
	}
	names := make([]string, 0, len(scenarioPresets))
	for name := range scenarioPresets {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
