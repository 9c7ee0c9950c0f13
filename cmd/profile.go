package cmd

import (
	"fmt"

	"github.com/spf13/viper"

	"loadphase/internal/phase"
	"loadphase/internal/runner"
)

// profileFromConfig assembles a LoadProfile from flags, LOADPHASE_* env
// vars and the config file, in that order of precedence. Phases come from
// --phase, then the config file's phases list, then the default cycle.
func profileFromConfig(v *viper.Viper) (runner.LoadProfile, error) {
	p := runner.LoadProfile{
		Concurrency:       v.GetInt("concurrency"),
		DurationMinutes:   v.GetFloat64("duration"),
		RequestsPerSecond: v.GetFloat64("rps"),
		TargetURLs:        v.GetStringSlice("url"),
		CPUIntensive:      v.GetBool("cpu"),
		MemoryIntensive:   v.GetBool("memory"),
	}

	phases, err := phasesFromConfig(v)
	if err != nil {
		return runner.LoadProfile{}, err
	}
	p.Phases = phases
	return p, nil
}

func phasesFromConfig(v *viper.Viper) ([]phase.Phase, error) {
	if specs := v.GetStringSlice("phase"); len(specs) > 0 {
		phases := make([]phase.Phase, 0, len(specs))
		for _, s := range specs {
			p, err := phase.Parse(s)
			if err != nil {
				return nil, err
			}
			phases = append(phases, p)
		}
		return phases, nil
	}

	if v.IsSet("phases") {
		var phases []phase.Phase
		if err := v.UnmarshalKey("phases", &phases); err != nil {
			return nil, fmt.Errorf("config phases: %w", err)
		}
		return phases, nil
	}
	return phase.DefaultPhases(), nil
}
