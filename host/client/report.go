package client

import (
	"fmt"
)

const reportPrefix = "<REPORT>"

// Report is one parsed status report line.
type Report struct {
	Voltage      float64
	Relative     bool
	CurrentSteps int64
	TargetSteps  int64
}

// ParseReport parses
// "<REPORT> adc:<V> rel_pos:<0|1> current_steps:<n> target_steps:<n>".
func ParseReport(line string) (Report, error) {
	var (
		r   Report
		rel int
	)
	_, err := fmt.Sscanf(line, reportPrefix+" adc:%g rel_pos:%d current_steps:%d target_steps:%d",
		&r.Voltage, &rel, &r.CurrentSteps, &r.TargetSteps)
	if err != nil {
		return Report{}, fmt.Errorf("parse report %q: %w", line, err)
	}
	r.Relative = rel != 0
	return r, nil
}
