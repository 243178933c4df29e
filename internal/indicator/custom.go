package indicator

import (
	"fmt"

	"github.com/amirphl/staged-backtester/internal/indicator/formula"
)

// customHandler evaluates a user-submitted formula inside the sandboxed
// expression interpreter. The formula is compiled (and statically
// validated) before any bar is touched; compile failures abort the run.
func customHandler() handler {
	return handler{
		requires: nil, // references are resolved dynamically against the series
		columnsFor: func(spec Spec) ([]string, error) {
			if spec.Name == "" {
				return nil, fmt.Errorf("custom indicator requires a name")
			}
			if _, err := formula.Compile(spec.Formula); err != nil {
				return nil, err
			}
			return []string{spec.Name}, nil
		},
		warmup: func(Spec) int { return 1 },
		compute: func(s *Series, spec Spec) (Columns, []string, error) {
			if spec.Name == "" {
				return nil, nil, fmt.Errorf("custom indicator requires a name")
			}
			prog, err := formula.Compile(spec.Formula)
			if err != nil {
				return nil, nil, err
			}
			for _, ref := range prog.References() {
				if _, ok := s.Column(ref); !ok {
					return nil, nil, &MissingColumnError{Indicator: spec.Name, Column: ref}
				}
			}
			vals, err := prog.Eval(s.Column, s.Len())
			if err != nil {
				return nil, nil, err
			}
			return Columns{spec.Name: vals}, nil, nil
		},
	}
}
