package samplesheet

// Defaults used by NewVerifier.
const (
	DefaultMaxLane   = 8
	DefaultThreshold = 1
)

// Scope tells the verifier how often a rule runs.
type Scope int

const (
	// ScopeProject rules run once per project.
	ScopeProject Scope = iota
	// ScopeLane rules run once per project and lane.
	ScopeLane
	// ScopePair rules run once per lane for each pair of projects sharing it.
	ScopePair
)

// Warning is an advisory finding. Warnings never block; callers decide
// whether any are fatal.
type Warning struct {
	Rule    string
	Project string
	Lane    string
	Message string
}

func (w Warning) String() string { return w.Message }

// Check is the input handed to a rule.
type Check struct {
	Lane    string
	Project *Project
	// Other is set for ScopePair rules only.
	Other     *Project
	MaxLane   int
	Threshold int
}

// Rule evaluates one kind of sample sheet problem.
type Rule interface {
	Name() string
	Scope() Scope
	Evaluate(c Check) []Warning
}

// Verifier runs registered rules over a parsed sheet.
type Verifier struct {
	MaxLane   int
	Threshold int
	rules     []Rule
}

// NewVerifier returns a verifier with the built-in rule set.
func NewVerifier() *Verifier {
	v := &Verifier{MaxLane: DefaultMaxLane, Threshold: DefaultThreshold}
	v.Register(laneBoundRule{})
	v.Register(sampleNameRule{})
	v.Register(singleDualRule{})
	v.Register(barcodeRule{})
	v.Register(crossProjectRule{})
	return v
}

// Register appends a rule; rules run in registration order.
func (v *Verifier) Register(rule Rule) {
	v.rules = append(v.rules, rule)
}

func (v *Verifier) check(lane string, p, other *Project) Check {
	return Check{Lane: lane, Project: p, Other: other, MaxLane: v.MaxLane, Threshold: v.Threshold}
}

func (v *Verifier) run(scope Scope, c Check) []Warning {
	var out []Warning
	for _, rule := range v.rules {
		if rule.Scope() == scope {
			out = append(out, rule.Evaluate(c)...)
		}
	}
	return out
}

// VerifyProject runs the project and lane rules for p in lane.
func (v *Verifier) VerifyProject(p *Project, lane string) []Warning {
	c := v.check(lane, p, nil)
	return append(v.run(ScopeProject, c), v.run(ScopeLane, c)...)
}

// VerifyAgainst compares the samples p and other share in lane.
func (v *Verifier) VerifyAgainst(p *Project, lane string, other *Project) []Warning {
	return v.run(ScopePair, v.check(lane, p, other))
}

// Verify checks every lane: each project on its own, then against every
// project registered after it in the same lane. Project-wide findings are
// reported once even when a project spans several lanes.
func (v *Verifier) Verify(s *Sheet) []Warning {
	var out []Warning
	visited := make(map[*Project]bool)
	for _, lane := range s.LaneOrder {
		projects := s.LaneProjects[lane]
		for i, p := range projects {
			c := v.check(lane, p, nil)
			if !visited[p] {
				visited[p] = true
				out = append(out, v.run(ScopeProject, c)...)
			}
			out = append(out, v.run(ScopeLane, c)...)
			for _, other := range projects[i+1:] {
				out = append(out, v.VerifyAgainst(p, lane, other)...)
			}
		}
	}
	return out
}
