package seed

// Baseline is the desired convergence target, supplied once at startup
// and immutable during a reconciliation pass.
type Baseline struct {
	// Enabled gates the whole reconciler. When false nothing is created
	// and the pass reports zero outcomes.
	Enabled bool `yaml:"enabled"`

	// Roles lists role names that must exist.
	Roles []string `yaml:"roles"`

	// Users lists accounts that must exist, with their initial password
	// and desired role memberships.
	Users []UserSpec `yaml:"users"`
}

// UserSpec describes one baseline account.
type UserSpec struct {
	Name     string   `yaml:"name"`
	Password string   `yaml:"password"`
	Roles    []string `yaml:"roles"`
}

// Action classifies what the reconciler did with one entity.
type Action string

const (
	// ActionCreated means the entity was absent and has been created.
	ActionCreated Action = "created"

	// ActionExists means the entity was already present and left alone.
	ActionExists Action = "exists"

	// ActionGranted means missing role memberships were added.
	ActionGranted Action = "granted"

	// ActionSkipped means the entry was invalid (blank name, missing
	// password) and was not applied.
	ActionSkipped Action = "skipped"

	// ActionFailed means the store rejected the operation.
	ActionFailed Action = "failed"
)

// Outcome records the fate of one baseline entity.
type Outcome struct {
	// Kind is "role", "account", "password" or "membership".
	Kind string

	// Name identifies the entity (role name or account name).
	Name string

	Action Action

	// Err is set when Action is ActionFailed.
	Err error
}

// Report accumulates per-entity outcomes for one reconciliation pass.
type Report struct {
	Outcomes []Outcome
}

// add appends an outcome to the report.
func (r *Report) add(o Outcome) {
	r.Outcomes = append(r.Outcomes, o)
}

// Created counts entities of the given kind that were created or granted.
func (r *Report) Created(kind string) int {
	n := 0
	for _, o := range r.Outcomes {
		if o.Kind == kind && (o.Action == ActionCreated || o.Action == ActionGranted) {
			n++
		}
	}
	return n
}

// Failed counts entities the store rejected.
func (r *Report) Failed() int {
	n := 0
	for _, o := range r.Outcomes {
		if o.Action == ActionFailed {
			n++
		}
	}
	return n
}
