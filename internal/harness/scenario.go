package harness

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"github.com/roach88/ordermon/internal/config"
	"github.com/roach88/ordermon/internal/events"
	"github.com/roach88/ordermon/internal/model"
	"github.com/roach88/ordermon/internal/testutil"
)

// Scenario seeds an order book, drives the engine and monitor through a
// sequence of steps, and asserts on the outcome.
type Scenario struct {
	// Name uniquely identifies this scenario and names its golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	Fixture FixtureSpec `yaml:"fixture"`

	// Engine overrides the engine defaults. Workers defaults to 1 so that
	// the order of store writes, and with it the fault sequence, is
	// reproducible.
	Engine config.Engine `yaml:"engine"`

	Faults FaultSpec `yaml:"faults,omitempty"`

	Steps      []Step      `yaml:"steps"`
	Assertions []Assertion `yaml:"assertions"`

	// RecordOrders adds a per-order line to the golden snapshot.
	RecordOrders bool `yaml:"record_orders,omitempty"`

	// SkipGolden disables golden comparison. Fault-injected runs set it:
	// their exact cycle counts depend on the random source.
	SkipGolden bool `yaml:"skip_golden,omitempty"`
}

// FixtureSpec mirrors testutil.Fixture in YAML.
type FixtureSpec struct {
	Users         int    `yaml:"users"`
	GroupsPerUser int    `yaml:"groups_per_user"`
	Orders        int    `yaml:"orders"`
	Quantity      string `yaml:"quantity,omitempty"`
	Priorities    int    `yaml:"priorities,omitempty"`
}

func (f FixtureSpec) fixture() (testutil.Fixture, error) {
	fx := testutil.Fixture{
		Users:         f.Users,
		GroupsPerUser: f.GroupsPerUser,
		Orders:        f.Orders,
		Priorities:    f.Priorities,
	}
	if f.Quantity != "" {
		q, err := decimal.NewFromString(f.Quantity)
		if err != nil {
			return testutil.Fixture{}, fmt.Errorf("fixture.quantity: %w", err)
		}
		fx.Quantity = q
	}
	return fx, nil
}

// FaultSpec configures the fault-injecting gateway.
type FaultSpec struct {
	Rate float64 `yaml:"rate"`
	Seed int64   `yaml:"seed"`
}

// Step is one action. Which of User, Group and Order is required depends
// on Action; they are indexes into the seeded users, groups and orders.
type Step struct {
	Action string `yaml:"action"`

	User  *int `yaml:"user,omitempty"`
	Group *int `yaml:"group,omitempty"`
	Order *int `yaml:"order,omitempty"`

	// Count is the number of cycles for "cycle". Zero means 1.
	Count int `yaml:"count,omitempty"`

	// Max bounds the cycles of "drain". Zero means DefaultDrainMax.
	Max int `yaml:"max,omitempty"`
}

// Step actions.
const (
	StepCycle        = "cycle"
	StepDrain        = "drain"
	StepReconcile    = "reconcile"
	StepDisableUser  = "disable_user"
	StepEnableUser   = "enable_user"
	StepDisableGroup = "disable_group"
	StepEnableGroup  = "enable_group"
	StepCancelOrder  = "cancel_order"
	StepCacheDown    = "cache_down"
	StepCacheUp      = "cache_up"
	StepFetchDown    = "fetch_down"
	StepFetchUp      = "fetch_up"
)

// DefaultDrainMax bounds a drain step.
const DefaultDrainMax = 20

// Assertion validates the final state.
type Assertion struct {
	// Type specifies the assertion type:
	// - "status_count": Count orders in Status
	// - "order_status": seeded order Order is in Status
	// - "flag_changes": Count flag changes were recorded
	// - "events": Count events of Kind were published
	// - "cycles": Count cycles ran
	// - "invariants": every order satisfies the lifecycle invariants
	Type string `yaml:"type"`

	Status model.Status `yaml:"status,omitempty"`
	Order  *int         `yaml:"order,omitempty"`
	Kind   events.Kind  `yaml:"kind,omitempty"`
	Count  int          `yaml:"count,omitempty"`
}

// Assertion type constants.
const (
	AssertStatusCount = "status_count"
	AssertOrderStatus = "order_status"
	AssertFlagChanges = "flag_changes"
	AssertEvents      = "events"
	AssertCycles      = "cycles"
	AssertInvariants  = "invariants"
)

// LoadScenario reads and parses a scenario YAML file.
// Returns an error if the file doesn't exist, is malformed,
// contains unknown fields (typos), or is missing required fields.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	return ParseScenario(data)
}

// ParseScenario parses and validates a scenario document.
func ParseScenario(data []byte) (*Scenario, error) {
	scenario := Scenario{Engine: config.Default().Engine}
	scenario.Engine.Workers = 1

	// Parse YAML with strict field validation (catches typos like "assertion:" vs "assertions:")
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true) // Reject unknown fields
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &scenario, nil
}

// LoadScenarios loads every *.yaml file in dir, sorted by file name.
func LoadScenarios(dir string) ([]*Scenario, error) {
	paths, err := filepath.Glob(filepath.Join(dir, "*.yaml"))
	if err != nil {
		return nil, err
	}
	sort.Strings(paths)

	scenarios := make([]*Scenario, 0, len(paths))
	names := make(map[string]string, len(paths))
	for _, p := range paths {
		sc, err := LoadScenario(p)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", filepath.Base(p), err)
		}
		if prev, dup := names[sc.Name]; dup {
			return nil, fmt.Errorf("%s: scenario name %q already used by %s", filepath.Base(p), sc.Name, prev)
		}
		names[sc.Name] = filepath.Base(p)
		scenarios = append(scenarios, sc)
	}
	return scenarios, nil
}

// validateScenario checks that required fields are present and valid.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}

	f := s.Fixture
	if f.Users <= 0 || f.GroupsPerUser <= 0 {
		return fmt.Errorf("fixture needs at least one user and one group per user")
	}
	if f.Orders < 0 {
		return fmt.Errorf("fixture.orders must not be negative")
	}
	if _, err := f.fixture(); err != nil {
		return err
	}

	if s.Faults.Rate < 0 || s.Faults.Rate >= 1 {
		return fmt.Errorf("faults.rate must be in [0, 1), got %g", s.Faults.Rate)
	}
	if s.Engine.Workers <= 0 || s.Engine.BatchSize <= 0 || s.Engine.MinBatchSize <= 0 {
		return fmt.Errorf("engine workers and batch sizes must be positive")
	}
	if _, err := newExecutor(s.Engine); err != nil {
		return err
	}

	if len(s.Steps) == 0 {
		return fmt.Errorf("steps list is required and must be non-empty")
	}
	if len(s.Assertions) == 0 {
		return fmt.Errorf("assertions list is required and must be non-empty")
	}

	for i, step := range s.Steps {
		if err := validateStep(i, step, f); err != nil {
			return err
		}
	}
	for i, a := range s.Assertions {
		if err := validateAssertion(i, &a, f); err != nil {
			return err
		}
	}
	return nil
}

func validateStep(index int, st Step, f FixtureSpec) error {
	inRange := func(name string, v *int, n int) error {
		if v == nil {
			return fmt.Errorf("steps[%d]: %s is required for %s", index, name, st.Action)
		}
		if *v < 0 || *v >= n {
			return fmt.Errorf("steps[%d]: %s %d out of range [0, %d)", index, name, *v, n)
		}
		return nil
	}

	switch st.Action {
	case StepCycle, StepDrain, StepReconcile, StepCacheDown, StepCacheUp, StepFetchDown, StepFetchUp:
		if st.Count < 0 || st.Max < 0 {
			return fmt.Errorf("steps[%d]: count and max must not be negative", index)
		}
		return nil
	case StepDisableUser, StepEnableUser:
		return inRange("user", st.User, f.Users)
	case StepDisableGroup, StepEnableGroup:
		return inRange("group", st.Group, f.Users*f.GroupsPerUser)
	case StepCancelOrder:
		return inRange("order", st.Order, f.Orders)
	case "":
		return fmt.Errorf("steps[%d]: action is required", index)
	default:
		return fmt.Errorf("steps[%d]: unknown action %q", index, st.Action)
	}
}

// validateAssertion validates a single assertion based on its type.
func validateAssertion(index int, a *Assertion, f FixtureSpec) error {
	switch a.Type {
	case AssertStatusCount:
		if !a.Status.Valid() {
			return fmt.Errorf("assertions[%d]: valid status is required for status_count", index)
		}
	case AssertOrderStatus:
		if !a.Status.Valid() {
			return fmt.Errorf("assertions[%d]: valid status is required for order_status", index)
		}
		if a.Order == nil || *a.Order < 0 || *a.Order >= f.Orders {
			return fmt.Errorf("assertions[%d]: order index is required for order_status", index)
		}
	case AssertEvents:
		switch a.Kind {
		case events.KindOrderTransitioned, events.KindFlagChanged, events.KindEntityAdded:
		default:
			return fmt.Errorf("assertions[%d]: unknown event kind %q", index, a.Kind)
		}
	case AssertFlagChanges, AssertCycles, AssertInvariants:
	case "":
		return fmt.Errorf("assertions[%d]: type is required", index)
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}
	if a.Count < 0 {
		return fmt.Errorf("assertions[%d]: count must be non-negative", index)
	}
	return nil
}
