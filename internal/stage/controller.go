package stage

import (
	"fmt"
	"sync"

	"wildfiregpt/internal/config"
	"wildfiregpt/internal/logging"
	"wildfiregpt/internal/tools"
)

// RegistryBuilder constructs a stage's tool registry. The builder receives
// the stage configuration (tool declarations, appendices) and the
// activation arguments so completion tools can close over accumulated
// state.
type RegistryBuilder func(name Name, cfg *config.StageConfig, args InitArgs) (*tools.Registry, error)

// Controller owns the active stage and performs transitions. Exactly one
// stage is active at a time; transitions follow the one-directional happy
// path except for the explicit edit action.
type Controller struct {
	mu       sync.RWMutex
	configs  map[string]*config.StageConfig
	builders map[Name]RegistryBuilder
	current  *Stage
}

// NewController creates a controller over the loaded stage configurations.
func NewController(configs map[string]*config.StageConfig) *Controller {
	return &Controller{
		configs:  configs,
		builders: make(map[Name]RegistryBuilder),
	}
}

// RegisterBuilder installs the registry builder for a stage. Must be called
// for every stage before Activate.
func (c *Controller) RegisterBuilder(name Name, builder RegistryBuilder) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.builders[name] = builder
}

// Activate looks up the named stage, constructs it with the given
// accumulated state, and installs it as current.
func (c *Controller) Activate(name Name, args InitArgs) (*Stage, error) {
	if err := validName(name); err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	cfg, ok := c.configs[string(name)]
	if !ok {
		return nil, fmt.Errorf("%w: no configuration for %s", ErrUnknownStage, name)
	}
	builder, ok := c.builders[name]
	if !ok {
		return nil, fmt.Errorf("%w: no registry builder for %s", ErrUnknownStage, name)
	}

	registry, err := builder(name, cfg, args)
	if err != nil {
		return nil, fmt.Errorf("building registry for %s: %w", name, err)
	}

	s := &Stage{
		Name:         name,
		Config:       cfg,
		Registry:     registry,
		Instructions: buildInstructions(name, cfg, args),
		Args:         args,
	}
	c.current = s
	logging.Stage("Activated stage %s (%d tools)", name, registry.Count())
	return s, nil
}

// Current returns the active stage, or nil before first activation.
func (c *Controller) Current() *Stage {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.current
}

// Advance activates the next stage on the happy path with the given args.
func (c *Controller) Advance(args InitArgs) (*Stage, error) {
	c.mu.RLock()
	cur := c.current
	c.mu.RUnlock()
	if cur == nil {
		return c.Activate(ProfileCollection, args)
	}
	nextName, ok := next(cur.Name)
	if !ok {
		return nil, fmt.Errorf("stage %s has no successor", cur.Name)
	}
	return c.Activate(nextName, args)
}

// GoBack is the explicit edit action: it returns to the prior stage,
// keeping only the state that stage had when it ran. Downstream state is
// the caller's to clear.
func (c *Controller) GoBack() (*Stage, error) {
	c.mu.RLock()
	cur := c.current
	c.mu.RUnlock()
	if cur == nil {
		return nil, fmt.Errorf("no active stage")
	}
	prevName, ok := previous(cur.Name)
	if !ok {
		return nil, fmt.Errorf("stage %s has no predecessor", cur.Name)
	}

	args := cur.Args
	switch prevName {
	case ProfileCollection:
		// Re-editing the profile invalidates the plan.
		args.Plan = ""
	case PlanFormation:
		args.Plan = ""
	}
	logging.Stage("Edit action: returning from %s to %s", cur.Name, prevName)
	return c.Activate(prevName, args)
}

// SetConfigs swaps in reloaded stage configurations. The active stage keeps
// its already-built instructions until its next activation.
func (c *Controller) SetConfigs(configs map[string]*config.StageConfig) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.configs = configs
}
