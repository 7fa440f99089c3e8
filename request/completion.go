package request

// Completion is the caller-facing handle returned for a single isend/irecv
// (spec §3, §4.1). It exposes only Wait/Status/ID — never the registry
// internals — so channel and comm code can hand it out freely.
type Completion struct {
	registry *Registry
	id       uint64
}

// NewCompletion wraps id as a Completion backed by reg. Called by the
// channel layer right after Registry.NewRequest.
func NewCompletion(reg *Registry, id uint64) *Completion {
	return &Completion{registry: reg, id: id}
}

// ID returns the underlying request id.
func (c *Completion) ID() uint64 { return c.id }

// Wait blocks until the request reaches a terminal status.
func (c *Completion) Wait() {
	c.registry.Wait(c.id)
}

// Status returns the request's current status.
func (c *Completion) Status() Status {
	return c.registry.Status(c.id)
}

// ChainCompletion aggregates several Completions behind one handle (spec
// §3's "A chain completion aggregates several; its wait blocks until all
// children complete; its status is the first non-finished child status,
// else finished"), grounded on the original's WorkCompletion /
// ChainWorkCompletion pair (original_source/src/core/work_request.cc).
type ChainCompletion struct {
	children []*Completion
}

// NewChainCompletion returns an empty ChainCompletion.
func NewChainCompletion() *ChainCompletion {
	return &ChainCompletion{}
}

// Add appends c as a child of this chain.
func (cc *ChainCompletion) Add(c *Completion) {
	cc.children = append(cc.children, c)
}

// Wait blocks until every child completion has reached a terminal status.
func (cc *ChainCompletion) Wait() {
	for _, c := range cc.children {
		c.Wait()
	}
}

// Status returns the first non-Finished terminal status among the
// children, in the order they were added, or Finished if every child
// finished cleanly. Children are assumed already terminal (call after
// Wait, or after independently confirming each child is done).
func (cc *ChainCompletion) Status() Status {
	for _, c := range cc.children {
		if s := c.Status(); s != Finished {
			return s
		}
	}
	return Finished
}
