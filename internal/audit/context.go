package audit

// Context is the record threaded through one pipeline run. Stages read it; only the
// orchestrator writes to it, between states.
type Context struct {
	Inputs    Inputs
	Draft     string
	Document  string
	Results   map[string]StageResult
	Consensus *ConsensusReport
}

// NewContext creates the context for one audit request.
func NewContext(inputs Inputs) *Context {
	return &Context{
		Inputs:  inputs,
		Results: make(map[string]StageResult),
	}
}

// Record returns the structured record stored for a stage, or nil.
func (c *Context) Record(stage string) Record {
	if r, ok := c.Results[stage]; ok {
		return r.Record
	}
	return nil
}

// Put stores a stage result. Each stage key is written exactly once per run.
func (c *Context) Put(r StageResult) {
	c.Results[r.Stage] = r
}
