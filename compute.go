package gx

// ComputeContext records compute work for the compute queue.
type ComputeContext struct {
	*CommandContext
}

// Dispatch flushes pending barriers, commits dirty descriptor tables, then
// records a dispatch of x*y*z thread groups.
func (c *ComputeContext) Dispatch(x, y, z uint32) error {
	if err := c.prepareWork(); err != nil {
		return err
	}
	c.list().Dispatch(x, y, z)
	c.stats.Dispatches++
	return nil
}

// Dispatch1D dispatches enough groups of groupSize threads to cover n threads.
func (c *ComputeContext) Dispatch1D(n, groupSize uint32) error {
	return c.Dispatch(divCeil(n, groupSize), 1, 1)
}

// Dispatch2D dispatches enough groupX*groupY groups to cover a w*h grid.
func (c *ComputeContext) Dispatch2D(w, h, groupX, groupY uint32) error {
	return c.Dispatch(divCeil(w, groupX), divCeil(h, groupY), 1)
}

func divCeil(n, d uint32) uint32 {
	if d == 0 {
		d = 1
	}
	q := n / d
	if n%d != 0 {
		q++
	}
	return q
}
