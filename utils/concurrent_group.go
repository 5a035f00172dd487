package utils

import (
	"sync"

	"github.com/hashicorp/go-multierror"
)

// ConcurrentGroup is like errgroup.Group but differs in that an error in one
// goroutine will not interrupt the functioning of another. All errors are
// collected and returned together from Wait.
//
// An optional limit bounds the number of functions running at once; zero or a
// negative limit means unbounded.
type ConcurrentGroup struct {
	wg  sync.WaitGroup
	sem chan struct{}

	errsMu sync.Mutex
	errs   *multierror.Error
}

func NewConcurrentGroup(limit int) *ConcurrentGroup {
	cg := &ConcurrentGroup{}
	if limit > 0 {
		cg.sem = make(chan struct{}, limit)
	}
	return cg
}

// Go runs fn in a new goroutine, blocking first if the group is at its limit.
func (c *ConcurrentGroup) Go(fn func() error) {
	if c.sem != nil {
		c.sem <- struct{}{}
	}

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		if c.sem != nil {
			defer func() { <-c.sem }()
		}

		if err := fn(); err != nil {
			c.errsMu.Lock()
			c.errs = multierror.Append(c.errs, err)
			c.errsMu.Unlock()
		}
	}()
}

// Wait blocks until every function has returned. The result is nil when no
// function failed.
func (c *ConcurrentGroup) Wait() error {
	c.wg.Wait()

	c.errsMu.Lock()
	defer c.errsMu.Unlock()
	return c.errs.ErrorOrNil()
}
