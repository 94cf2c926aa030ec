package database

import (
	"errors"
)

// Backend groups the repositories of one storage engine.
type Backend struct {
	Name     string
	Users    UserStore
	Persons  PersonWriter
	Matches  MatchStore
	Sessions SessionStore
	closers  []func() error
}

// OnClose registers a function that is called by Close, in reverse order.
func (b *Backend) OnClose(fn func() error) {
	b.closers = append(b.closers, fn)
}

// Close releases every resource held by the backend.
func (b *Backend) Close() error {
	var errs []error
	for i := len(b.closers) - 1; i >= 0; i-- {
		if err := b.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	b.closers = nil
	return errors.Join(errs...)
}
