// TubePulse - Creator Video Analytics Sync Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tubepulse

package queue

import "errors"

// permanentError is implemented by errors that must not be retried.
type permanentError interface {
	Permanent() bool
}

// IsPermanent reports whether any error in err's chain declares itself
// permanent.
func IsPermanent(err error) bool {
	var p permanentError
	return errors.As(err, &p) && p.Permanent()
}

// Permanent marks err as non-retryable.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanent{err: err}
}

type permanent struct{ err error }

func (p *permanent) Error() string { return p.err.Error() }
func (p *permanent) Unwrap() error { return p.err }
func (p *permanent) Permanent() bool { return true }
