// Package store persists access requests. Both implementations expose the
// same atomic validate-then-mutate primitive, which is the only way a
// request's status changes after creation.
package store

import "errors"

var errNotDue = errors.New("request no longer due for expiry")
