// Copyright 2024 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package executor

import (
	"fmt"
	"sync/atomic"

	"github.com/juju/utils"
	"gopkg.in/errgo.v1"
)

// requestSeq is the only mutable process-wide state in the package, per
// spec.md §5's "unique-request-id generator is the only mutable
// process-wide state and must be atomic".
var requestSeq uint64

// nextRequestID returns a globally unique pipeline-request identifier:
// a process-local monotonic counter paired with a random suffix, so
// that restarts or clock skew cannot reintroduce a collision between
// outstanding requests.
func nextRequestID() (string, error) {
	seq := atomic.AddUint64(&requestSeq, 1)
	uuid, err := utils.NewUUID()
	if err != nil {
		return "", errgo.Notef(err, "cannot generate request id")
	}
	return fmt.Sprintf("%d-%s", seq, uuid.String()), nil
}
