// Copyright 2021 Intuitive Labs GmbH. All rights reserved.
//
// Use of this source code is governed by a BSD-style license
// that can be found in the LICENSE.txt file in the root of the source
// tree.

package dwheel

import (
	"github.com/pingcap/errors"
)

// Sentinel errors. Returned values may carry annotated context; compare
// with errors.Cause().
var ErrInvalidParameters = errors.New("invalid parameters")
var ErrCapacityExceeded = errors.New("timer capacity exceeded")
var ErrNotEmpty = errors.New("wheel not empty")
