// Copyright (c) 2024 mStar
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

//go:build !deadlock

// Package syncutil holds the lock type shared by the event plumbing.
// Building with the deadlock tag turns on lock order and timeout checks
package syncutil

import "sync"

type Mutex = sync.Mutex
