// Copyright (C) 2022 myl7
// SPDX-License-Identifier: Apache-2.0

package smrtype

import "fmt"

// Panicf aborts the process with a diagnostic tagged by replica id, for the
// protocol violations spec.md classifies as fatal (non-monotonic request
// numbers, gaps, prepare at the wrong index, and similar bugs rather than
// runtime conditions).
func Panicf(replicaId ReplicaId, format string, args ...any) {
	panic(fmt.Sprintf("replica %d: %s", replicaId, fmt.Sprintf(format, args...)))
}
