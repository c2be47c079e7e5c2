// Copyright 2024 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package threads

/*
 * tunable variables
 */
const (
	PriMin     = 0  /* lowest priority */
	PriDefault = 31 /* default priority */
	PriMax     = 63 /* highest priority */

	TickRate = 100 /* timer ticks per second */

	timeSlice = 4 /* ticks each thread gets before the tick handler forces a yield */

	// Longest lock wait-for chain a donation will walk. The chain is
	// acyclic (single ownership, no recursive acquire), so the cap only
	// bounds pathological nesting.
	donationDepth = 8
)
