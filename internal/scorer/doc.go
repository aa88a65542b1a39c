// Package scorer samples node resource pressure and turns it into the
// scalar score the master's scheduler ranks workers by. Lower is more
// available. See Score for the formula and ProcSampler for the Linux
// /proc-backed default implementation.
package scorer
