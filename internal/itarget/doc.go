// Package itarget defines instrumentation targets and the witness contract.
//
// An ITarget says "this value needs a witness (and maybe a check) at this
// instruction". Policies create them, filters invalidate some of them, and
// the witness engine attaches a Witness to each one that survives.
package itarget
