// Package task models batch operations and the registry that owns them.
//
// A Task is created once per submission and mutated only by the executor
// running it. Every recorded item result is appended and counted under one
// mutex, then pushed onto the task's delivery channel, so readers never see
// a count without its result and the reporter sees events in order.
//
// The MemoryRegistry hands out ids of the form <kind>_<owner>_<ULID>. The
// ULID timestamp is the creation time, which lets Sweep compute a task's
// age from its id alone.
package task
