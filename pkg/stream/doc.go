// Package stream delivers task progress to HTTP clients as Server-Sent
// Events.
//
// A Reporter attaches to a task's delivery channel and writes every event
// as one "data: <json>" frame, flushing after each. When the task is idle
// for the heartbeat interval a keepalive frame is written instead. The
// stream ends after the terminal summary or when the client goes away; in
// the latter case the channel is released so a reconnecting client resumes
// with the next undelivered event.
package stream
