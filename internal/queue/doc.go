// Package queue implements the asynchronous task queue that mediates
// between synchronous request handlers and the external worker pool.
//
// Three narrow services make up the queue surface:
//
//   - Producer enqueues typed work items and owns priority/concurrency
//     defaulting. Every business-logic module that creates tasks depends
//     on this single interface.
//   - Scheduler hands out work to polling workers. Each Fetch call
//     atomically claims at most one eligible task; an empty result means
//     "nothing eligible right now" and is not an error.
//   - Reporter finalizes tasks from worker callbacks and handles
//     cancellation of pending tasks.
//
// The queue never interprets a task's function, input, payload, output or
// exception; those are contracts between producers and workers. Its own
// responsibility is limited to state-transition correctness and
// admission-control correctness, both of which are delegated to the
// TaskStore's atomic claim operation.
package queue
