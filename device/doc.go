// Package device implements an in-process data-parallel virtual device with
// an OpenCL-shaped host API: an explicitly owned Context, FIFO command
// queues, event-based cross-queue dependencies, typed device buffers and
// NDRange kernel launches.
//
// Work-items of one work-group run as goroutines that may synchronize
// through a group barrier and share group-local state. Operations enqueued
// on the same queue execute in FIFO order; operations on different queues
// have no implicit ordering and must be related through events.
//
// The host only blocks in Event.Wait and Queue.Finish. Enqueue and Flush
// never block on device progress, which is what allows a caller to overlap
// transfers and kernel execution across queues.
package device
