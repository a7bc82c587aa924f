package queue

import "strings"

const hostSeparator = "@"

// QueueName returns the name of the queue for the specified operation against
// the specified host. Routing every mutating operation for one host through
// its own queue of concurrency 1 serializes writes to that host. An empty host
// yields the operation's shared queue.
func QueueName(operation string, host string) string {
	if host == "" {
		return operation
	}
	return operation + hostSeparator + host
}

// Operation returns the operation portion of a queue name.
func Operation(queueName string) string {
	if i := strings.Index(queueName, hostSeparator); i >= 0 {
		return queueName[:i]
	}
	return queueName
}
