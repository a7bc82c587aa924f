package redis

import (
	"fmt"
)

func prefixedName(prefix, key string) string {
	if prefix == "" {
		return key
	}
	return fmt.Sprintf("%s:%s", prefix, key)
}

func queuesSetName(prefix string) string {
	return prefixedName(prefix, "queues")
}

func pendingListName(prefix, queueName string) string {
	return prefixedName(
		prefix,
		fmt.Sprintf("queues:%s:pending", queueName),
	)
}

func jobsHashName(prefix, queueName string) string {
	return prefixedName(
		prefix,
		fmt.Sprintf("queues:%s:jobs", queueName),
	)
}

func statesHashName(prefix, queueName string) string {
	return prefixedName(
		prefix,
		fmt.Sprintf("queues:%s:states", queueName),
	)
}

func workersSetName(prefix, queueName string) string {
	return prefixedName(
		prefix,
		fmt.Sprintf("queues:%s:workers", queueName),
	)
}

func activeListName(prefix, queueName, workerID string) string {
	return prefixedName(
		prefix,
		fmt.Sprintf("queues:%s:workers:%s:active", queueName, workerID),
	)
}
