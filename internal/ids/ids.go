// Package ids generates strongly-random identifiers for tasks and servers.
package ids

import "github.com/google/uuid"

// NewTaskID returns a globally unique task identifier.
func NewTaskID() string {
	return uuid.NewString()
}

// NewServerID returns a server identifier used when a ServerConfig omits one.
func NewServerID() string {
	return uuid.NewString()
}
