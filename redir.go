package rediscluster

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// Errors surfaced by the cluster. The messages are part of the API:
// callers match on them to distinguish lifecycle failures.
var (
	errClusterEnded        = errors.New("Cluster is ended.")
	errConnectionClosed    = errors.New("Connection is closed.")
	errClusterDisconnected = errors.New("Cluster is disconnected.")
	errNoStartupNodes      = errors.New("None of startup nodes is available")
	errOfflineQueueOff     = errors.New("Cluster isn't ready and enableOfflineQueue options is false")
	errAlreadyConnecting   = errors.New("Redis is already connecting/connected")
)

// RefreshError is returned when every known node failed to answer
// CLUSTER SLOTS. LastNodeError is the error from the last node tried.
type RefreshError struct {
	LastNodeError error
}

func (e *RefreshError) Error() string { return "Failed to refresh slots cache." }

func (e *RefreshError) Unwrap() error { return e.LastNodeError }

// RedirError is a parsed MOVED or ASK reply.
type RedirError struct {
	// Type is "MOVED" or "ASK".
	Type string
	// NewSlot is the slot number of the redirection.
	NewSlot int
	// Addr is the "host:port" of the destination of the redirection.
	Addr string

	raw string
}

func (e *RedirError) Error() string { return e.raw }

// ParseRedir returns the parsed MOVED or ASK redirection, or nil if
// err is not a redirection error. The reply is split on ASCII space
// into [kind, slot, host:port].
func ParseRedir(err error) *RedirError {
	if err == nil {
		return nil
	}
	parts := strings.Fields(err.Error())
	if len(parts) != 3 || (parts[0] != "MOVED" && parts[0] != "ASK") {
		return nil
	}
	slot, e := strconv.Atoi(parts[1])
	if e != nil {
		return nil
	}
	return &RedirError{
		Type:    parts[0],
		NewSlot: slot,
		Addr:    parts[2],
		raw:     err.Error(),
	}
}

// isClusterDown reports whether err is a CLUSTERDOWN reply.
func isClusterDown(err error) bool {
	return err != nil && strings.HasPrefix(err.Error(), "CLUSTERDOWN")
}

// isConnectionClosed reports whether err is the connection-loss error
// of a single-node client.
func isConnectionClosed(err error) bool {
	return err != nil && err.Error() == errConnectionClosed.Error()
}

func tooManyRedirections(last error) error {
	return fmt.Errorf("Too many Cluster redirections. Last error: %s", last)
}
