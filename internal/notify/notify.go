// Package notify tells the service manager about the state of the process
// through the socket named by the NOTIFY_SOCKET environment variable. When the
// variable is not set every call is a no-op.
package notify

import (
	"net"
	"os"
	"strings"
)

// Ready reports that the explorer API is accepting connections.
func Ready() error {
	return send("READY=1")
}

// Stopping reports that a shutdown has begun.
func Stopping() error {
	return send("STOPPING=1")
}

// Status sets the free-form status line shown by the service manager.
func Status(s string) error {
	return send("STATUS=" + strings.ReplaceAll(s, "\n", " "))
}

func send(states ...string) error {
	name := os.Getenv("NOTIFY_SOCKET")
	if name == "" {
		return nil
	}
	// Abstract sockets are written with a leading "@".
	if strings.HasPrefix(name, "@") {
		name = "\x00" + name[1:]
	}
	c, err := net.DialUnix("unixgram", nil, &net.UnixAddr{Name: name, Net: "unixgram"})
	if err != nil {
		return err
	}
	defer c.Close()
	_, err = c.Write([]byte(strings.Join(states, "\n")))
	return err
}
