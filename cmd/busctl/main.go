// busctl sends one message to a control socket on the local bus: either a
// bare command (mute_toggle, volume_up, ...) or a typed message with
// key=value payload fields.
//
//	busctl mute_toggle
//	busctl -socket /tmp/satellite-ipc/control.sock VOLUME_DELTA steps=-2
//	busctl VISION_GLANCE_RESULT request_id=vg-123 state=FACE_TOWARD confidence=0.9
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"

	"github.com/ohf-voice/go-satellite/pkg/busipc"
)

func main() {
	socket := flag.String("socket",
		filepath.Join("/tmp/satellite-ipc", busipc.ControlSocket),
		"destination socket path")
	flag.Usage = usage
	flag.Parse()

	args := flag.Args()
	if len(args) == 0 {
		usage()
		os.Exit(2)
	}

	msgType := args[0]
	payload, err := parsePayload(args[1:])
	if err != nil {
		fmt.Fprintf(os.Stderr, "busctl: %v\n", err)
		os.Exit(2)
	}

	// Lowercase single words are commands; everything else goes out as a
	// typed message.
	if msgType == strings.ToLower(msgType) && len(payload) == 0 {
		payload = map[string]any{"command": msgType}
		msgType = "COMMAND"
	}

	if err := send(*socket, msgType, payload); err != nil {
		fmt.Fprintf(os.Stderr, "busctl: %v\n", err)
		os.Exit(1)
	}
}

// parsePayload turns key=value arguments into a payload map. Values that
// parse as JSON keep their type (numbers, booleans); the rest are strings.
func parsePayload(args []string) (map[string]any, error) {
	if len(args) == 0 {
		return nil, nil
	}
	payload := make(map[string]any, len(args))
	for _, arg := range args {
		key, value, ok := strings.Cut(arg, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("expected key=value, got %q", arg)
		}
		var typed any
		if err := json.Unmarshal([]byte(value), &typed); err == nil {
			payload[key] = typed
		} else {
			payload[key] = value
		}
	}
	return payload, nil
}

func send(dest, msgType string, payload map[string]any) error {
	data, err := busipc.New(msgType, payload, "busctl").Encode()
	if err != nil {
		return err
	}

	conn, err := net.DialUnix("unixgram", nil, &net.UnixAddr{Name: dest, Net: "unixgram"})
	if err != nil {
		return fmt.Errorf("dial %s: %w", dest, err)
	}
	defer conn.Close()

	if _, err := conn.Write(data); err != nil {
		return fmt.Errorf("send to %s: %w", dest, err)
	}
	return nil
}

func usage() {
	fmt.Fprintf(os.Stderr, `usage: busctl [-socket PATH] TYPE [key=value ...]

A lowercase TYPE with no payload is sent as a command. Values that parse
as JSON keep their type.

examples:
  busctl mute_toggle
  busctl VOLUME_DELTA steps=-2
  busctl VISION_GLANCE_RESULT request_id=vg-1 state=FACE_TOWARD confidence=0.9
`)
	flag.PrintDefaults()
}
