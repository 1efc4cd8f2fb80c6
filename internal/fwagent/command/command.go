package command

import (
	"errors"
	"fmt"

	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"
)

const (
	// NameUpdate downloads and activates the image at the payload URL.
	NameUpdate = "fwupdate"
	// NameRestart restarts the device; the payload is ignored.
	NameRestart = "restart"
)

// ErrMalformed is returned for payloads that do not follow the command grammar.
var ErrMalformed = errors.New("malformed command")

// Command is a decoded {"cmd": ..., "payload": ...} message.
type Command struct {
	Name     string
	Argument string
}

// Parse decodes a command payload. Both fields must be strings; the
// payload may only be omitted for restart.
func Parse(data []byte) (Command, error) {
	s := &structpb.Struct{}
	if err := protojson.Unmarshal(data, s); err != nil {
		return Command{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	name, ok, err := stringField(s, "cmd")
	if err != nil {
		return Command{}, err
	}
	if !ok {
		return Command{}, fmt.Errorf("%w: missing field \"cmd\"", ErrMalformed)
	}

	arg, ok, err := stringField(s, "payload")
	if err != nil {
		return Command{}, err
	}
	if !ok && name != NameRestart {
		return Command{}, fmt.Errorf("%w: missing field \"payload\"", ErrMalformed)
	}

	return Command{Name: name, Argument: arg}, nil
}

func stringField(s *structpb.Struct, key string) (string, bool, error) {
	v, ok := s.GetFields()[key]
	if !ok {
		return "", false, nil
	}
	sv, ok := v.GetKind().(*structpb.Value_StringValue)
	if !ok {
		return "", false, fmt.Errorf("%w: field %q is not a string", ErrMalformed, key)
	}
	return sv.StringValue, true, nil
}
