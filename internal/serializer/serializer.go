package serializer

import (
	"errors"
	"fmt"
	"sync"

	"github.com/bytedance/sonic"

	"cmdflow/internal/domain"
	"cmdflow/internal/processor"
)

var ErrUnknownType = errors.New("unknown command type")

type Serializer interface {
	Serialize(cmd domain.Command) (string, error)
	Deserialize(data string) (domain.Command, error)
}

type envelope struct {
	Type    string                 `json:"type"`
	Command sonic.NoCopyRawMessage `json:"command"`
}

type decodeFunc func(raw []byte) (domain.Command, error)

// JSON encodes commands in a typed envelope. Every command type that may be
// deserialized must be registered first.
type JSON struct {
	mu    sync.RWMutex
	types map[string]decodeFunc
}

func NewJSON() *JSON {
	return &JSON{types: make(map[string]decodeFunc)}
}

func Register[C domain.Command](s *JSON) {
	key := processor.TypeKey[C]()
	s.mu.Lock()
	defer s.mu.Unlock()
	s.types[key] = func(raw []byte) (domain.Command, error) {
		v := processor.Zero[C]()
		if err := sonic.ConfigStd.Unmarshal(raw, &v); err != nil {
			return nil, err
		}
		return v, nil
	}
}

func (s *JSON) Serialize(cmd domain.Command) (string, error) {
	if cmd == nil {
		return "", errors.New("serialize: nil command")
	}
	body, err := sonic.ConfigStd.Marshal(cmd)
	if err != nil {
		return "", fmt.Errorf("serialize %s: %w", domain.Describe(cmd), err)
	}
	out, err := sonic.ConfigStd.Marshal(envelope{Type: cmd.CommandType(), Command: body})
	if err != nil {
		return "", fmt.Errorf("serialize %s: %w", domain.Describe(cmd), err)
	}
	return string(out), nil
}

func (s *JSON) Deserialize(data string) (domain.Command, error) {
	var env envelope
	if err := sonic.ConfigStd.UnmarshalFromString(data, &env); err != nil {
		return nil, fmt.Errorf("deserialize: %w", err)
	}
	return s.Decode(env.Type, env.Command)
}

// New builds a fresh command of the named type from a JSON object holding
// its fields. Identity fields in body are replaced by a new id and timestamp.
func (s *JSON) New(typ string, body []byte) (domain.Command, error) {
	fields := map[string]any{}
	if len(body) > 0 {
		if err := sonic.ConfigStd.Unmarshal(body, &fields); err != nil {
			return nil, fmt.Errorf("decode %s fields: %w", typ, err)
		}
		if fields == nil {
			fields = map[string]any{}
		}
	}
	base := domain.NewBase()
	fields["id"] = base.ID
	fields["timestamp"] = base.Timestamp
	raw, err := sonic.ConfigStd.Marshal(fields)
	if err != nil {
		return nil, fmt.Errorf("encode %s fields: %w", typ, err)
	}
	return s.Decode(typ, raw)
}

// Decode builds a command of the named type from its bare JSON body.
func (s *JSON) Decode(typ string, body []byte) (domain.Command, error) {
	s.mu.RLock()
	decode, ok := s.types[typ]
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, typ)
	}
	cmd, err := decode(body)
	if err != nil {
		return nil, fmt.Errorf("deserialize %s: %w", typ, err)
	}
	return cmd, nil
}
