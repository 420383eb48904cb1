package core

import (
	"encoding/json"
	"fmt"
	"strings"
)

// ResultShape discriminates the payload carried by a ResultEnvelope.
type ResultShape string

const (
	ShapeSingle ResultShape = "single_entity"
	ShapeList   ResultShape = "entity_list"
	ShapeAck    ResultShape = "ack"
)

func (s ResultShape) Valid() bool {
	switch s {
	case ShapeSingle, ShapeList, ShapeAck:
		return true
	}
	return false
}

// EntityKind names the remote object type behind an Entity.
type EntityKind string

const (
	KindTicket EntityKind = "ticket"
	KindPage   EntityKind = "page"
)

// ToolCall is a tool name plus its string arguments, as produced by the
// resolver and consumed by the executor.
type ToolCall struct {
	Tool      string            `json:"tool"`
	Arguments map[string]string `json:"arguments"`
}

// Arg returns the trimmed value of an argument, or "".
func (c ToolCall) Arg(name string) string {
	if c.Arguments == nil {
		return ""
	}
	return strings.TrimSpace(c.Arguments[name])
}

// Entity is a ticket or page as returned by one executor call. Entities are
// never cached; each call re-fetches them.
type Entity struct {
	Kind   EntityKind        `json:"kind"`
	ID     string            `json:"id"`
	Title  string            `json:"title"`
	Status string            `json:"status,omitempty"`
	URL    string            `json:"url,omitempty"`
	Extra  map[string]string `json:"extra,omitempty"`
}

// Ack confirms a mutation (create, update, delete).
type Ack struct {
	Action  string     `json:"action"`
	Kind    EntityKind `json:"kind"`
	ID      string     `json:"id,omitempty"`
	URL     string     `json:"url,omitempty"`
	Message string     `json:"message,omitempty"`
}

// ResultEnvelope is the uniform wrapper returned by every tool execution.
// Shape selects which of Entity, Entities or Ack is populated. A failed
// envelope carries Error (and usually Code) and no data.
type ResultEnvelope struct {
	Success  bool        `json:"success"`
	Shape    ResultShape `json:"shape,omitempty"`
	Entity   *Entity     `json:"entity,omitempty"`
	Entities []Entity    `json:"entities,omitempty"`
	Ack      *Ack        `json:"ack,omitempty"`
	Error    string      `json:"error,omitempty"`
	Code     string      `json:"code,omitempty"`
}

func SingleResult(e Entity) ResultEnvelope {
	return ResultEnvelope{Success: true, Shape: ShapeSingle, Entity: &e}
}

func ListResult(es []Entity) ResultEnvelope {
	if es == nil {
		es = []Entity{}
	}
	return ResultEnvelope{Success: true, Shape: ShapeList, Entities: es}
}

func AckResult(a Ack) ResultEnvelope {
	return ResultEnvelope{Success: true, Shape: ShapeAck, Ack: &a}
}

// Failure builds a failed envelope. An empty message is replaced so that the
// success=false => error set invariant always holds.
func Failure(code, msg string) ResultEnvelope {
	if msg == "" {
		msg = "unknown error"
	}
	return ResultEnvelope{Success: false, Error: msg, Code: code}
}

// FailureFromError maps err through MapError and wraps it in a failed envelope.
func FailureFromError(err error) ResultEnvelope {
	info := MapError(err, 500)
	return Failure(info.Code, info.Message)
}

// Validate checks the union invariants of an envelope.
func (e ResultEnvelope) Validate() error {
	if !e.Success {
		if e.Error == "" {
			return fmt.Errorf("failed envelope has no error message")
		}
		if e.Entity != nil || len(e.Entities) > 0 || e.Ack != nil {
			return fmt.Errorf("failed envelope carries data")
		}
		return nil
	}
	if !e.Shape.Valid() {
		return fmt.Errorf("unknown result shape %q", e.Shape)
	}
	switch e.Shape {
	case ShapeSingle:
		if e.Entity == nil {
			return fmt.Errorf("single_entity envelope has no entity")
		}
	case ShapeAck:
		if e.Ack == nil {
			return fmt.Errorf("ack envelope has no ack")
		}
	}
	return nil
}

// Marshal serializes the envelope. Marshal of these types cannot fail, so a
// failure is reported as a failed envelope literal.
func (e ResultEnvelope) Marshal() string {
	b, err := json.Marshal(e)
	if err != nil {
		return `{"success":false,"error":"envelope encoding failed","code":"internal_error"}`
	}
	return string(b)
}

// DecodeEnvelope strictly parses s as a ResultEnvelope and checks its invariants.
func DecodeEnvelope(s string) (ResultEnvelope, error) {
	var env ResultEnvelope
	if err := json.Unmarshal([]byte(s), &env); err != nil {
		return ResultEnvelope{}, fmt.Errorf("decode envelope: %w", err)
	}
	if err := env.Validate(); err != nil {
		return ResultEnvelope{}, err
	}
	return env, nil
}
