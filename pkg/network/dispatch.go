package network

import (
	"fmt"
	"reflect"
	"runtime"
	"sync"

	"github.com/kretoffer/obscuraproto/pkg/protocol"
)

// ConnID identifies one live connection on a Server or Client. IDs are
// never reused within a process.
type ConnID uint64

// PayloadHandler receives the raw decoded payload and unpacks it
// itself.
type PayloadHandler func(conn ConnID, payload *protocol.Payload)

// ArgsHandler receives parameters already unpacked according to the
// ArgType list it was registered with. Integer types arrive as int64 or
// uint64, floats as float64, strings as string, bools as bool, and
// byte sequences as []byte.
type ArgsHandler func(conn ConnID, args []interface{})

// ArgType declares the expected type of one payload parameter for an
// ArgsHandler registration.
type ArgType int

const (
	ArgString ArgType = iota
	ArgInt
	ArgUint
	ArgFloat
	ArgBool
	ArgBytes
)

func (t ArgType) String() string {
	switch t {
	case ArgString:
		return "string"
	case ArgInt:
		return "int"
	case ArgUint:
		return "uint"
	case ArgFloat:
		return "float"
	case ArgBool:
		return "bool"
	case ArgBytes:
		return "bytes"
	default:
		return fmt.Sprintf("argtype(%d)", int(t))
	}
}

// DispatchError describes a failed dispatch of a single payload. It is
// delivered to the dispatcher's error hook; the dispatch loop itself
// continues.
type DispatchError struct {
	Conn    ConnID
	OpCode  uint16
	Handler string
	Err     error
}

func (e *DispatchError) Error() string {
	return fmt.Sprintf("dispatch of opcode 0x%04x to %s on conn %d: %v", e.OpCode, e.Handler, e.Conn, e.Err)
}

func (e *DispatchError) Unwrap() error {
	return e.Err
}

type registration struct {
	raw   PayloadHandler
	typed ArgsHandler
	types []ArgType
	name  string
}

// Dispatcher routes decoded payloads to handlers by opcode. A server
// shares one dispatcher across all its connections; registrations made
// while the server is running apply to subsequent dispatches.
//
// Precedence per payload: the opcode's registered handler if present,
// else the default handler if set, else the payload is dropped without
// error.
type Dispatcher struct {
	mu       sync.RWMutex
	handlers map[uint16]registration
	fallback *registration

	// OnError, when set, receives every dispatch failure (unpacking
	// mismatch, leftover parameters). Failures are otherwise silent.
	onError func(*DispatchError)
}

// NewDispatcher creates an empty dispatcher.
func NewDispatcher() *Dispatcher {
	return &Dispatcher{handlers: make(map[uint16]registration)}
}

// SetErrorHandler installs the hook receiving dispatch failures.
func (d *Dispatcher) SetErrorHandler(fn func(*DispatchError)) {
	d.mu.Lock()
	d.onError = fn
	d.mu.Unlock()
}

func handlerName(fn interface{}) string {
	pc := reflect.ValueOf(fn).Pointer()
	if f := runtime.FuncForPC(pc); f != nil {
		return f.Name()
	}
	return "unknown handler"
}

// HandlePayload registers a raw handler for an opcode. Registering a
// second handler for the same opcode replaces the first.
func (d *Dispatcher) HandlePayload(opCode uint16, fn PayloadHandler) {
	d.mu.Lock()
	d.handlers[opCode] = registration{raw: fn, name: handlerName(fn)}
	d.mu.Unlock()
}

// Handle registers a typed handler for an opcode. The payload's
// parameters are unpacked according to types before invocation;
// payloads that do not match produce a DispatchError and no invocation.
// Registering a second handler for the same opcode replaces the first.
func (d *Dispatcher) Handle(opCode uint16, types []ArgType, fn ArgsHandler) {
	d.mu.Lock()
	d.handlers[opCode] = registration{typed: fn, types: append([]ArgType(nil), types...), name: handlerName(fn)}
	d.mu.Unlock()
}

// HandleDefault registers the fallback for opcodes with no registered
// handler. The fallback always receives the raw payload.
func (d *Dispatcher) HandleDefault(fn PayloadHandler) {
	d.mu.Lock()
	d.fallback = &registration{raw: fn, name: handlerName(fn)}
	d.mu.Unlock()
}

// Dispatch routes one payload. It never panics the caller's loop: all
// failures go to the error hook.
func (d *Dispatcher) Dispatch(conn ConnID, payload *protocol.Payload) {
	d.mu.RLock()
	reg, ok := d.handlers[payload.OpCode()]
	if !ok {
		if d.fallback != nil {
			reg = *d.fallback
			ok = true
		}
	}
	onError := d.onError
	d.mu.RUnlock()

	if !ok {
		return
	}

	if reg.raw != nil {
		reg.raw(conn, payload)
		return
	}

	args, err := unpackArgs(payload, reg.types)
	if err != nil {
		if onError != nil {
			onError(&DispatchError{Conn: conn, OpCode: payload.OpCode(), Handler: reg.name, Err: err})
		}
		return
	}
	reg.typed(conn, args)
}

// unpackArgs extracts the payload's parameters in order according to
// the declared types. The declaration must consume the payload exactly.
func unpackArgs(payload *protocol.Payload, types []ArgType) ([]interface{}, error) {
	r := protocol.NewPayloadReader(payload)
	args := make([]interface{}, 0, len(types))

	for i, at := range types {
		if !r.HasMore() {
			return nil, fmt.Errorf("payload has %d parameters, handler declares %d", i, len(types))
		}

		var (
			v   interface{}
			err error
		)
		switch at {
		case ArgString:
			v, err = r.ReadString()
		case ArgInt:
			v, err = r.ReadInt()
		case ArgUint:
			v, err = r.ReadUint()
		case ArgFloat:
			v, err = r.ReadFloat()
		case ArgBool:
			v, err = r.ReadBool()
		case ArgBytes:
			v, err = r.ReadBytes()
		default:
			err = fmt.Errorf("unknown declared type %s", at)
		}
		if err != nil {
			return nil, err
		}
		args = append(args, v)
	}

	if r.HasMore() {
		return nil, fmt.Errorf("payload has more than the %d declared parameters", len(types))
	}
	return args, nil
}
