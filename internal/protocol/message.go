// Package protocol implements the coordinator's delimited text wire format.
//
// Every message is a single line of ASCII text. Fields are separated by '|';
// the first field is the message type and the remaining fields are positional
// arguments. Factor lists are comma-joined inside one field.
package protocol

import (
	"errors"
	"fmt"
	"math/big"
	"strconv"
	"strings"

	"github.com/kernbread/finalProjectDistributedForNoel/pkg/types"
)

// Delimiter separates the fields of a message.
const Delimiter = "|"

// FactorSeparator joins the factors inside a factor-list field.
const FactorSeparator = ","

// MessageType is the first field of every message.
type MessageType string

const (
	TypeFactorReq   MessageType = "FACTOR_REQ"   // upstream -> coordinator
	TypePollardReq  MessageType = "POLLARD_REQ"  // coordinator -> worker
	TypePollardResp MessageType = "POLLARD_RESP" // worker -> coordinator
	TypeCancelReq   MessageType = "CANCEL_REQ"   // coordinator -> worker
	TypeCancelResp  MessageType = "CANCEL_RESP"  // worker -> coordinator
	TypeFactorResp  MessageType = "FACTOR_RESP"  // coordinator -> upstream
)

// arity is the number of fields following the type tag.
var arity = map[MessageType]int{
	TypeFactorReq:   2,
	TypePollardReq:  3,
	TypePollardResp: 4,
	TypeCancelReq:   1,
	TypeCancelResp:  1,
	TypeFactorResp:  3,
}

var (
	ErrEmptyMessage  = errors.New("protocol: empty message")
	ErrUnknownType   = errors.New("protocol: unknown message type")
	ErrArity         = errors.New("protocol: wrong field count")
	ErrBadWorkerID   = errors.New("protocol: worker id is not numeric")
	ErrBadTarget     = errors.New("protocol: target is not a positive decimal integer")
	ErrBadClientID   = errors.New("protocol: empty client id")
	ErrBadFactorList = errors.New("protocol: malformed factor list")
	ErrTypeMismatch  = errors.New("protocol: unexpected message type")
)

// Message is a parsed but not yet typed message.
type Message struct {
	Type   MessageType
	Fields []string
}

// Sanitize strips surrounding whitespace and line terminators from a raw read.
func Sanitize(raw string) string {
	return strings.TrimSpace(strings.ReplaceAll(raw, "\r", ""))
}

// Parse splits a raw line into its type and fields and checks the arity of
// known message types.
func Parse(raw string) (Message, error) {
	line := Sanitize(raw)
	if line == "" {
		return Message{}, ErrEmptyMessage
	}

	parts := strings.Split(line, Delimiter)
	msg := Message{Type: MessageType(parts[0]), Fields: parts[1:]}

	want, known := arity[msg.Type]
	if !known {
		return msg, fmt.Errorf("%w: %q", ErrUnknownType, parts[0])
	}
	if len(msg.Fields) != want {
		return msg, fmt.Errorf("%w: %s wants %d fields, got %d", ErrArity, msg.Type, want, len(msg.Fields))
	}
	return msg, nil
}

// Encode joins a type and its fields into a wire line (without terminator).
func Encode(t MessageType, fields ...string) string {
	return strings.Join(append([]string{string(t)}, fields...), Delimiter)
}

// ParseWorkerID parses a decimal worker id field.
func ParseWorkerID(s string) (types.ConnID, error) {
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("%w: %q", ErrBadWorkerID, s)
	}
	return types.ConnID(n), nil
}

// ValidTarget reports whether s is a positive decimal integer of any size in
// canonical form. Leading zeros are rejected so one number has exactly one
// spelling and sibling rows always match by string.
func ValidTarget(s string) bool {
	if s == "" || s[0] == '0' || strings.TrimLeft(s, "0123456789") != "" {
		return false
	}
	n, ok := new(big.Int).SetString(s, 10)
	return ok && n.Sign() > 0
}

func checkTarget(s string) error {
	if !ValidTarget(s) {
		return fmt.Errorf("%w: %q", ErrBadTarget, s)
	}
	return nil
}

func checkClientID(s string) error {
	if s == "" {
		return ErrBadClientID
	}
	return nil
}

// SplitFactors splits and validates a comma-joined factor list.
func SplitFactors(csv string) ([]string, error) {
	if csv == "" {
		return nil, fmt.Errorf("%w: empty", ErrBadFactorList)
	}
	factors := strings.Split(csv, FactorSeparator)
	for _, f := range factors {
		if !ValidTarget(f) {
			return nil, fmt.Errorf("%w: %q", ErrBadFactorList, csv)
		}
	}
	return factors, nil
}

// JoinFactors renders factors as a factor-list field.
func JoinFactors(factors []string) string {
	return strings.Join(factors, FactorSeparator)
}

func expect(m Message, t MessageType) error {
	if m.Type != t {
		return fmt.Errorf("%w: want %s, got %s", ErrTypeMismatch, t, m.Type)
	}
	if len(m.Fields) != arity[t] {
		return fmt.Errorf("%w: %s wants %d fields, got %d", ErrArity, t, arity[t], len(m.Fields))
	}
	return nil
}
