// Package proto implements the JSON wire message codec: per-(command,
// message-type) field tables and validated encode/decode, ported from the
// reference implementation's proto.py.
package proto

import (
	"fmt"
)

const (
	MinVersion = 2
	MaxVersion = 3
)

// MsgType is one of the six message roles a transaction moves through.
type MsgType string

const (
	MsgRequest  MsgType = "request"
	MsgAccept   MsgType = "accept"
	MsgNotify   MsgType = "notify"
	MsgInform   MsgType = "inform"
	MsgComplete MsgType = "complete"
	MsgFail     MsgType = "fail"
)

// Cmd identifies a transaction type.
type Cmd string

const (
	CmdHello         Cmd = "hello"
	CmdTrack         Cmd = "track"
	CmdSubscribe     Cmd = "subscribe"
	CmdUnsubscribe   Cmd = "unsubscribe"
	CmdSubscriptions Cmd = "subscriptions"
	CmdServices      Cmd = "services"
	CmdPublish       Cmd = "publish"
	CmdUnpublish     Cmd = "unpublish"
	CmdPing          Cmd = "ping"
	CmdClients       Cmd = "clients"
)

// InteractionType classifies how many notify/inform round trips a
// transaction of this type involves.
type InteractionType int

const (
	SingleResponse InteractionType = iota
	MultiResponse
	TwoWay
)

// Envelope fields present on every message, outside any per-command table.
const (
	fieldTaCmd    = "ta-cmd"
	fieldTaID     = "ta-id"
	fieldMsgType  = "msg-type"
	fieldFailInfo = "fail-reason"
)

// FieldKind selects how a field's value is validated and converted.
type FieldKind int

const (
	KindString FieldKind = iota
	KindInt
	KindNumber
	KindProps
)

// FieldSpec names one field of a message body and how it must be typed.
type FieldSpec struct {
	Name string
	Kind FieldKind
}

// TransactionType is the field table for one command, one per protocol
// version it is valid in — the direct port of proto.py's TransactionType.
type TransactionType struct {
	Cmd         Cmd
	Interaction InteractionType

	RequestFields, OptRequestFields   []FieldSpec
	AcceptFields, OptAcceptFields     []FieldSpec
	NotifyFields, OptNotifyFields     []FieldSpec
	InformFields, OptInformFields     []FieldSpec
	CompleteFields, OptCompleteFields []FieldSpec
	FailFields, OptFailFields         []FieldSpec
}

func (t *TransactionType) fields(mt MsgType) (required, optional []FieldSpec) {
	switch mt {
	case MsgRequest:
		return t.RequestFields, t.OptRequestFields
	case MsgAccept:
		return t.AcceptFields, t.OptAcceptFields
	case MsgNotify:
		return t.NotifyFields, t.OptNotifyFields
	case MsgInform:
		return t.InformFields, t.OptInformFields
	case MsgComplete:
		return t.CompleteFields, t.OptCompleteFields
	case MsgFail:
		return t.FailFields, t.OptFailFields
	default:
		return nil, nil
	}
}

// registry mirrors proto.py's TA_TYPES: protocol version -> command -> type.
var registry = map[int]map[Cmd]*TransactionType{}

func register(t *TransactionType, versions []int) {
	for _, v := range versions {
		if registry[v] == nil {
			registry[v] = map[Cmd]*TransactionType{}
		}
		registry[v][t.Cmd] = t
	}
}

// Lookup returns the transaction type for cmd under protoVersion.
func Lookup(protoVersion int, cmd Cmd) (*TransactionType, error) {
	byCmd, ok := registry[protoVersion]
	if !ok {
		return nil, &ProtocolError{fmt.Sprintf("unsupported protocol version %d", protoVersion)}
	}
	t, ok := byCmd[cmd]
	if !ok {
		return nil, &ProtocolError{fmt.Sprintf("unknown protocol command %q", cmd)}
	}
	return t, nil
}

func versions(from, to int) []int {
	out := make([]int, 0, to-from+1)
	for v := from; v <= to; v++ {
		out = append(out, v)
	}
	return out
}

var allVersions = versions(MinVersion, MaxVersion)

func init() {
	register(&TransactionType{
		Cmd:            CmdHello,
		Interaction:    SingleResponse,
		RequestFields:  []FieldSpec{{"client-id", KindInt}, {"protocol-minimum-version", KindInt}, {"protocol-maximum-version", KindInt}},
		CompleteFields: []FieldSpec{{"protocol-version", KindInt}},
		OptFailFields:  []FieldSpec{{fieldFailInfo, KindString}},
	}, allVersions)

	register(&TransactionType{
		Cmd:           CmdTrack,
		Interaction:   TwoWay,
		NotifyFields:  []FieldSpec{{"track-type", KindString}},
		InformFields:  []FieldSpec{{"track-type", KindString}},
		OptFailFields: []FieldSpec{{fieldFailInfo, KindString}},
	}, []int{3})

	register(&TransactionType{
		Cmd:            CmdSubscribe,
		Interaction:    MultiResponse,
		RequestFields:  []FieldSpec{{"subscription-id", KindInt}},
		OptRequestFields: []FieldSpec{{"filter", KindString}},
		NotifyFields:   []FieldSpec{{"match-type", KindString}, {"service-id", KindInt}},
		OptNotifyFields: []FieldSpec{
			{"generation", KindInt}, {"service-props", KindProps}, {"ttl", KindInt},
			{"client-id", KindInt}, {"orphan-since", KindNumber},
		},
		OptFailFields: []FieldSpec{{fieldFailInfo, KindString}},
	}, allVersions)

	register(&TransactionType{
		Cmd:           CmdUnsubscribe,
		Interaction:   SingleResponse,
		RequestFields: []FieldSpec{{"subscription-id", KindInt}},
		OptFailFields: []FieldSpec{{fieldFailInfo, KindString}},
	}, allVersions)

	register(&TransactionType{
		Cmd:             CmdSubscriptions,
		Interaction:     MultiResponse,
		NotifyFields:    []FieldSpec{{"subscription-id", KindInt}, {"client-id", KindInt}},
		OptNotifyFields: []FieldSpec{{"filter", KindString}},
		OptFailFields:   []FieldSpec{{fieldFailInfo, KindString}},
	}, allVersions)

	register(&TransactionType{
		Cmd:              CmdServices,
		Interaction:      MultiResponse,
		OptRequestFields: []FieldSpec{{"filter", KindString}},
		NotifyFields: []FieldSpec{
			{"service-id", KindInt}, {"generation", KindInt}, {"service-props", KindProps},
			{"ttl", KindInt}, {"client-id", KindInt},
		},
		OptNotifyFields: []FieldSpec{{"orphan-since", KindNumber}},
		OptFailFields:   []FieldSpec{{fieldFailInfo, KindString}},
	}, allVersions)

	register(&TransactionType{
		Cmd:         CmdPublish,
		Interaction: SingleResponse,
		RequestFields: []FieldSpec{
			{"service-id", KindInt}, {"generation", KindInt}, {"service-props", KindProps}, {"ttl", KindInt},
		},
		OptFailFields: []FieldSpec{{fieldFailInfo, KindString}},
	}, allVersions)

	register(&TransactionType{
		Cmd:           CmdUnpublish,
		Interaction:   SingleResponse,
		RequestFields: []FieldSpec{{"service-id", KindInt}},
		OptFailFields: []FieldSpec{{fieldFailInfo, KindString}},
	}, allVersions)

	register(&TransactionType{
		Cmd:           CmdPing,
		Interaction:   SingleResponse,
		OptFailFields: []FieldSpec{{fieldFailInfo, KindString}},
	}, allVersions)

	register(&TransactionType{
		Cmd:           CmdClients,
		Interaction:   MultiResponse,
		NotifyFields:  []FieldSpec{{"client-id", KindInt}, {"client-address", KindString}, {"time", KindInt}},
		OptFailFields: []FieldSpec{{fieldFailInfo, KindString}},
	}, []int{2})

	register(&TransactionType{
		Cmd:         CmdClients,
		Interaction: MultiResponse,
		NotifyFields: []FieldSpec{
			{"client-id", KindInt}, {"client-address", KindString}, {"time", KindInt},
			{"idle", KindNumber}, {"protocol-version", KindInt},
		},
		OptNotifyFields: []FieldSpec{{"latency", KindNumber}},
		OptFailFields:   []FieldSpec{{fieldFailInfo, KindString}},
	}, []int{3})
}

// Error is the base of every error this package returns.
type Error struct{ Message string }

func (e *Error) Error() string { return e.Message }

// ProtocolError signals a malformed message (missing/extra/mistyped field,
// unknown command).
type ProtocolError struct{ Message string }

func (e *ProtocolError) Error() string { return e.Message }

// TransportError signals a framing/transport-level failure.
type TransportError struct{ Message string }

func (e *TransportError) Error() string { return e.Message }
