package router

import (
	"bytes"

	"github.com/driftmesh/meshcore/pkg/identity"
	"github.com/driftmesh/meshcore/pkg/tlv"
)

// ControlType discriminates the uniform control wrapper (spec §6).
type ControlType uint8

const (
	ControlRREQ ControlType = iota
	ControlRREP
	ControlRERR
	ControlAnnounce
	ControlAck
	ControlRead
	ControlGKD
)

func (t ControlType) String() string {
	switch t {
	case ControlRREQ:
		return "RREQ"
	case ControlRREP:
		return "RREP"
	case ControlRERR:
		return "RERR"
	case ControlAnnounce:
		return "ANNOUNCE"
	case ControlAck:
		return "ACK"
	case ControlRead:
		return "READ"
	case ControlGKD:
		return "GKD"
	default:
		return "UNKNOWN"
	}
}

// ControlMessage is the uniform wrapper {type, payload} spec §6
// describes; payload is the already-encoded inner record.
type ControlMessage struct {
	Type    ControlType
	Payload []byte
}

const (
	tagControlType    = 0
	tagControlPayload = 1
)

func EncodeControlMessage(msg *ControlMessage) ([]byte, error) {
	var buf bytes.Buffer
	w := tlv.NewWriter(&buf)
	if err := w.StartStructure(tlv.Anonymous()); err != nil {
		return nil, err
	}
	if err := w.PutUint(tlv.ContextTag(tagControlType), uint64(msg.Type)); err != nil {
		return nil, err
	}
	if err := w.PutBytes(tlv.ContextTag(tagControlPayload), msg.Payload); err != nil {
		return nil, err
	}
	err := w.EndContainer()
	return buf.Bytes(), err
}

func DecodeControlMessage(data []byte) (*ControlMessage, error) {
	r := tlv.NewReader(bytes.NewReader(data))
	if err := r.Next(); err != nil || r.Type() != tlv.ElementTypeStruct {
		return nil, ErrMalformedControl
	}
	if err := r.EnterContainer(); err != nil {
		return nil, ErrMalformedControl
	}
	msg := &ControlMessage{}
	for {
		if err := r.Next(); err != nil {
			return nil, ErrMalformedControl
		}
		if r.IsEndOfContainer() {
			break
		}
		if !r.Tag().IsContext() {
			if err := r.Skip(); err != nil {
				return nil, ErrMalformedControl
			}
			continue
		}
		switch r.Tag().TagNumber() {
		case tagControlType:
			v, err := r.Uint()
			if err != nil || v > 255 {
				return nil, ErrMalformedControl
			}
			msg.Type = ControlType(v)
		case tagControlPayload:
			b, err := r.Bytes()
			if err != nil {
				return nil, ErrMalformedControl
			}
			msg.Payload = b
		default:
			if err := r.Skip(); err != nil {
				return nil, ErrMalformedControl
			}
		}
	}
	return msg, r.ExitContainer()
}

// RouteRequest is the RREQ inner record (spec §4.5).
type RouteRequest struct {
	RequestID     identity.NodeID
	OriginID      identity.NodeID
	OriginName    string
	DestinationID identity.NodeID
	HopCount      int
	TTL           int
	HopPath       []identity.NodeID
}

// RouteReply is the RREP inner record, unicast back along the reverse
// path recorded by each intermediate RREQ handler.
type RouteReply struct {
	RequestID     identity.NodeID
	OriginID      identity.NodeID
	DestinationID identity.NodeID
	HopCount      int
	// ForwardPath is the path from the replying destination back to the
	// origin, in traversal order (origin first); each forwarder reads
	// its own predecessor off this list to know the next unicast hop.
	ForwardPath []identity.NodeID
}

// RouteError is the RERR inner record, announcing an unreachable
// next-hop peer and the destinations it used to serve.
type RouteError struct {
	UnreachableID identity.NodeID
	AffectedDests []identity.NodeID
}

// Announce is the presence-beacon inner record, hop-count-limited to 2
// (spec §4.5).
type Announce struct {
	OriginID   identity.NodeID
	OriginName string
	HopCount   int
}

const (
	tagRREQRequestID     = 0
	tagRREQOriginID      = 1
	tagRREQOriginName    = 2
	tagRREQDestinationID = 3
	tagRREQHopCount      = 4
	tagRREQTTL           = 5
	tagRREQHopPath       = 6
)

func EncodeRouteRequest(m *RouteRequest) ([]byte, error) {
	var buf bytes.Buffer
	w := tlv.NewWriter(&buf)
	if err := w.StartStructure(tlv.Anonymous()); err != nil {
		return nil, err
	}
	if err := w.PutBytes(tlv.ContextTag(tagRREQRequestID), m.RequestID[:]); err != nil {
		return nil, err
	}
	if err := w.PutBytes(tlv.ContextTag(tagRREQOriginID), m.OriginID[:]); err != nil {
		return nil, err
	}
	if err := w.PutString(tlv.ContextTag(tagRREQOriginName), m.OriginName); err != nil {
		return nil, err
	}
	if err := w.PutBytes(tlv.ContextTag(tagRREQDestinationID), m.DestinationID[:]); err != nil {
		return nil, err
	}
	if err := w.PutUint(tlv.ContextTag(tagRREQHopCount), uint64(m.HopCount)); err != nil {
		return nil, err
	}
	if err := w.PutUint(tlv.ContextTag(tagRREQTTL), uint64(m.TTL)); err != nil {
		return nil, err
	}
	if err := writeNodeIDArray(w, tlv.ContextTag(tagRREQHopPath), m.HopPath); err != nil {
		return nil, err
	}
	err := w.EndContainer()
	return buf.Bytes(), err
}

func DecodeRouteRequest(data []byte) (*RouteRequest, error) {
	r := tlv.NewReader(bytes.NewReader(data))
	if err := r.Next(); err != nil || r.Type() != tlv.ElementTypeStruct {
		return nil, ErrMalformedControl
	}
	if err := r.EnterContainer(); err != nil {
		return nil, ErrMalformedControl
	}
	m := &RouteRequest{}
	for {
		if err := r.Next(); err != nil {
			return nil, ErrMalformedControl
		}
		if r.IsEndOfContainer() {
			break
		}
		if !r.Tag().IsContext() {
			if err := r.Skip(); err != nil {
				return nil, ErrMalformedControl
			}
			continue
		}
		switch r.Tag().TagNumber() {
		case tagRREQRequestID:
			if err := readNodeID(r, &m.RequestID); err != nil {
				return nil, err
			}
		case tagRREQOriginID:
			if err := readNodeID(r, &m.OriginID); err != nil {
				return nil, err
			}
		case tagRREQOriginName:
			s, err := r.String()
			if err != nil {
				return nil, ErrMalformedControl
			}
			m.OriginName = s
		case tagRREQDestinationID:
			if err := readNodeID(r, &m.DestinationID); err != nil {
				return nil, err
			}
		case tagRREQHopCount:
			v, err := r.Uint()
			if err != nil {
				return nil, ErrMalformedControl
			}
			m.HopCount = int(v)
		case tagRREQTTL:
			v, err := r.Uint()
			if err != nil {
				return nil, ErrMalformedControl
			}
			m.TTL = int(v)
		case tagRREQHopPath:
			path, err := readNodeIDArray(r)
			if err != nil {
				return nil, err
			}
			m.HopPath = path
		default:
			if err := r.Skip(); err != nil {
				return nil, ErrMalformedControl
			}
		}
	}
	return m, r.ExitContainer()
}

const (
	tagRREPRequestID     = 0
	tagRREPOriginID      = 1
	tagRREPDestinationID = 2
	tagRREPHopCount      = 3
	tagRREPForwardPath   = 4
)

func EncodeRouteReply(m *RouteReply) ([]byte, error) {
	var buf bytes.Buffer
	w := tlv.NewWriter(&buf)
	if err := w.StartStructure(tlv.Anonymous()); err != nil {
		return nil, err
	}
	if err := w.PutBytes(tlv.ContextTag(tagRREPRequestID), m.RequestID[:]); err != nil {
		return nil, err
	}
	if err := w.PutBytes(tlv.ContextTag(tagRREPOriginID), m.OriginID[:]); err != nil {
		return nil, err
	}
	if err := w.PutBytes(tlv.ContextTag(tagRREPDestinationID), m.DestinationID[:]); err != nil {
		return nil, err
	}
	if err := w.PutUint(tlv.ContextTag(tagRREPHopCount), uint64(m.HopCount)); err != nil {
		return nil, err
	}
	if err := writeNodeIDArray(w, tlv.ContextTag(tagRREPForwardPath), m.ForwardPath); err != nil {
		return nil, err
	}
	err := w.EndContainer()
	return buf.Bytes(), err
}

func DecodeRouteReply(data []byte) (*RouteReply, error) {
	r := tlv.NewReader(bytes.NewReader(data))
	if err := r.Next(); err != nil || r.Type() != tlv.ElementTypeStruct {
		return nil, ErrMalformedControl
	}
	if err := r.EnterContainer(); err != nil {
		return nil, ErrMalformedControl
	}
	m := &RouteReply{}
	for {
		if err := r.Next(); err != nil {
			return nil, ErrMalformedControl
		}
		if r.IsEndOfContainer() {
			break
		}
		if !r.Tag().IsContext() {
			if err := r.Skip(); err != nil {
				return nil, ErrMalformedControl
			}
			continue
		}
		switch r.Tag().TagNumber() {
		case tagRREPRequestID:
			if err := readNodeID(r, &m.RequestID); err != nil {
				return nil, err
			}
		case tagRREPOriginID:
			if err := readNodeID(r, &m.OriginID); err != nil {
				return nil, err
			}
		case tagRREPDestinationID:
			if err := readNodeID(r, &m.DestinationID); err != nil {
				return nil, err
			}
		case tagRREPHopCount:
			v, err := r.Uint()
			if err != nil {
				return nil, ErrMalformedControl
			}
			m.HopCount = int(v)
		case tagRREPForwardPath:
			path, err := readNodeIDArray(r)
			if err != nil {
				return nil, err
			}
			m.ForwardPath = path
		default:
			if err := r.Skip(); err != nil {
				return nil, ErrMalformedControl
			}
		}
	}
	return m, r.ExitContainer()
}

const (
	tagRERRUnreachableID = 0
	tagRERRAffectedDests = 1
)

func EncodeRouteError(m *RouteError) ([]byte, error) {
	var buf bytes.Buffer
	w := tlv.NewWriter(&buf)
	if err := w.StartStructure(tlv.Anonymous()); err != nil {
		return nil, err
	}
	if err := w.PutBytes(tlv.ContextTag(tagRERRUnreachableID), m.UnreachableID[:]); err != nil {
		return nil, err
	}
	if err := writeNodeIDArray(w, tlv.ContextTag(tagRERRAffectedDests), m.AffectedDests); err != nil {
		return nil, err
	}
	err := w.EndContainer()
	return buf.Bytes(), err
}

func DecodeRouteError(data []byte) (*RouteError, error) {
	r := tlv.NewReader(bytes.NewReader(data))
	if err := r.Next(); err != nil || r.Type() != tlv.ElementTypeStruct {
		return nil, ErrMalformedControl
	}
	if err := r.EnterContainer(); err != nil {
		return nil, ErrMalformedControl
	}
	m := &RouteError{}
	for {
		if err := r.Next(); err != nil {
			return nil, ErrMalformedControl
		}
		if r.IsEndOfContainer() {
			break
		}
		if !r.Tag().IsContext() {
			if err := r.Skip(); err != nil {
				return nil, ErrMalformedControl
			}
			continue
		}
		switch r.Tag().TagNumber() {
		case tagRERRUnreachableID:
			if err := readNodeID(r, &m.UnreachableID); err != nil {
				return nil, err
			}
		case tagRERRAffectedDests:
			dests, err := readNodeIDArray(r)
			if err != nil {
				return nil, err
			}
			m.AffectedDests = dests
		default:
			if err := r.Skip(); err != nil {
				return nil, ErrMalformedControl
			}
		}
	}
	return m, r.ExitContainer()
}

const (
	tagAnnounceOriginID   = 0
	tagAnnounceOriginName = 1
	tagAnnounceHopCount   = 2
)

func EncodeAnnounce(m *Announce) ([]byte, error) {
	var buf bytes.Buffer
	w := tlv.NewWriter(&buf)
	if err := w.StartStructure(tlv.Anonymous()); err != nil {
		return nil, err
	}
	if err := w.PutBytes(tlv.ContextTag(tagAnnounceOriginID), m.OriginID[:]); err != nil {
		return nil, err
	}
	if err := w.PutString(tlv.ContextTag(tagAnnounceOriginName), m.OriginName); err != nil {
		return nil, err
	}
	if err := w.PutUint(tlv.ContextTag(tagAnnounceHopCount), uint64(m.HopCount)); err != nil {
		return nil, err
	}
	err := w.EndContainer()
	return buf.Bytes(), err
}

func DecodeAnnounce(data []byte) (*Announce, error) {
	r := tlv.NewReader(bytes.NewReader(data))
	if err := r.Next(); err != nil || r.Type() != tlv.ElementTypeStruct {
		return nil, ErrMalformedControl
	}
	if err := r.EnterContainer(); err != nil {
		return nil, ErrMalformedControl
	}
	m := &Announce{}
	for {
		if err := r.Next(); err != nil {
			return nil, ErrMalformedControl
		}
		if r.IsEndOfContainer() {
			break
		}
		if !r.Tag().IsContext() {
			if err := r.Skip(); err != nil {
				return nil, ErrMalformedControl
			}
			continue
		}
		switch r.Tag().TagNumber() {
		case tagAnnounceOriginID:
			if err := readNodeID(r, &m.OriginID); err != nil {
				return nil, err
			}
		case tagAnnounceOriginName:
			s, err := r.String()
			if err != nil {
				return nil, ErrMalformedControl
			}
			m.OriginName = s
		case tagAnnounceHopCount:
			v, err := r.Uint()
			if err != nil {
				return nil, ErrMalformedControl
			}
			m.HopCount = int(v)
		default:
			if err := r.Skip(); err != nil {
				return nil, ErrMalformedControl
			}
		}
	}
	return m, r.ExitContainer()
}

func writeNodeIDArray(w *tlv.Writer, tag tlv.Tag, ids []identity.NodeID) error {
	if err := w.StartArray(tag); err != nil {
		return err
	}
	for _, id := range ids {
		if err := w.PutBytes(tlv.Anonymous(), id[:]); err != nil {
			return err
		}
	}
	return w.EndContainer()
}

func readNodeIDArray(r *tlv.Reader) ([]identity.NodeID, error) {
	if err := r.EnterContainer(); err != nil {
		return nil, ErrMalformedControl
	}
	var ids []identity.NodeID
	for {
		if err := r.Next(); err != nil {
			return nil, ErrMalformedControl
		}
		if r.IsEndOfContainer() {
			break
		}
		b, err := r.Bytes()
		if err != nil || len(b) != 16 {
			return nil, ErrMalformedControl
		}
		var id identity.NodeID
		copy(id[:], b)
		ids = append(ids, id)
	}
	if err := r.ExitContainer(); err != nil {
		return nil, ErrMalformedControl
	}
	return ids, nil
}

func readNodeID(r *tlv.Reader, dst *identity.NodeID) error {
	b, err := r.Bytes()
	if err != nil || len(b) != 16 {
		return ErrMalformedControl
	}
	copy(dst[:], b)
	return nil
}
