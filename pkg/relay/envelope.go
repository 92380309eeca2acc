package relay

import (
	"bytes"

	"github.com/driftmesh/meshcore/pkg/identity"
	"github.com/driftmesh/meshcore/pkg/tlv"
)

// Envelope is the end-to-end message unit (spec §3). MessageID is
// generated once at origin and never rewritten by relays; TTL is
// decremented on every forwarding hop.
type Envelope struct {
	MessageID     identity.NodeID
	OriginID      identity.NodeID
	OriginName    string
	DestinationID identity.NodeID
	IsEncrypted   bool
	RequiresAck   bool
	TTL           uint8
	Payload       []byte

	// GroupMessage marks DestinationID as a GroupID rather than a
	// single peer's NodeID: the Router floods rather than routes it,
	// and every member decrypts its own local copy instead of the
	// envelope terminating at one recipient. Not part of the minimal
	// wire attributes the format calls out, but required to tell a
	// flooded group send apart from a unicast send to an unreachable
	// remote node at the routing layer.
	GroupMessage bool
}

// Envelope TLV field tags, scoped to this structure only.
const (
	tagMessageID     = 0
	tagOriginID      = 1
	tagOriginName    = 2
	tagDestinationID = 3
	tagIsEncrypted   = 4
	tagRequiresAck   = 5
	tagTTL           = 6
	tagPayload       = 7
	tagGroupMessage  = 8
)

// EncodeEnvelope serialises an Envelope to its wire TLV structure,
// grounded on the teacher's Matter TLV writer (pkg/tlv/writer.go),
// the corpus's only self-describing structured codec.
func EncodeEnvelope(env *Envelope) ([]byte, error) {
	var buf bytes.Buffer
	w := tlv.NewWriter(&buf)
	if err := w.StartStructure(tlv.Anonymous()); err != nil {
		return nil, err
	}
	if err := w.PutBytes(tlv.ContextTag(tagMessageID), env.MessageID[:]); err != nil {
		return nil, err
	}
	if err := w.PutBytes(tlv.ContextTag(tagOriginID), env.OriginID[:]); err != nil {
		return nil, err
	}
	if err := w.PutString(tlv.ContextTag(tagOriginName), env.OriginName); err != nil {
		return nil, err
	}
	if err := w.PutBytes(tlv.ContextTag(tagDestinationID), env.DestinationID[:]); err != nil {
		return nil, err
	}
	if err := w.PutBool(tlv.ContextTag(tagIsEncrypted), env.IsEncrypted); err != nil {
		return nil, err
	}
	if err := w.PutBool(tlv.ContextTag(tagRequiresAck), env.RequiresAck); err != nil {
		return nil, err
	}
	if err := w.PutUint(tlv.ContextTag(tagTTL), uint64(env.TTL)); err != nil {
		return nil, err
	}
	if err := w.PutBytes(tlv.ContextTag(tagPayload), env.Payload); err != nil {
		return nil, err
	}
	if err := w.PutBool(tlv.ContextTag(tagGroupMessage), env.GroupMessage); err != nil {
		return nil, err
	}
	if err := w.EndContainer(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// DecodeEnvelope parses a wire TLV structure back into an Envelope.
func DecodeEnvelope(data []byte) (*Envelope, error) {
	r := tlv.NewReader(bytes.NewReader(data))
	if err := r.Next(); err != nil {
		return nil, ErrMalformedEnvelope
	}
	if r.Type() != tlv.ElementTypeStruct {
		return nil, ErrMalformedEnvelope
	}
	if err := r.EnterContainer(); err != nil {
		return nil, ErrMalformedEnvelope
	}

	env := &Envelope{}
	for {
		if err := r.Next(); err != nil {
			return nil, ErrMalformedEnvelope
		}
		if r.IsEndOfContainer() {
			break
		}
		tag := r.Tag()
		if !tag.IsContext() {
			if err := r.Skip(); err != nil {
				return nil, ErrMalformedEnvelope
			}
			continue
		}
		switch tag.TagNumber() {
		case tagMessageID:
			b, err := r.Bytes()
			if err != nil || len(b) != len(env.MessageID) {
				return nil, ErrMalformedEnvelope
			}
			copy(env.MessageID[:], b)
		case tagOriginID:
			b, err := r.Bytes()
			if err != nil || len(b) != len(env.OriginID) {
				return nil, ErrMalformedEnvelope
			}
			copy(env.OriginID[:], b)
		case tagOriginName:
			s, err := r.String()
			if err != nil {
				return nil, ErrMalformedEnvelope
			}
			env.OriginName = s
		case tagDestinationID:
			b, err := r.Bytes()
			if err != nil || len(b) != len(env.DestinationID) {
				return nil, ErrMalformedEnvelope
			}
			copy(env.DestinationID[:], b)
		case tagIsEncrypted:
			v, err := r.Bool()
			if err != nil {
				return nil, ErrMalformedEnvelope
			}
			env.IsEncrypted = v
		case tagRequiresAck:
			v, err := r.Bool()
			if err != nil {
				return nil, ErrMalformedEnvelope
			}
			env.RequiresAck = v
		case tagTTL:
			v, err := r.Uint()
			if err != nil || v > 255 {
				return nil, ErrMalformedEnvelope
			}
			env.TTL = uint8(v)
		case tagPayload:
			b, err := r.Bytes()
			if err != nil {
				return nil, ErrMalformedEnvelope
			}
			if len(b) > maxEnvelopePayload {
				return nil, ErrEnvelopeTooLarge
			}
			env.Payload = b
		case tagGroupMessage:
			v, err := r.Bool()
			if err != nil {
				return nil, ErrMalformedEnvelope
			}
			env.GroupMessage = v
		default:
			if err := r.Skip(); err != nil {
				return nil, ErrMalformedEnvelope
			}
		}
	}
	if err := r.ExitContainer(); err != nil {
		return nil, ErrMalformedEnvelope
	}
	return env, nil
}

// Clone returns a deep copy safe to mutate independently (used when
// forwarding: TTL is decremented on the copy, the original is left
// untouched for any caller still holding it).
func (e *Envelope) Clone() *Envelope {
	cp := *e
	cp.Payload = append([]byte(nil), e.Payload...)
	return &cp
}
