package relay

import (
	"bytes"

	"github.com/driftmesh/meshcore/pkg/crypto"
	"github.com/driftmesh/meshcore/pkg/identity"
	"github.com/driftmesh/meshcore/pkg/tlv"
)

// SealedPayload is the structure carried in Envelope.Payload when
// IsEncrypted is set for a direct (non-group) message (spec §6): the
// AEAD ciphertext, nonce and tag, plus a SenderAgreementPublic field
// that the codec carries. EncodeOutgoing leaves that field empty and the
// receiver does not read it; decryption uses the session built from the
// peer keys stored with pkg/crypto beforehand.
type SealedPayload struct {
	Ciphertext            []byte
	Nonce                 []byte
	Tag                   []byte
	SenderAgreementPublic []byte
}

const (
	tagSealedCiphertext = 0
	tagSealedNonce      = 1
	tagSealedTag        = 2
	tagSealedSenderKey  = 3
)

func EncodeSealedPayload(p *SealedPayload) ([]byte, error) {
	var buf bytes.Buffer
	w := tlv.NewWriter(&buf)
	if err := w.StartStructure(tlv.Anonymous()); err != nil {
		return nil, err
	}
	if err := w.PutBytes(tlv.ContextTag(tagSealedCiphertext), p.Ciphertext); err != nil {
		return nil, err
	}
	if err := w.PutBytes(tlv.ContextTag(tagSealedNonce), p.Nonce); err != nil {
		return nil, err
	}
	if err := w.PutBytes(tlv.ContextTag(tagSealedTag), p.Tag); err != nil {
		return nil, err
	}
	if err := w.PutBytes(tlv.ContextTag(tagSealedSenderKey), p.SenderAgreementPublic); err != nil {
		return nil, err
	}
	if err := w.EndContainer(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func DecodeSealedPayload(data []byte) (*SealedPayload, error) {
	r := tlv.NewReader(bytes.NewReader(data))
	if err := r.Next(); err != nil || r.Type() != tlv.ElementTypeStruct {
		return nil, ErrMalformedEnvelope
	}
	if err := r.EnterContainer(); err != nil {
		return nil, ErrMalformedEnvelope
	}
	p := &SealedPayload{}
	for {
		if err := r.Next(); err != nil {
			return nil, ErrMalformedEnvelope
		}
		if r.IsEndOfContainer() {
			break
		}
		if !r.Tag().IsContext() {
			if err := r.Skip(); err != nil {
				return nil, ErrMalformedEnvelope
			}
			continue
		}
		switch r.Tag().TagNumber() {
		case tagSealedCiphertext:
			b, err := r.Bytes()
			if err != nil {
				return nil, ErrMalformedEnvelope
			}
			p.Ciphertext = b
		case tagSealedNonce:
			b, err := r.Bytes()
			if err != nil {
				return nil, ErrMalformedEnvelope
			}
			p.Nonce = b
		case tagSealedTag:
			b, err := r.Bytes()
			if err != nil {
				return nil, ErrMalformedEnvelope
			}
			p.Tag = b
		case tagSealedSenderKey:
			b, err := r.Bytes()
			if err != nil {
				return nil, ErrMalformedEnvelope
			}
			p.SenderAgreementPublic = b
		default:
			if err := r.Skip(); err != nil {
				return nil, ErrMalformedEnvelope
			}
		}
	}
	if err := r.ExitContainer(); err != nil {
		return nil, ErrMalformedEnvelope
	}
	return p, nil
}

// SealedGroupPayload is the structure carried when the destination is a
// group: the ciphertext is sealed under the conversation's shared
// GroupKey rather than a per-peer session key.
type SealedGroupPayload struct {
	GroupID    crypto.GroupID
	Ciphertext []byte
	Nonce      []byte
	Tag        []byte
	SenderID   identity.NodeID
	SenderName string
}

const (
	tagGroupID         = 0
	tagGroupCiphertext = 1
	tagGroupNonce      = 2
	tagGroupTag        = 3
	tagGroupSenderID   = 4
	tagGroupSenderName = 5
)

func EncodeSealedGroupPayload(p *SealedGroupPayload) ([]byte, error) {
	var buf bytes.Buffer
	w := tlv.NewWriter(&buf)
	if err := w.StartStructure(tlv.Anonymous()); err != nil {
		return nil, err
	}
	if err := w.PutBytes(tlv.ContextTag(tagGroupID), p.GroupID[:]); err != nil {
		return nil, err
	}
	if err := w.PutBytes(tlv.ContextTag(tagGroupCiphertext), p.Ciphertext); err != nil {
		return nil, err
	}
	if err := w.PutBytes(tlv.ContextTag(tagGroupNonce), p.Nonce); err != nil {
		return nil, err
	}
	if err := w.PutBytes(tlv.ContextTag(tagGroupTag), p.Tag); err != nil {
		return nil, err
	}
	if err := w.PutBytes(tlv.ContextTag(tagGroupSenderID), p.SenderID[:]); err != nil {
		return nil, err
	}
	if err := w.PutString(tlv.ContextTag(tagGroupSenderName), p.SenderName); err != nil {
		return nil, err
	}
	if err := w.EndContainer(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func DecodeSealedGroupPayload(data []byte) (*SealedGroupPayload, error) {
	r := tlv.NewReader(bytes.NewReader(data))
	if err := r.Next(); err != nil || r.Type() != tlv.ElementTypeStruct {
		return nil, ErrMalformedEnvelope
	}
	if err := r.EnterContainer(); err != nil {
		return nil, ErrMalformedEnvelope
	}
	p := &SealedGroupPayload{}
	for {
		if err := r.Next(); err != nil {
			return nil, ErrMalformedEnvelope
		}
		if r.IsEndOfContainer() {
			break
		}
		if !r.Tag().IsContext() {
			if err := r.Skip(); err != nil {
				return nil, ErrMalformedEnvelope
			}
			continue
		}
		switch r.Tag().TagNumber() {
		case tagGroupID:
			b, err := r.Bytes()
			if err != nil || len(b) != len(p.GroupID) {
				return nil, ErrMalformedEnvelope
			}
			copy(p.GroupID[:], b)
		case tagGroupCiphertext:
			b, err := r.Bytes()
			if err != nil {
				return nil, ErrMalformedEnvelope
			}
			p.Ciphertext = b
		case tagGroupNonce:
			b, err := r.Bytes()
			if err != nil {
				return nil, ErrMalformedEnvelope
			}
			p.Nonce = b
		case tagGroupTag:
			b, err := r.Bytes()
			if err != nil {
				return nil, ErrMalformedEnvelope
			}
			p.Tag = b
		case tagGroupSenderID:
			b, err := r.Bytes()
			if err != nil || len(b) != len(p.SenderID) {
				return nil, ErrMalformedEnvelope
			}
			copy(p.SenderID[:], b)
		case tagGroupSenderName:
			s, err := r.String()
			if err != nil {
				return nil, ErrMalformedEnvelope
			}
			p.SenderName = s
		default:
			if err := r.Skip(); err != nil {
				return nil, ErrMalformedEnvelope
			}
		}
	}
	if err := r.ExitContainer(); err != nil {
		return nil, ErrMalformedEnvelope
	}
	return p, nil
}
