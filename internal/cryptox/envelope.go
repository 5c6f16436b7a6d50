package cryptox

import (
	"fmt"

	"github.com/dmitrijs2005/profilekeeper/internal/common"
)

// Binary layout of a sealed envelope:
//
//	[0]      format version (1)
//	[1]      suite id
//	[2]      nonce length n
//	[3:3+n]  nonce
//	[3+n:-16] ciphertext
//	[-16:]   tag
const envelopeVersion = 1

var suiteIDs = map[Suite]byte{
	SuiteAES256GCM:         1,
	SuiteXChaCha20Poly1305: 2,
}

var nonceSizes = map[Suite]int{
	SuiteAES256GCM:         12,
	SuiteXChaCha20Poly1305: 24,
}

func suiteByID(id byte) (Suite, bool) {
	for s, v := range suiteIDs {
		if v == id {
			return s, true
		}
	}
	return "", false
}

// MarshalBinary encodes s into the envelope layout.
func (s *Sealed) MarshalBinary() ([]byte, error) {
	id, ok := suiteIDs[s.Suite]
	if !ok {
		return nil, fmt.Errorf("%w: unknown cipher suite %q", common.ErrInvalidArgument, s.Suite)
	}
	if len(s.Nonce) > 255 {
		return nil, fmt.Errorf("%w: nonce too long", common.ErrInvalidArgument)
	}

	out := make([]byte, 0, 3+len(s.Nonce)+len(s.Ciphertext)+len(s.Tag))
	out = append(out, envelopeVersion, id, byte(len(s.Nonce)))
	out = append(out, s.Nonce...)
	out = append(out, s.Ciphertext...)
	out = append(out, s.Tag...)
	return out, nil
}

// UnmarshalSealed parses an envelope. Structural problems are reported as
// common.ErrIntegrity since they can only come from corruption or tampering.
func UnmarshalSealed(b []byte) (*Sealed, error) {
	if len(b) < 3 {
		return nil, fmt.Errorf("%w: envelope too short", common.ErrIntegrity)
	}
	if b[0] != envelopeVersion {
		return nil, fmt.Errorf("%w: unsupported envelope version %d", common.ErrIntegrity, b[0])
	}
	suite, ok := suiteByID(b[1])
	if !ok {
		return nil, fmt.Errorf("%w: unknown suite id %d", common.ErrIntegrity, b[1])
	}
	n := int(b[2])
	if n != nonceSizes[suite] {
		return nil, fmt.Errorf("%w: bad nonce length %d", common.ErrIntegrity, n)
	}
	rest := b[3:]
	if len(rest) < n+TagSize {
		return nil, fmt.Errorf("%w: envelope truncated", common.ErrIntegrity)
	}

	body := rest[n:]
	split := len(body) - TagSize
	return &Sealed{
		Suite:      suite,
		Nonce:      append([]byte(nil), rest[:n]...),
		Ciphertext: append([]byte(nil), body[:split]...),
		Tag:        append([]byte(nil), body[split:]...),
	}, nil
}
