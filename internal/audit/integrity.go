package audit

import (
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/zeebo/blake3"

	"trustlayer/internal/audit/domain"
	"trustlayer/internal/security"
)

// ErrIntegrity is returned when a record's checksum or signature does not
// match its contents.
var ErrIntegrity = errors.New("audit: integrity check failed")

const signaturePurpose = "trustlayer audit record signature v1"

var encMode cbor.EncMode

func init() {
	opts := cbor.CoreDetEncOptions()
	opts.Time = cbor.TimeRFC3339Nano
	opts.TextMarshaler = cbor.TextMarshalerTextString
	var err error
	encMode, err = opts.EncMode()
	if err != nil {
		panic("audit: CBOR encoder initialization failed: " + err.Error())
	}
}

// Sealer computes and checks record checksums and signatures. A Sealer
// without a key produces checksums only.
type Sealer struct {
	key   [32]byte
	keyed bool
}

// NewSealer derives the signing key from secret. An empty secret yields an
// unkeyed Sealer.
func NewSealer(secret []byte) (*Sealer, error) {
	if len(secret) == 0 {
		return &Sealer{}, nil
	}
	key, err := security.DeriveKey(secret, signaturePurpose)
	if err != nil {
		return nil, fmt.Errorf("audit: derive signing key: %w", err)
	}
	return &Sealer{key: key, keyed: true}, nil
}

// Keyed reports whether the Sealer signs records.
func (s *Sealer) Keyed() bool { return s.keyed }

// Seal stamps r.Integrity. The record must not change afterwards except for
// its archival fields.
func (s *Sealer) Seal(r *domain.Record) error {
	b, err := canonical(r)
	if err != nil {
		return err
	}
	sum := blake3.Sum256(b)
	r.Integrity.SchemaVersion = domain.SchemaVersion
	r.Integrity.Checksum = hex.EncodeToString(sum[:])
	r.Integrity.Signature = ""
	if s.keyed {
		r.Integrity.Signature = hex.EncodeToString(s.sign(b))
	}
	return nil
}

// Verify recomputes the checksum and, for a keyed Sealer, the signature.
func (s *Sealer) Verify(r *domain.Record) error {
	if r.Integrity.SchemaVersion != domain.SchemaVersion {
		return fmt.Errorf("%w: unsupported schema version %d", ErrIntegrity, r.Integrity.SchemaVersion)
	}
	b, err := canonical(r)
	if err != nil {
		return err
	}
	sum := blake3.Sum256(b)
	if !equalHex(r.Integrity.Checksum, sum[:]) {
		return fmt.Errorf("%w: checksum mismatch for %s", ErrIntegrity, r.ID)
	}
	if !s.keyed {
		return nil
	}
	if r.Integrity.Signature == "" {
		return fmt.Errorf("%w: record %s is unsigned", ErrIntegrity, r.ID)
	}
	if !equalHex(r.Integrity.Signature, s.sign(b)) {
		return fmt.Errorf("%w: signature mismatch for %s", ErrIntegrity, r.ID)
	}
	return nil
}

func (s *Sealer) sign(b []byte) []byte {
	h, err := blake3.NewKeyed(s.key[:])
	if err != nil {
		panic("audit: BLAKE3 keyed hash initialization failed: " + err.Error())
	}
	h.Write(b)
	return h.Sum(nil)
}

func equalHex(got string, want []byte) bool {
	b, err := hex.DecodeString(got)
	if err != nil {
		return false
	}
	return subtle.ConstantTimeCompare(b, want) == 1
}

// canonical encodes the immutable part of r. Integrity and archival fields
// are zeroed and the timestamp is reduced to the precision Postgres keeps.
func canonical(r *domain.Record) ([]byte, error) {
	c := r.Clone()
	c.Integrity = domain.Integrity{SchemaVersion: r.Integrity.SchemaVersion}
	c.Archival = domain.Archival{}
	c.Timestamp = storedTime(c.Timestamp)
	b, err := encMode.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("audit: encode record: %w", err)
	}
	return b, nil
}

func storedTime(t time.Time) time.Time { return t.UTC().Truncate(time.Microsecond) }

// normalizeTarget passes free-form target state through JSON so the sealed
// form matches what the store returns.
func normalizeTarget(t *domain.Target) error {
	if t == nil {
		return nil
	}
	for _, m := range []*map[string]any{&t.Before, &t.After} {
		if *m == nil {
			continue
		}
		b, err := json.Marshal(*m)
		if err != nil {
			return fmt.Errorf("%w: target state: %v", domain.ErrInvalidEvent, err)
		}
		var out map[string]any
		if err := json.Unmarshal(b, &out); err != nil {
			return fmt.Errorf("%w: target state: %v", domain.ErrInvalidEvent, err)
		}
		*m = out
	}
	return nil
}
