package mfa

import (
	"context"
	"crypto/rand"
	"strings"
	"time"

	"github.com/google/uuid"

	"trustlayer/internal/mfa/domain"
	"trustlayer/internal/security"
)

// BackupCodeStore persists hashed backup codes.
type BackupCodeStore interface {
	Unused(ctx context.Context, userID string) ([]domain.BackupCode, error)
	// MarkUsed consumes a code; it reports false if the code was already used.
	MarkUsed(ctx context.Context, userID, id string, at time.Time) (bool, error)
	Replace(ctx context.Context, userID string, codes []domain.BackupCode) error
}

// BackupCodeIssuer checks single-use recovery codes.
type BackupCodeIssuer struct {
	Store  BackupCodeStore
	Hasher *security.Hasher
	Now    func() time.Time
}

// Issue delivers nothing; backup codes are handed out at enrollment.
func (b BackupCodeIssuer) Issue(ctx context.Context, s *domain.Session) (string, string, error) {
	return "", "", nil
}

// Verify consumes the first unused code matching supplied.
func (b BackupCodeIssuer) Verify(ctx context.Context, s *domain.Session, supplied string) (bool, error) {
	codes, err := b.Store.Unused(ctx, s.UserID)
	if err != nil {
		return false, err
	}
	supplied = normalizeBackupCode(supplied)
	for _, c := range codes {
		if !b.Hasher.Matches(c.Hash, supplied) {
			continue
		}
		now := time.Now().UTC()
		if b.Now != nil {
			now = b.Now()
		}
		return b.Store.MarkUsed(ctx, s.UserID, c.ID, now)
	}
	return false, nil
}

const backupAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

// GenerateBackupCodes creates n codes formatted XXXX-XXXX, replaces the
// user's stored set with their hashes, and returns the plain codes.
func (b BackupCodeIssuer) GenerateBackupCodes(ctx context.Context, userID string, n int) ([]string, error) {
	plain := make([]string, 0, n)
	stored := make([]domain.BackupCode, 0, n)
	for i := 0; i < n; i++ {
		raw := make([]byte, 8)
		if _, err := rand.Read(raw); err != nil {
			return nil, err
		}
		for j := range raw {
			raw[j] = backupAlphabet[int(raw[j])%len(backupAlphabet)]
		}
		code := string(raw[:4]) + "-" + string(raw[4:])
		hash, err := b.Hasher.Hash(code)
		if err != nil {
			return nil, err
		}
		plain = append(plain, code)
		stored = append(stored, domain.BackupCode{ID: uuid.New().String(), UserID: userID, Hash: hash})
	}
	if err := b.Store.Replace(ctx, userID, stored); err != nil {
		return nil, err
	}
	return plain, nil
}

func normalizeBackupCode(s string) string {
	s = strings.ToUpper(strings.TrimSpace(s))
	if len(s) == 8 && !strings.Contains(s, "-") {
		s = s[:4] + "-" + s[4:]
	}
	return s
}
