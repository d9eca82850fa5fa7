package flows

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strconv"
	"strings"

	"github.com/MrEthical07/authcore/internal"
)

// BackupCodeAlphabet omits look-alike characters (0/O, 1/I).
const BackupCodeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

// ErrBackupCodeInvalid is returned when no unused code matched.
var ErrBackupCodeInvalid = errors.New("invalid backup code")

type BackupCodeMetrics struct {
	BackupCodeUsed        int
	BackupCodeFailed      int
	BackupCodeRegenerated int
}

type BackupCodeEvents struct {
	BackupCodesGenerated string
	BackupCodeUsed       string
	BackupCodeFailed     string
}

// BackupCodeDeps captures backup code flow dependencies.
type BackupCodeDeps struct {
	Count  int
	Length int

	// Replace stores hashes as the user's complete set.
	Replace func(ctx context.Context, userID string, hashes []string) error
	// Consume marks the unused code with hash as used.
	Consume func(ctx context.Context, userID, hash string) (bool, error)

	RandomIndex func(int) (int, error)
	MetricInc   func(int)
	EmitAudit   AuditFunc

	Metrics BackupCodeMetrics
	Events  BackupCodeEvents
}

// RunGenerateBackupCodes creates a fresh set, replaces the stored one and
// returns the formatted plaintext codes. They are never retrievable again.
func RunGenerateBackupCodes(ctx context.Context, userID string, deps BackupCodeDeps) ([]string, error) {
	normalizeBackupCodeDeps(&deps)

	codes, hashes, err := GenerateBackupCodes(userID, deps.Count, deps.Length, deps.RandomIndex)
	if err != nil {
		return nil, err
	}
	if err := deps.Replace(ctx, userID, hashes); err != nil {
		return nil, err
	}

	deps.MetricInc(deps.Metrics.BackupCodeRegenerated)
	deps.EmitAudit(ctx, deps.Events.BackupCodesGenerated, true, userID, nil, func() map[string]string {
		return map[string]string{"count": strconv.Itoa(len(codes))}
	})
	return codes, nil
}

// RunVerifyBackupCode consumes code for userID. A code validates exactly once.
func RunVerifyBackupCode(ctx context.Context, userID, code string, deps BackupCodeDeps) error {
	normalizeBackupCodeDeps(&deps)

	canonical := CanonicalizeBackupCode(code)
	if canonical == "" || len(canonical) != deps.Length {
		deps.MetricInc(deps.Metrics.BackupCodeFailed)
		deps.EmitAudit(ctx, deps.Events.BackupCodeFailed, false, userID, ErrBackupCodeInvalid, nil)
		return ErrBackupCodeInvalid
	}

	ok, err := deps.Consume(ctx, userID, BackupCodeHash(userID, canonical))
	if err != nil {
		return err
	}
	if !ok {
		deps.MetricInc(deps.Metrics.BackupCodeFailed)
		deps.EmitAudit(ctx, deps.Events.BackupCodeFailed, false, userID, ErrBackupCodeInvalid, nil)
		return ErrBackupCodeInvalid
	}

	deps.MetricInc(deps.Metrics.BackupCodeUsed)
	deps.EmitAudit(ctx, deps.Events.BackupCodeUsed, true, userID, nil, nil)
	return nil
}

// GenerateBackupCodes returns count formatted codes and their storage hashes.
func GenerateBackupCodes(userID string, count, length int, randomIndex func(int) (int, error)) ([]string, []string, error) {
	if count <= 0 || length <= 0 {
		return nil, nil, errors.New("backup codes: invalid count or length")
	}
	codes := make([]string, 0, count)
	hashes := make([]string, 0, count)
	for i := 0; i < count; i++ {
		raw, err := NewBackupCode(length, randomIndex)
		if err != nil {
			return nil, nil, err
		}
		codes = append(codes, FormatBackupCode(raw))
		hashes = append(hashes, BackupCodeHash(userID, raw))
	}
	return codes, hashes, nil
}

func NewBackupCode(length int, randomIndex func(int) (int, error)) (string, error) {
	if randomIndex == nil {
		randomIndex = internal.RandomIndex
	}
	var b strings.Builder
	b.Grow(length)
	for i := 0; i < length; i++ {
		n, err := randomIndex(len(BackupCodeAlphabet))
		if err != nil {
			return "", err
		}
		b.WriteByte(BackupCodeAlphabet[n])
	}
	return b.String(), nil
}

// FormatBackupCode splits codes of 8+ characters into two dash-joined halves.
func FormatBackupCode(code string) string {
	n := len(code)
	if n < 8 {
		return code
	}
	mid := n / 2
	return code[:mid] + "-" + code[mid:]
}

// CanonicalizeBackupCode upper-cases and strips spaces and dashes.
func CanonicalizeBackupCode(code string) string {
	s := strings.ToUpper(strings.TrimSpace(code))
	s = strings.ReplaceAll(s, "-", "")
	s = strings.ReplaceAll(s, " ", "")
	return s
}

// BackupCodeHash binds the code to its owner so equal codes of two users
// never share a hash.
func BackupCodeHash(userID, canonicalCode string) string {
	h := sha256.New()
	h.Write([]byte(userID))
	h.Write([]byte{0})
	h.Write([]byte(canonicalCode))
	return hex.EncodeToString(h.Sum(nil))
}

func normalizeBackupCodeDeps(deps *BackupCodeDeps) {
	if deps.MetricInc == nil {
		deps.MetricInc = noopMetric
	}
	if deps.EmitAudit == nil {
		deps.EmitAudit = noopAudit
	}
	if deps.RandomIndex == nil {
		deps.RandomIndex = internal.RandomIndex
	}
}
