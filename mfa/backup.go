package mfa

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"math/big"
	"strings"
)

// BackupCodeAlphabet omits characters that are easy to misread (0/O, 1/I).
const BackupCodeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

const backupCodeHalf = 4

// GenerateBackupCodes returns n codes formatted XXXX-XXXX.
func GenerateBackupCodes(n int) ([]string, error) {
	codes := make([]string, 0, n)
	seen := make(map[string]struct{}, n)
	max := big.NewInt(int64(len(BackupCodeAlphabet)))

	for len(codes) < n {
		var b strings.Builder
		b.Grow(2*backupCodeHalf + 1)
		for i := 0; i < 2*backupCodeHalf; i++ {
			if i == backupCodeHalf {
				b.WriteByte('-')
			}
			idx, err := rand.Int(rand.Reader, max)
			if err != nil {
				return nil, err
			}
			b.WriteByte(BackupCodeAlphabet[idx.Int64()])
		}
		code := b.String()
		if _, dup := seen[code]; dup {
			continue
		}
		seen[code] = struct{}{}
		codes = append(codes, code)
	}
	return codes, nil
}

// NormalizeBackupCode upper-cases and strips separators and whitespace.
func NormalizeBackupCode(code string) string {
	code = strings.ToUpper(code)
	return strings.Map(func(r rune) rune {
		if r == '-' || r == ' ' || r == '\t' {
			return -1
		}
		return r
	}, code)
}

// HashBackupCode is the stored form of a backup code.
func HashBackupCode(code string) string {
	sum := sha256.Sum256([]byte(NormalizeBackupCode(code)))
	return hex.EncodeToString(sum[:])
}

// HashBackupCodes hashes every code in codes.
func HashBackupCodes(codes []string) []string {
	out := make([]string, len(codes))
	for i, c := range codes {
		out[i] = HashBackupCode(c)
	}
	return out
}
