package estop

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha1" //nolint:gosec // HOTP/TOTP (RFC 4226/6238) mandates SHA-1 for the MAC.
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"path/filepath"

	"github.com/zeroclaw-labs/zeroclaw-sub000/internal/secrets"
)

// otpSecretLen is the shared-secret length in bytes for HOTP/TOTP (RFC 4226 §4).
const otpSecretLen = 20

// otpStepSeconds is the TOTP time-step window (RFC 6238 default).
const otpStepSeconds = 30

// otpDigits is the number of digits in a generated OTP code.
const otpDigits = 6

// OtpValidator validates time-based one-time-password codes against a
// shared secret stored, at rest, through the encrypted secret store.
type OtpValidator struct {
	secret []byte
}

// NewOtpValidator loads (or creates) a TOTP shared secret from store,
// keyed by name under dir, and returns a validator plus whether a new
// secret was generated.
func NewOtpValidator(store *secrets.Store, dir, name string) (*OtpValidator, bool, error) {
	path := filepath.Join(dir, name+".otp-secret")
	existing, created, err := readOrCreateSecretFile(path, store)
	if err != nil {
		return nil, false, err
	}
	return &OtpValidator{secret: existing}, created, nil
}

func readOrCreateSecretFile(path string, store *secrets.Store) ([]byte, bool, error) {
	if raw, ok, err := tryReadEncryptedFile(path, store); err != nil {
		return nil, false, err
	} else if ok {
		return raw, false, nil
	}

	secret := make([]byte, otpSecretLen)
	if _, err := rand.Read(secret); err != nil {
		return nil, false, fmt.Errorf("generate otp secret: %w", err)
	}
	encrypted, err := store.Encrypt(hex.EncodeToString(secret))
	if err != nil {
		return nil, false, fmt.Errorf("encrypt otp secret: %w", err)
	}
	if err := writeFileAtomic(path, []byte(encrypted)); err != nil {
		return nil, false, fmt.Errorf("persist otp secret: %w", err)
	}
	return secret, true, nil
}

func tryReadEncryptedFile(path string, store *secrets.Store) ([]byte, bool, error) {
	raw, ok, err := readFileIfExists(path)
	if err != nil {
		return nil, false, err
	}
	if !ok {
		return nil, false, nil
	}
	plaintext, err := store.Decrypt(string(raw))
	if err != nil {
		return nil, false, fmt.Errorf("decrypt otp secret: %w", err)
	}
	secret, err := hex.DecodeString(plaintext)
	if err != nil {
		return nil, false, fmt.Errorf("otp secret file is corrupt: %w", err)
	}
	return secret, true, nil
}

// CodeForTimestamp computes the 6-digit TOTP code for the given unix
// timestamp. Exposed so tests and operator tooling can generate the code
// that Validate would currently accept.
func (v *OtpValidator) CodeForTimestamp(unixSeconds int64) string {
	counter := uint64(unixSeconds) / otpStepSeconds
	return hotp(v.secret, counter)
}

// Validate reports whether code matches the current time step, tolerating
// a drift of one step in either direction (common TOTP leniency).
func (v *OtpValidator) Validate(code, nowFn func() int64) (bool, error) {
	if code == "" {
		return false, fmt.Errorf("otp code must not be empty")
	}
	now := nowFn()
	counter := uint64(now) / otpStepSeconds
	for _, c := range []uint64{counter - 1, counter, counter + 1} {
		if hotp(v.secret, c) == code {
			return true, nil
		}
	}
	return false, nil
}

// hotp implements RFC 4226 HOTP with otpDigits digits.
func hotp(secret []byte, counter uint64) string {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], counter)

	mac := hmac.New(sha1.New, secret)
	mac.Write(buf[:])
	sum := mac.Sum(nil)

	offset := sum[len(sum)-1] & 0x0f
	truncated := binary.BigEndian.Uint32(sum[offset:offset+4]) & 0x7fffffff

	mod := uint32(1)
	for i := 0; i < otpDigits; i++ {
		mod *= 10
	}
	return fmt.Sprintf("%0*d", otpDigits, truncated%mod)
}
