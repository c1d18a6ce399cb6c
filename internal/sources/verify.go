package sources

import (
	"crypto/sha256"
	"crypto/sha512"
	"encoding/hex"
	"fmt"
	"hash"
	"io"
	"net/http"
	"os"
	"strings"

	"lukechampine.com/blake3"
)

// Verification checks a fetched file before it is used.
type Verification interface {
	Verify(path string) error
}

// HashMismatchError reports a digest that does not match the expected
// value for a downloaded file.
type HashMismatchError struct {
	Path      string
	Algorithm string
	Expected  string
	Actual    string
}

func (e *HashMismatchError) Error() string {
	return fmt.Sprintf("%s does not match expected %s value: expected %s, got %s",
		e.Path, e.Algorithm, e.Expected, e.Actual)
}

// HashVerification verifies a file against a digest given either
// inline or as a detached URL whose body's first token is the digest.
type HashVerification struct {
	Algorithm string
	value     string
	hashURL   string
}

// NewHashVerification builds a verification from an inline digest.
func NewHashVerification(algorithm, value string) (*HashVerification, error) {
	if _, err := newHasher(algorithm); err != nil {
		return nil, err
	}
	return &HashVerification{Algorithm: algorithm, value: strings.ToLower(value)}, nil
}

// NewHashVerificationURL builds a verification whose digest is fetched
// from a detached URL on first use.
func NewHashVerificationURL(algorithm, hashURL string) (*HashVerification, error) {
	if _, err := newHasher(algorithm); err != nil {
		return nil, err
	}
	return &HashVerification{Algorithm: algorithm, hashURL: hashURL}, nil
}

func (v *HashVerification) Verify(path string) error {
	if v.value == "" {
		if err := v.obtainValue(); err != nil {
			return err
		}
	}

	h, err := newHasher(v.Algorithm)
	if err != nil {
		return err
	}
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	if _, err := io.Copy(h, f); err != nil {
		return err
	}

	actual := hex.EncodeToString(h.Sum(nil))
	if actual != v.value {
		return &HashMismatchError{
			Path:      path,
			Algorithm: v.Algorithm,
			Expected:  v.value,
			Actual:    actual,
		}
	}
	return nil
}

func (v *HashVerification) obtainValue() error {
	resp, err := http.Get(v.hashURL)
	if err != nil {
		return fmt.Errorf("fetching digest from %s: %w", v.hashURL, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("fetching digest from %s: %s", v.hashURL, resp.Status)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	if err != nil {
		return err
	}
	fields := strings.Fields(string(body))
	if len(fields) == 0 {
		return fmt.Errorf("digest file at %s is empty", v.hashURL)
	}
	v.value = strings.ToLower(fields[0])
	return nil
}

func newHasher(algorithm string) (hash.Hash, error) {
	switch algorithm {
	case "sha256":
		return sha256.New(), nil
	case "sha512":
		return sha512.New(), nil
	case "blake3":
		return blake3.New(32, nil), nil
	default:
		return nil, fmt.Errorf("unsupported hash algorithm: %s", algorithm)
	}
}
