package service

import (
	"context"
	"crypto/rand"
	"fmt"

	appErrors "github.com/acadly/remedial-api/pkg/errors"
)

// CodeAlphabet is the exact character set attendance codes are drawn from:
// uppercase letters and digits minus the visually confusable O, I, 0 and 1.
// It is part of the external code format; changing it breaks printed codes.
const CodeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

// CodeLength is the fixed length of every attendance code.
const CodeLength = 8

type codeStore interface {
	CodeExists(ctx context.Context, code string) (bool, error)
}

// CodeGenerator produces unique attendance codes. Uniqueness is pre-checked
// against the session store; the database unique index remains the final
// guard against races between concurrent generations.
type CodeGenerator struct {
	store       codeStore
	maxAttempts int
}

// NewCodeGenerator constructs a generator with a bounded retry budget.
func NewCodeGenerator(store codeStore, maxAttempts int) *CodeGenerator {
	if maxAttempts <= 0 {
		maxAttempts = 10
	}
	return &CodeGenerator{store: store, maxAttempts: maxAttempts}
}

// Generate returns a fresh code not currently held by any session. With a
// 32^8 code space exhaustion is practically unreachable, but the retry budget
// is enforced rather than assumed away.
func (g *CodeGenerator) Generate(ctx context.Context) (string, error) {
	for attempt := 0; attempt < g.maxAttempts; attempt++ {
		code, err := randomCode()
		if err != nil {
			return "", appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to read randomness")
		}
		exists, err := g.store.CodeExists(ctx, code)
		if err != nil {
			return "", appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check code uniqueness")
		}
		if !exists {
			return code, nil
		}
	}
	return "", appErrors.Clone(appErrors.ErrCodeSpaceExhausted, fmt.Sprintf("no unique code after %d attempts", g.maxAttempts))
}

func randomCode() (string, error) {
	buf := make([]byte, CodeLength)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	// Alphabet length is exactly 32, so masking the low five bits maps
	// uniformly without modulo bias.
	out := make([]byte, CodeLength)
	for i, b := range buf {
		out[i] = CodeAlphabet[b&31]
	}
	return string(out), nil
}
