package service

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	appErrors "github.com/acadly/remedial-api/pkg/errors"
)

type mockCodeStore struct {
	existing map[string]bool
	always   bool
	calls    int
}

func (m *mockCodeStore) CodeExists(ctx context.Context, code string) (bool, error) {
	m.calls++
	if m.always {
		return true, nil
	}
	return m.existing[code], nil
}

func TestCodeGeneratorProducesValidCodes(t *testing.T) {
	gen := NewCodeGenerator(&mockCodeStore{}, 10)

	for i := 0; i < 50; i++ {
		code, err := gen.Generate(context.Background())
		require.NoError(t, err)
		assert.Len(t, code, CodeLength)
		for _, ch := range code {
			assert.True(t, strings.ContainsRune(CodeAlphabet, ch), "unexpected character %q in %s", ch, code)
		}
	}
}

func TestCodeGeneratorExcludesConfusables(t *testing.T) {
	assert.Len(t, CodeAlphabet, 32)
	for _, forbidden := range "OI01" {
		assert.False(t, strings.ContainsRune(CodeAlphabet, forbidden))
	}
}

func TestCodeGeneratorExhaustsRetryBudget(t *testing.T) {
	store := &mockCodeStore{always: true}
	gen := NewCodeGenerator(store, 5)

	_, err := gen.Generate(context.Background())
	require.Error(t, err)
	appErr := appErrors.FromError(err)
	assert.Equal(t, appErrors.ErrCodeSpaceExhausted.Code, appErr.Code)
	assert.Equal(t, 5, store.calls)
}

func TestCodeGeneratorDefaultsRetryBudget(t *testing.T) {
	store := &mockCodeStore{always: true}
	gen := NewCodeGenerator(store, 0)

	_, err := gen.Generate(context.Background())
	require.Error(t, err)
	assert.Equal(t, 10, store.calls)
}
