package store

import (
	"testing"

	"github.com/jackc/pgx/v5/pgtype"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Most transitions carry no documents, so the engine hands the store a nil
// EvidenceRefs slice. The evidence_refs column is text[] NOT NULL and pgx
// encodes nil as SQL NULL, so every binding must go through refsOrEmpty.

func TestRefsOrEmpty(t *testing.T) {
	assert.NotNil(t, refsOrEmpty(nil))
	assert.Empty(t, refsOrEmpty(nil))
	assert.Equal(t, []string{"doc-1", "doc-2"}, refsOrEmpty([]string{"doc-1", "doc-2"}))
}

func TestRefsOrEmpty_EncodesAsEmptyArrayNotNull(t *testing.T) {
	m := pgtype.NewMap()

	buf, err := m.Encode(pgtype.TextArrayOID, pgtype.TextFormatCode, []string(nil), nil)
	require.NoError(t, err)
	require.Nil(t, buf, "a nil []string binds SQL NULL; if this changes, refsOrEmpty is redundant")

	buf, err = m.Encode(pgtype.TextArrayOID, pgtype.TextFormatCode, refsOrEmpty(nil), nil)
	require.NoError(t, err)
	require.NotNil(t, buf, "normalized refs must bind an empty array, not NULL")
}
