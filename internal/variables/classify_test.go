package variables

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestClassify(t *testing.T) {
	testCases := []struct {
		expression string
		expected   Kind
	}{
		{"https://api.example.com", KindStatic},
		{"", KindStatic},
		{"{ not a marker }", KindStatic},
		{`{{ secret(16, "abcdef") }}`, KindFunction},
		{`  {{secret(8,"ab")}}  `, KindFunction},
		{"{{ mongo-db.MONGO_URI }}", KindReference},
		{"{{ web.PUBLIC_DOMAIN }}", KindReference},
		{"{{ a }}-{{ b }}", KindCombo},
		{"https://{{ web.PUBLIC_DOMAIN }}/api", KindCombo},
		{"{{ notAFunctionOrRef }}", KindUnknown},
		{`{{ secret(abc, "ab") }}`, KindUnknown},
		{"{{ web.1BAD }}", KindUnknown},
		{"{{ secret(16,\n\"ab\") }}", KindUnknown},
		{"{{ web.\nPUBLIC_DOMAIN }}", KindUnknown},
		{"{{\n  web.PUBLIC_DOMAIN\n}}", KindReference},
		{"https://{{ web.\nPUBLIC_DOMAIN }}/api", KindCombo},
	}
	for _, testCase := range testCases {
		t.Run(testCase.expression, func(t *testing.T) {
			kind := Classify(testCase.expression)
			require.Equal(t, testCase.expected, kind)
			// Classification is a pure function of the expression
			require.Equal(t, kind, Classify(testCase.expression))
		})
	}
}

func TestParseFunction(t *testing.T) {
	length, charset, ok := ParseFunction(`{{ secret(16, "abc123") }}`)
	require.True(t, ok)
	require.Equal(t, 16, length)
	require.Equal(t, "abc123", charset)

	_, _, ok = ParseFunction("{{ web.FOO }}")
	require.False(t, ok)
}

func TestParseReference(t *testing.T) {
	service, variable, ok := ParseReference("{{ orders-db.DATABASE_URI }}")
	require.True(t, ok)
	require.Equal(t, "orders-db", service)
	require.Equal(t, "DATABASE_URI", variable)

	_, _, ok = ParseReference("static")
	require.False(t, ok)
}

func TestRenameReferences(t *testing.T) {
	mapping := map[string]string{"orders-db": "orders-db-1a2b3c"}
	require.Equal(
		t,
		"{{ orders-db-1a2b3c.DATABASE_URI }}",
		RenameReferences("{{orders-db.DATABASE_URI}}", mapping),
	)
	require.Equal(
		t,
		"{{ orders-db-1a2b3c.HOST }}:{{ other.PORT }}",
		RenameReferences("{{ orders-db.HOST }}:{{ other.PORT }}", mapping),
	)
	require.Equal(
		t,
		`{{ secret(8, "ab") }}`,
		RenameReferences(`{{ secret(8, "ab") }}`, mapping),
	)
}

func TestSecret(t *testing.T) {
	secret, err := Secret(16, "ab")
	require.NoError(t, err)
	require.Len(t, secret, 16)
	require.Regexp(t, `^[ab]{16}$`, secret)

	// Repeated generation is not deterministic
	seen := map[string]struct{}{}
	for i := 0; i < 5; i++ {
		s, err := Secret(32, "abcdefghijklmnopqrstuvwxyz0123456789")
		require.NoError(t, err)
		seen[s] = struct{}{}
	}
	require.Len(t, seen, 5)

	_, err = Secret(0, "ab")
	require.Error(t, err)
	_, err = Secret(8, "")
	require.Error(t, err)
}
