package sanitize

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
)

func TestSubjectToken(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"user-1", "user-1"},
		{"a.b*c", "a_b_c"},
		{"x > y", "x___y"},
		{"tab\there", "tab_here"},
		{"", EmptyToken},
		{"Ünïcode", "Ünïcode"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, SubjectToken(tt.in))
		})
	}
}

func TestSubjectToken_Truncation(t *testing.T) {
	long := strings.Repeat("a", 200)
	other := strings.Repeat("a", 199) + "b"

	got := SubjectToken(long)
	assert.Len(t, got, MaxTokenLength)
	assert.NotEqual(t, got, SubjectToken(other), "distinct IDs keep distinct tokens")
	assert.Equal(t, got, SubjectToken(long), "truncation is deterministic")

	multibyte := strings.Repeat("é", 100)
	got = SubjectToken(multibyte)
	assert.True(t, utf8.ValidString(got))
	assert.LessOrEqual(t, len(got), MaxTokenLength)
}
