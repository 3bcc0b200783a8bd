package dropboxurl

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	tests := []struct {
		name          string
		raw           string
		wantErr       bool
		wantSelector  string
		wantInline    string
		wantRepoRoot  string
	}{
		{
			name:         "bare path, default account",
			raw:          "dropbox:///foo/bar",
			wantRepoRoot: "/foo/bar",
		},
		{
			name:         "named account",
			raw:          "dropbox://work@/foo",
			wantSelector: "work",
			wantRepoRoot: "/foo",
		},
		{
			name:         "inline token",
			raw:          "dropbox://:TOKEN123@/foo",
			wantInline:   "TOKEN123",
			wantRepoRoot: "/foo",
		},
		{
			name:         "path normalized, trailing slash trimmed",
			raw:          "dropbox:///foo/bar/",
			wantRepoRoot: "/foo/bar",
		},
		{
			name:         "root path preserved",
			raw:          "dropbox:///",
			wantRepoRoot: "/",
		},
		{
			name:    "wrong scheme",
			raw:     "s3:///foo",
			wantErr: true,
		},
		{
			name:    "missing path",
			raw:     "dropbox://",
			wantErr: true,
		},
		{
			name:    "relative path",
			raw:     "dropbox://foo",
			wantErr: true,
		},
		{
			name:    "empty inline token",
			raw:     "dropbox://:@/foo",
			wantErr: true,
		},
		{
			name:    "malformed userinfo with extra colon",
			raw:     "dropbox://a:b@/foo",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			u, err := Parse(tt.raw)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantSelector, u.TokenSelector)
			assert.Equal(t, tt.wantInline, u.InlineToken)
			assert.Equal(t, tt.wantRepoRoot, u.RepoRoot)
		})
	}
}

func TestURLString(t *testing.T) {
	t.Run("round trips selector form", func(t *testing.T) {
		u, err := Parse("dropbox://work@/foo")
		require.NoError(t, err)
		assert.Equal(t, "dropbox://work@/foo", u.String())
	})

	t.Run("round trips inline token form", func(t *testing.T) {
		u, err := Parse("dropbox://:TOKEN@/foo")
		require.NoError(t, err)
		assert.Equal(t, "dropbox://:TOKEN@/foo", u.String())
	})

	t.Run("round trips default account form", func(t *testing.T) {
		u, err := Parse("dropbox:///foo")
		require.NoError(t, err)
		assert.Equal(t, "dropbox:///foo", u.String())
	})
}
