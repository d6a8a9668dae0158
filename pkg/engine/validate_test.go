package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidateResult(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    []string
	}{
		{
			name:    "clean payload",
			content: `{"count":3,"pods":["a","b","c"]}`,
			want:    nil,
		},
		{
			name:    "empty object",
			content: `{}`,
			want:    []string{"result payload is empty"},
		},
		{
			name:    "empty array",
			content: `[]`,
			want:    []string{"result payload is empty"},
		},
		{
			name:    "blank",
			content: "   ",
			want:    []string{"result payload is empty"},
		},
		{
			name:    "null",
			content: "null",
			want:    []string{"result payload is empty"},
		},
		{
			name:    "single indicator",
			content: `{"status":"ImagePullBackOff","message":"image not found"}`,
			want:    []string{`result contains error indicator "not found"`},
		},
		{
			name:    "case insensitive",
			content: "FAILED to mount volume",
			want:    []string{`result contains error indicator "failed"`},
		},
		{
			name:    "multiple indicators",
			content: "error: request timeout",
			want: []string{
				`result contains error indicator "error"`,
				`result contains error indicator "timeout"`,
			},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, ValidateResult(tc.content))
		})
	}
}
