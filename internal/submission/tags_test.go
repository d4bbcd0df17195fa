package submission

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestNormalizeTags(t *testing.T) {
	tests := []struct {
		in   string
		want []string
	}{
		{"", nil},
		{" a, b ,c", []string{"a", "b", "c"}},
		{"a,,b", []string{"a", "b"}},
		{"linux", []string{"linux"}},
		{" , ", nil},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got := NormalizeTags(tt.in)
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("NormalizeTags(%q) mismatch (-want +got):\n%s", tt.in, diff)
			}
			// Normalizing the joined result is stable.
			if again := NormalizeTags(JoinTags(got)); !cmp.Equal(got, again) {
				t.Errorf("not idempotent: %v -> %v", got, again)
			}
		})
	}
}
