package store

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuongbtq/tagqueue/internal/domain"
)

func TestAdmission_Evaluate(t *testing.T) {
	tests := []struct {
		name    string
		allowed []string
		active  []string
		tags    []string
		want    Verdict
	}{
		{name: "no rules admits", tags: []string{"hotel"}, want: Admit},
		{name: "tagless admits", want: Admit},
		{name: "active tag blocks", active: []string{"hotel"}, tags: []string{"hotel", "payment"}, want: Block},
		{name: "disjoint active tags admit", active: []string{"flight"}, tags: []string{"hotel"}, want: Admit},
		{name: "allow-list match admits", allowed: []string{"hotel"}, tags: []string{"hotel", "booking"}, want: Admit},
		{name: "allow-list miss rejects", allowed: []string{"payment"}, tags: []string{"hotel"}, want: Reject},
		{name: "allow-list rejects tagless", allowed: []string{"payment"}, want: Reject},
		{name: "reject wins over block", allowed: []string{"payment"}, active: []string{"hotel"}, tags: []string{"hotel"}, want: Reject},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			adm := Admission{AllowedTags: tt.allowed}
			job := domain.NewJob(tt.tags, nil)

			assert.Equal(t, tt.want, adm.Evaluate(job, domain.NewTagSet(tt.active...)))
		})
	}
}

func TestParseRejectPolicy(t *testing.T) {
	tests := []struct {
		in      string
		want    RejectPolicy
		wantErr bool
	}{
		{in: "", want: RejectDiscard},
		{in: "discard", want: RejectDiscard},
		{in: "requeue", want: RejectRequeue},
		{in: "skip", want: RejectSkip},
		{in: "drop", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseRejectPolicy(tt.in)
			if tt.wantErr {
				require.Error(t, err)
				assert.ErrorIs(t, err, domain.ErrInvalidArgument)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	assert.Equal(t, RejectDiscard, Admission{}.Policy())
}
