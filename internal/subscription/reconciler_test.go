package subscription

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/kelsos/taskwatch/internal/models"
)

func TestDiff(t *testing.T) {
	tests := []struct {
		name            string
		active          []models.TaskID
		tracked         []models.TaskID
		wantSubscribe   []models.TaskID
		wantUnsubscribe []models.TaskID
	}{
		{
			name:            "overlap",
			active:          ids("b", "c", "d"),
			tracked:         ids("a", "b", "c"),
			wantSubscribe:   ids("d"),
			wantUnsubscribe: ids("a"),
		},
		{
			name:          "nothing tracked",
			active:        ids("x", "y"),
			wantSubscribe: ids("x", "y"),
		},
		{
			name:            "nothing active",
			tracked:         ids("z", "a"),
			wantUnsubscribe: ids("a", "z"),
		},
		{
			name:    "unchanged",
			active:  ids("a", "b"),
			tracked: ids("b", "a"),
		},
		{
			name:          "duplicates and empty ids",
			active:        ids("a", "", "a", "b"),
			tracked:       ids("b"),
			wantSubscribe: ids("a"),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			set := make(map[models.TaskID]bool)
			for _, id := range tt.tracked {
				set[id] = true
			}
			tracked := func(id models.TaskID) bool { return set[id] }

			toSubscribe, toUnsubscribe := diff(tt.active, tracked, tt.tracked)
			assert.Equal(t, tt.wantSubscribe, toSubscribe)
			assert.Equal(t, tt.wantUnsubscribe, toUnsubscribe)
		})
	}
}
