package sqlxrepos

import (
	"testing"
	"time"

	"github.com/jmoiron/sqlx/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trezcool/atelier/core"
	"github.com/trezcool/atelier/core/course"
	"github.com/trezcool/atelier/core/media"
)

func TestOrderBy(t *testing.T) {
	tests := []struct {
		name     string
		ordering []core.DBOrdering
		want     string
	}{
		{name: "default", want: " ORDER BY created_at ASC"},
		{
			name:     "known columns",
			ordering: []core.DBOrdering{{Field: "name", Ascending: true}, {Field: "created_at"}},
			want:     " ORDER BY name ASC, created_at DESC",
		},
		{
			name:     "unknown columns are dropped",
			ordering: []core.DBOrdering{{Field: "password_hash; DROP TABLE users"}},
			want:     " ORDER BY created_at ASC",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, orderBy(tt.ordering, userOrderings, "created_at ASC"))
		})
	}
}

func TestCourseRow_media(t *testing.T) {
	in := course.Course{
		ID:          core.NewID(),
		Intro:       &media.Media{Kind: media.KindVideo, URL: "/uploads/videos/a.mp4", ThumbnailURL: "/uploads/thumbnails/a.jpg"},
		Attachments: []media.Media{{Kind: media.KindFile, URL: "/uploads/files/b.pdf"}},
	}
	intro, attachments, err := mediaJSON(in)
	require.NoError(t, err)

	out, err := courseRow{ID: in.ID, Intro: intro, Attachments: attachments, CreatedAt: time.Now()}.toCourse()
	require.NoError(t, err)
	assert.Equal(t, in.Intro, out.Intro)
	assert.Equal(t, in.Attachments, out.Attachments)

	out, err = courseRow{ID: in.ID, Attachments: types.JSONText("[]")}.toCourse()
	require.NoError(t, err)
	assert.Nil(t, out.Intro)
	assert.Empty(t, out.Attachments)
}
