//go:build integration

package subject_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"voicegate/internal/descriptor"
	"voicegate/internal/platform/postgres"
	"voicegate/internal/subject"
	"voicegate/pkg/testutil/containers"
)

func TestPostgresStore_Integration(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx := context.Background()
	pg := containers.NewPostgresContainer(t)
	store := subject.NewPostgres(postgres.NewWithDB(pg.DB, 4))

	_, err := store.Find(ctx, "subj-1")
	require.ErrorIs(t, err, subject.ErrNotFound)

	values := make([]float64, descriptor.Dim)
	for i := range values {
		values[i] = float64(i) * 0.01
	}
	values[0] = 0.5
	ref := subject.Reference{
		SubjectID:  "subj-1",
		Descriptor: descriptor.Descriptor{Values: values, Version: "ecapa-v1"},
		EnrolledAt: time.Now().UTC().Truncate(time.Microsecond),
	}
	require.NoError(t, store.Upsert(ctx, ref))

	found, err := store.Find(ctx, "subj-1")
	require.NoError(t, err)
	assert.Equal(t, ref.SubjectID, found.SubjectID)
	assert.Equal(t, ref.Descriptor.Version, found.Descriptor.Version)
	assert.InDeltaSlice(t, ref.Descriptor.Values, found.Descriptor.Values, 1e-12)

	// Re-enrollment replaces the reference wholesale.
	updated := ref
	updated.Descriptor.Version = "ecapa-v2"
	require.NoError(t, store.Upsert(ctx, updated))

	found, err = store.Find(ctx, "subj-1")
	require.NoError(t, err)
	assert.Equal(t, "ecapa-v2", found.Descriptor.Version)
}
