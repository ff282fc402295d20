package moderation

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ignite/messaging/internal/domain"
	"github.com/ignite/messaging/internal/pkg/apperr"
	"github.com/ignite/messaging/internal/repository/memory"
	"github.com/ignite/messaging/internal/service/attachment"
	"github.com/ignite/messaging/internal/service/deletion"
	"github.com/ignite/messaging/internal/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	admin  = domain.Principal{Email: "root@x.com", Role: domain.RoleAdmin, TenantIDs: []string{"t1"}}
	member = domain.Principal{Email: "a@x.com", Role: domain.RoleMember, TenantIDs: []string{"t1"}}
)

func setup(t *testing.T) (*memory.Store, *Service) {
	t.Helper()
	store := memory.NewStore()
	att := attachment.NewService(store, storage.NewMemoryStore(), attachment.Config{})
	return store, NewService(store, deletion.NewEngine(store, att))
}

func insert(t *testing.T, store *memory.Store, to ...string) int64 {
	t.Helper()
	ctx := context.Background()
	m := &domain.Message{SenderEmail: "a@x.com", TenantID: "t1", Subject: "s", Body: "b",
		MessageType: domain.MessageBroadcast, Priority: domain.PriorityNormal}
	require.NoError(t, store.InsertMessage(ctx, m))
	if len(to) > 0 {
		require.NoError(t, store.InsertRecipients(ctx, m.ID, to))
	}
	return m.ID
}

func TestRecall_IsOrthogonalToDeletion(t *testing.T) {
	store, svc := setup(t)
	ctx := context.Background()
	id := insert(t, store, "b@x.com")

	m, err := svc.Recall(ctx, admin, id, "  sent by mistake ")
	require.NoError(t, err)
	assert.True(t, m.IsRecalled)
	assert.Equal(t, "sent by mistake", m.RecallReason)

	stored, _ := store.GetMessage(ctx, id)
	assert.True(t, stored.IsRecalled)
	assert.False(t, stored.IsDeleted, "recall leaves the delete state alone")
	assert.NotNil(t, stored.RecalledAt)

	// soft-deleted and recalled at once
	res, err := svc.BulkTransition(ctx, admin, []int64{id}, TargetSoftDeleted, "")
	require.NoError(t, err)
	assert.Equal(t, 1, res.ProcessedCount)
	stored, _ = store.GetMessage(ctx, id)
	assert.True(t, stored.IsDeleted)
	assert.True(t, stored.IsRecalled)
}

func TestRecall_RequiresAdmin(t *testing.T) {
	store, svc := setup(t)
	id := insert(t, store)

	_, err := svc.Recall(context.Background(), member, id, "")
	assert.True(t, errors.Is(err, apperr.ErrAuthorization))

	_, err = svc.Recall(context.Background(), admin, 404, "")
	assert.True(t, errors.Is(err, apperr.ErrNotFound))
}

func TestMarkReadForAll(t *testing.T) {
	store, svc := setup(t)
	ctx := context.Background()
	id := insert(t, store, "b@x.com", "c@x.com")
	require.NoError(t, store.MarkRead(ctx, id, "b@x.com", time.Now()))

	n, err := svc.MarkReadForAll(ctx, admin, id)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	recs, _ := store.ListRecipients(ctx, id)
	for _, r := range recs {
		assert.True(t, r.IsRead, r.RecipientEmail)
		assert.NotNil(t, r.ReadAt)
	}

	_, err = svc.MarkReadForAll(ctx, member, id)
	assert.True(t, errors.Is(err, apperr.ErrAuthorization))
}

func TestBulkTransition_PartialSuccess(t *testing.T) {
	store, svc := setup(t)
	ctx := context.Background()
	a := insert(t, store, "b@x.com")
	b := insert(t, store, "b@x.com")

	res, err := svc.BulkTransition(ctx, admin, []int64{a, 999, b}, TargetRecalled, "policy")
	require.NoError(t, err)
	assert.Equal(t, 2, res.ProcessedCount)
	assert.Equal(t, 1, res.FailedCount)
	assert.Equal(t, []string{"999: not found"}, res.Errors)

	res, err = svc.BulkTransition(ctx, admin, []int64{a, b}, TargetRead, "")
	require.NoError(t, err)
	assert.Equal(t, 2, res.ProcessedCount)

	res, err = svc.BulkTransition(ctx, admin, []int64{a, b, a}, TargetHardDeleted, "")
	require.NoError(t, err)
	assert.Equal(t, 2, res.ProcessedCount)
	assert.Equal(t, []string{"1: not found"}, res.Errors)
	assert.Equal(t, 0, store.MessageCount())
}

func TestBulkTransition_Rejections(t *testing.T) {
	_, svc := setup(t)
	ctx := context.Background()

	_, err := svc.BulkTransition(ctx, member, []int64{1}, TargetRead, "")
	assert.True(t, errors.Is(err, apperr.ErrAuthorization))

	_, err = svc.BulkTransition(ctx, admin, []int64{1}, Target("archived"), "")
	assert.True(t, errors.Is(err, apperr.ErrValidation))

	_, err = svc.BulkTransition(ctx, admin, nil, TargetRead, "")
	assert.True(t, errors.Is(err, apperr.ErrValidation))
}
