package deletion

import (
	"context"
	"errors"
	"testing"

	"github.com/ignite/messaging/internal/domain"
	"github.com/ignite/messaging/internal/pkg/apperr"
	"github.com/ignite/messaging/internal/repository/memory"
	"github.com/ignite/messaging/internal/service/attachment"
	"github.com/ignite/messaging/internal/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	sender = domain.Principal{Email: "a@x.com", Role: domain.RoleMember, TenantIDs: []string{"t1"}}
	reader = domain.Principal{Email: "b@x.com", Role: domain.RoleMember, TenantIDs: []string{"t1"}}
	admin  = domain.Principal{Email: "root@x.com", Role: domain.RoleAdmin, TenantIDs: []string{"t1"}}
)

type fixture struct {
	store  *memory.Store
	blobs  *storage.MemoryStore
	att    *attachment.Service
	engine *Engine
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{store: memory.NewStore(), blobs: storage.NewMemoryStore()}
	f.att = attachment.NewService(f.store, f.blobs, attachment.Config{})
	f.att.SetLedger(storage.NewMemoryLedger())
	f.engine = NewEngine(f.store, f.att)
	return f
}

func (f *fixture) insert(t *testing.T) int64 {
	t.Helper()
	m := &domain.Message{SenderEmail: "a@x.com", TenantID: "t1", Subject: "s", Body: "b",
		MessageType: domain.MessageDirect, Priority: domain.PriorityNormal}
	require.NoError(t, f.store.InsertMessage(context.Background(), m))
	return m.ID
}

func (f *fixture) deliver(t *testing.T, id int64, to ...string) {
	t.Helper()
	require.NoError(t, f.store.InsertRecipients(context.Background(), id, to))
}

// populate gives a message recipients, an attachment, a link and a reply.
func (f *fixture) populate(t *testing.T, id int64) {
	t.Helper()
	ctx := context.Background()
	f.deliver(t, id, "b@x.com", "c@x.com")
	_, err := f.att.Upload(ctx, sender, "t1", &id, "a.txt", "", []byte("x"))
	require.NoError(t, err)
	require.NoError(t, f.store.InsertLink(ctx, &domain.Link{MessageID: id, URL: "https://example.com", Domain: "example.com"}))
	reply := f.insert(t)
	require.NoError(t, f.store.InsertThreadEdge(ctx, &domain.ThreadEdge{ParentMessageID: id, ChildMessageID: reply}))
}

func TestSoftDelete_TombstonesWithoutRemovingRows(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id := f.insert(t)
	f.populate(t, id)
	r0, a0, l0, e0 := f.store.CountRows(id)

	res, err := f.engine.SoftDelete(ctx, sender, id)
	require.NoError(t, err)
	assert.Equal(t, domain.StateSoftDeleted, res.State)
	assert.False(t, res.AlreadyDeleted)

	r1, a1, l1, e1 := f.store.CountRows(id)
	assert.Equal(t, []int{r0, a0, l0, e0}, []int{r1, a1, l1, e1})

	m, err := f.store.GetMessage(ctx, id)
	require.NoError(t, err)
	assert.True(t, m.IsDeleted)
	assert.NotNil(t, m.DeletedAt)
	recs, _ := f.store.ListRecipients(ctx, id)
	require.Len(t, recs, 2)
	for _, r := range recs {
		assert.True(t, r.IsDeleted, r.RecipientEmail)
	}

	res, err = f.engine.SoftDelete(ctx, sender, id)
	require.NoError(t, err)
	assert.True(t, res.AlreadyDeleted)
}

func TestSoftDelete_Authorization(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id := f.insert(t)
	f.deliver(t, id, "b@x.com")

	_, err := f.engine.SoftDelete(ctx, reader, id)
	assert.True(t, errors.Is(err, apperr.ErrAuthorization))

	foreign := domain.Principal{Email: "a@x.com", TenantIDs: []string{"t2"}}
	_, err = f.engine.SoftDelete(ctx, foreign, id)
	assert.True(t, errors.Is(err, apperr.ErrNotFound))

	_, err = f.engine.SoftDelete(ctx, admin, id)
	assert.NoError(t, err)
}

func TestHardDelete_RemovesEverything(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id := f.insert(t)
	f.populate(t, id)

	res, err := f.engine.HardDelete(ctx, admin, id)
	require.NoError(t, err)
	assert.Equal(t, domain.StateHardDeleted, res.State)
	assert.Equal(t, 1, res.BlobsReclaimed)
	assert.Empty(t, res.Warnings)

	r, a, l, e := f.store.CountRows(id)
	assert.Equal(t, []int{0, 0, 0, 0}, []int{r, a, l, e})
	_, err = f.store.GetMessage(ctx, id)
	assert.True(t, errors.Is(err, apperr.ErrNotFound))
	assert.Equal(t, 0, f.blobs.Len())

	// terminal: everything after reports not found
	_, err = f.engine.SoftDelete(ctx, admin, id)
	assert.True(t, errors.Is(err, apperr.ErrNotFound))
	_, err = f.engine.HardDelete(ctx, admin, id)
	assert.True(t, errors.Is(err, apperr.ErrNotFound))
}

func TestHardDelete_FromSoftDeleted(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id := f.insert(t)
	f.deliver(t, id, "b@x.com")

	_, err := f.engine.SoftDelete(ctx, sender, id)
	require.NoError(t, err)
	_, err = f.engine.HardDelete(ctx, admin, id)
	require.NoError(t, err)
	assert.Equal(t, 0, f.store.MessageCount())
}

func TestHardDelete_RequiresAdmin(t *testing.T) {
	f := newFixture(t)
	id := f.insert(t)

	_, err := f.engine.HardDelete(context.Background(), sender, id)
	assert.True(t, errors.Is(err, apperr.ErrAuthorization))
	assert.Equal(t, 1, f.store.MessageCount())
}

func TestHardDelete_SharedBlobSurvivesUntilLastMessage(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	lib, err := f.att.Upload(ctx, sender, "t1", nil, "logo.png", "image/png", []byte("png"))
	require.NoError(t, err)
	m1, m2 := f.insert(t), f.insert(t)
	_, err = f.att.CopyToMessage(ctx, m1, []domain.Attachment{*lib}, "a@x.com")
	require.NoError(t, err)
	_, err = f.att.CopyToMessage(ctx, m2, []domain.Attachment{*lib}, "a@x.com")
	require.NoError(t, err)
	_, err = f.att.Detach(ctx, sender, lib.ID)
	require.NoError(t, err)

	res, err := f.engine.HardDelete(ctx, admin, m1)
	require.NoError(t, err)
	assert.Equal(t, 0, res.BlobsReclaimed)
	_, a, _, _ := f.store.CountRows(m1)
	assert.Equal(t, 0, a)
	assert.True(t, f.blobs.Has(lib.BlobRef), "blob still referenced by the second message")

	res, err = f.engine.HardDelete(ctx, admin, m2)
	require.NoError(t, err)
	assert.Equal(t, 1, res.BlobsReclaimed)
	assert.False(t, f.blobs.Has(lib.BlobRef))
}

func TestHardDelete_BlobFailureIsWarning(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id := f.insert(t)
	f.populate(t, id)
	f.blobs.FailDeletes = true

	res, err := f.engine.HardDelete(ctx, admin, id)
	require.NoError(t, err)
	require.Len(t, res.Warnings, 1)
	assert.Equal(t, 0, res.BlobsReclaimed)
	assert.Equal(t, 1, f.store.MessageCount(), "only the reply remains")
}

func TestHardDelete_PersistenceFailure(t *testing.T) {
	f := newFixture(t)
	id := f.insert(t)
	f.store.Fail("DeleteRecipients", errors.New("connection reset"))

	_, err := f.engine.HardDelete(context.Background(), admin, id)
	assert.True(t, errors.Is(err, apperr.ErrPersistence))
}

func TestBulk_PartialSuccess(t *testing.T) {
	f := newFixture(t)
	m1, m2 := f.insert(t), f.insert(t)
	require.Equal(t, []int64{1, 2}, []int64{m1, m2})
	f.deliver(t, m1, "b@x.com")

	res, err := f.engine.Bulk(context.Background(), admin, []int64{1, 2, 999}, domain.StateHardDeleted)
	require.NoError(t, err)
	assert.Equal(t, 2, res.ProcessedCount)
	assert.Equal(t, 1, res.FailedCount)
	assert.Equal(t, []string{"999: not found"}, res.Errors)
	assert.Equal(t, 0, f.store.MessageCount())
}

func TestBulk_SoftDeletePerItemAuthorization(t *testing.T) {
	f := newFixture(t)
	own := f.insert(t)
	other := &domain.Message{SenderEmail: "z@x.com", TenantID: "t1", Subject: "s", Body: "b",
		MessageType: domain.MessageDirect, Priority: domain.PriorityNormal}
	require.NoError(t, f.store.InsertMessage(context.Background(), other))

	res, err := f.engine.Bulk(context.Background(), sender, []int64{own, other.ID}, domain.StateSoftDeleted)
	require.NoError(t, err)
	assert.Equal(t, 1, res.ProcessedCount)
	assert.Equal(t, []string{"2: forbidden"}, res.Errors)
}

func TestBulk_Validation(t *testing.T) {
	f := newFixture(t)
	f.engine.SetMaxBulk(2)

	_, err := f.engine.Bulk(context.Background(), admin, nil, domain.StateSoftDeleted)
	assert.True(t, errors.Is(err, apperr.ErrValidation))
	_, err = f.engine.Bulk(context.Background(), admin, []int64{1, 2, 3}, domain.StateSoftDeleted)
	assert.True(t, errors.Is(err, apperr.ErrValidation))
	_, err = f.engine.Bulk(context.Background(), admin, []int64{1}, domain.StateActive)
	assert.True(t, errors.Is(err, apperr.ErrValidation))
}
