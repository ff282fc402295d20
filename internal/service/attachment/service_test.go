package attachment

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/ignite/messaging/internal/domain"
	"github.com/ignite/messaging/internal/notify"
	"github.com/ignite/messaging/internal/pkg/apperr"
	"github.com/ignite/messaging/internal/repository/memory"
	"github.com/ignite/messaging/internal/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	alice = domain.Principal{Email: "a@x.com", Role: domain.RoleMember, TenantIDs: []string{"t1"}}
	bob   = domain.Principal{Email: "b@x.com", Role: domain.RoleMember, TenantIDs: []string{"t1"}}
	eve   = domain.Principal{Email: "e@x.com", Role: domain.RoleMember, TenantIDs: []string{"t1"}}
	admin = domain.Principal{Email: "root@x.com", Role: domain.RoleAdmin, TenantIDs: []string{"t1"}}
)

type recorder struct {
	mu     sync.Mutex
	events []notify.Event
}

func (r *recorder) Emit(_ context.Context, e notify.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

type fixture struct {
	store  *memory.Store
	blobs  *storage.MemoryStore
	ledger *storage.MemoryLedger
	events *recorder
	svc    *Service
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		store:  memory.NewStore(),
		blobs:  storage.NewMemoryStore(),
		ledger: storage.NewMemoryLedger(),
		events: &recorder{},
	}
	f.svc = NewService(f.store, f.blobs, Config{MaxBytes: 1024})
	f.svc.SetLedger(f.ledger)
	f.svc.SetNotifier(f.events)
	return f
}

// message creates a message from a@x.com to b@x.com in t1.
func (f *fixture) message(t *testing.T) int64 {
	t.Helper()
	ctx := context.Background()
	m := &domain.Message{SenderEmail: "a@x.com", TenantID: "t1", Subject: "s", Body: "b",
		MessageType: domain.MessageDirect, Priority: domain.PriorityNormal}
	require.NoError(t, f.store.InsertMessage(ctx, m))
	require.NoError(t, f.store.InsertRecipients(ctx, m.ID, []string{"b@x.com"}))
	return m.ID
}

func TestUpload_LibraryFile(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	a, err := f.svc.Upload(ctx, alice, "t1", nil, "../report.pdf", "application/pdf", []byte("%PDF"))
	require.NoError(t, err)

	assert.Equal(t, domain.AttachmentLibrary, a.AttachmentType)
	assert.Nil(t, a.MessageID)
	assert.Equal(t, "report.pdf", a.FileName)
	assert.True(t, f.blobs.Has(a.BlobRef))
	assert.Empty(t, f.events.events, "library uploads emit nothing")

	lib, err := f.svc.Library(ctx, bob, "t1")
	require.NoError(t, err)
	assert.Len(t, lib, 1)
}

func TestUpload_ToMessageUpdatesCounters(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	msgID := f.message(t)

	a, err := f.svc.Upload(ctx, bob, "t1", &msgID, "notes.txt", "text/plain", []byte("hi"))
	require.NoError(t, err)
	assert.Equal(t, domain.AttachmentUpload, a.AttachmentType)

	m, err := f.store.GetMessage(ctx, msgID)
	require.NoError(t, err)
	assert.True(t, m.HasAttachments)
	assert.Equal(t, 1, m.AttachmentCount)

	require.Len(t, f.events.events, 1)
	assert.Equal(t, notify.EventAttachmentAdded, f.events.events[0].Type)
}

func TestUpload_Rejections(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	msgID := f.message(t)

	_, err := f.svc.Upload(ctx, eve, "t1", &msgID, "x.txt", "", []byte("x"))
	assert.True(t, errors.Is(err, apperr.ErrAuthorization), "non participant: %v", err)

	_, err = f.svc.Upload(ctx, alice, "t2", nil, "x.txt", "", []byte("x"))
	assert.True(t, errors.Is(err, apperr.ErrAuthorization), "foreign tenant: %v", err)

	_, err = f.svc.Upload(ctx, alice, "t1", nil, "big.bin", "", make([]byte, 2048))
	assert.True(t, errors.Is(err, apperr.ErrValidation), "too big: %v", err)

	_, err = f.svc.Upload(ctx, alice, "t1", nil, "", "", []byte("x"))
	assert.True(t, errors.Is(err, apperr.ErrValidation), "no name: %v", err)

	assert.Equal(t, 0, f.blobs.Len())
}

func TestUpload_RowFailureDeletesBlob(t *testing.T) {
	f := newFixture(t)
	f.store.Fail("InsertAttachment", errors.New("disk full"))

	_, err := f.svc.Upload(context.Background(), alice, "t1", nil, "a.txt", "", []byte("x"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperr.ErrPersistence))
	assert.Equal(t, 0, f.blobs.Len())
}

func TestValidateIDs_NamesEveryInvalidID(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	good, err := f.svc.Upload(ctx, alice, "t1", nil, "ok.txt", "", []byte("x"))
	require.NoError(t, err)
	foreign, err := f.svc.Upload(ctx, domain.Principal{Email: "z@y.com", TenantIDs: []string{"t2"}}, "t2", nil, "f.txt", "", []byte("x"))
	require.NoError(t, err)

	deletedMsg := f.message(t)
	onDeleted, err := f.svc.Upload(ctx, alice, "t1", &deletedMsg, "d.txt", "", []byte("x"))
	require.NoError(t, err)
	require.NoError(t, f.store.SoftDeleteMessage(ctx, deletedMsg, onDeleted.CreatedAt))

	_, err = f.svc.ValidateIDs(ctx, alice, "t1", []int64{good.ID, foreign.ID, onDeleted.ID, 999})
	require.Error(t, err)
	ae, ok := apperr.As(err)
	require.True(t, ok)
	assert.Equal(t, apperr.KindValidation, ae.Kind)
	assert.ElementsMatch(t, []int64{foreign.ID, onDeleted.ID, 999}, ae.Details.(map[string]any)["invalid_attachment_ids"])

	rows, err := f.svc.ValidateIDs(ctx, alice, "t1", []int64{good.ID, good.ID})
	require.NoError(t, err)
	assert.Len(t, rows, 1)
}

func TestValidateIDs_MessageAttachmentsNeedParticipant(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	msg := f.message(t)
	onMsg, err := f.svc.Upload(ctx, alice, "t1", &msg, "plan.txt", "text/plain", []byte("TOP SECRET"))
	require.NoError(t, err)
	lib, err := f.svc.Upload(ctx, alice, "t1", nil, "logo.png", "image/png", []byte("png"))
	require.NoError(t, err)

	_, err = f.svc.ValidateIDs(ctx, eve, "t1", []int64{onMsg.ID, lib.ID})
	ae, ok := apperr.As(err)
	require.True(t, ok)
	assert.Equal(t, apperr.KindValidation, ae.Kind)
	assert.ElementsMatch(t, []int64{onMsg.ID}, ae.Details.(map[string]any)["invalid_attachment_ids"])

	for _, p := range []domain.Principal{alice, bob, admin} {
		rows, err := f.svc.ValidateIDs(ctx, p, "t1", []int64{onMsg.ID, lib.ID})
		require.NoError(t, err, p.Email)
		assert.Len(t, rows, 2)
	}
}

func TestSharedBlob_DeletedOnlyWithLastReference(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	lib, err := f.svc.Upload(ctx, alice, "t1", nil, "shared.png", "image/png", []byte("png"))
	require.NoError(t, err)

	m1, m2 := f.message(t), f.message(t)
	c1, err := f.svc.CopyToMessage(ctx, m1, []domain.Attachment{*lib}, "a@x.com")
	require.NoError(t, err)
	c2, err := f.svc.CopyToMessage(ctx, m2, []domain.Attachment{*lib}, "a@x.com")
	require.NoError(t, err)
	assert.Equal(t, lib.BlobRef, c1[0].BlobRef)

	res, err := f.svc.Detach(ctx, alice, lib.ID)
	require.NoError(t, err)
	assert.False(t, res.BlobDeleted)

	res, err = f.svc.Detach(ctx, alice, c1[0].ID)
	require.NoError(t, err)
	assert.False(t, res.BlobDeleted)
	assert.True(t, f.blobs.Has(lib.BlobRef))

	res, err = f.svc.Detach(ctx, alice, c2[0].ID)
	require.NoError(t, err)
	assert.True(t, res.BlobDeleted)
	assert.False(t, f.blobs.Has(lib.BlobRef))

	m, _ := f.store.GetMessage(ctx, m2)
	assert.False(t, m.HasAttachments)
	assert.Equal(t, 0, m.AttachmentCount)
}

func TestDetach_Authorization(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	msgID := f.message(t)

	a, err := f.svc.Upload(ctx, bob, "t1", &msgID, "n.txt", "", []byte("x"))
	require.NoError(t, err)

	_, err = f.svc.Detach(ctx, eve, a.ID)
	assert.True(t, errors.Is(err, apperr.ErrAuthorization))

	// sender of the message may remove a recipient's upload
	_, err = f.svc.Detach(ctx, alice, a.ID)
	assert.NoError(t, err)

	_, err = f.svc.Detach(ctx, admin, a.ID)
	assert.True(t, errors.Is(err, apperr.ErrNotFound))
}

func TestDetach_BlobFailureIsWarningAndLedgered(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	a, err := f.svc.Upload(ctx, alice, "t1", nil, "x.txt", "", []byte("x"))
	require.NoError(t, err)

	f.blobs.FailDeletes = true
	res, err := f.svc.Detach(ctx, alice, a.ID)
	require.NoError(t, err, "row removal must not fail on blob errors")
	assert.False(t, res.BlobDeleted)
	assert.NotEmpty(t, res.Warning)

	_, err = f.store.GetAttachment(ctx, a.ID)
	assert.True(t, errors.Is(err, apperr.ErrNotFound))

	orphans, _ := f.ledger.List(ctx, 0)
	require.Len(t, orphans, 1)
	assert.Equal(t, a.BlobRef, orphans[0].BlobRef)

	f.blobs.FailDeletes = false
	rep, err := f.svc.ReconcileOrphans(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, ReconcileReport{Checked: 1, Deleted: 1}, rep)
	assert.False(t, f.blobs.Has(a.BlobRef))
	orphans, _ = f.ledger.List(ctx, 0)
	assert.Empty(t, orphans)
}

func TestDownload(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	msgID := f.message(t)

	a, err := f.svc.Upload(ctx, alice, "t1", &msgID, "n.txt", "", []byte("payload"))
	require.NoError(t, err)

	_, data, err := f.svc.Download(ctx, bob, a.ID)
	require.NoError(t, err)
	assert.Equal(t, "payload", string(data))

	_, _, err = f.svc.Download(ctx, eve, a.ID)
	assert.True(t, errors.Is(err, apperr.ErrAuthorization))

	require.NoError(t, f.blobs.Delete(ctx, a.BlobRef))
	_, _, err = f.svc.Download(ctx, bob, a.ID)
	assert.True(t, errors.Is(err, apperr.ErrNotFound))
}

func TestAttach(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	msgID := f.message(t)

	a, err := f.svc.Attach(ctx, msgID, "attachments/t1/existing.bin", Metadata{FileName: "existing.bin", FileSize: 3, UploadedBy: "A@x.com"})
	require.NoError(t, err)
	assert.Equal(t, "a@x.com", a.UploadedBy)
	assert.Equal(t, domain.AttachmentUpload, a.AttachmentType)

	list, err := f.svc.List(ctx, bob, msgID)
	require.NoError(t, err)
	assert.Len(t, list, 1)

	_, err = f.svc.Attach(ctx, 12345, "k", Metadata{})
	assert.True(t, errors.Is(err, apperr.ErrNotFound))
}
