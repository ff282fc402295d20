// Package attachment manages attachment rows and the shared blobs behind
// them.
//
// A blob is never owned by a single row. Copying a library file onto a
// message, or forwarding an attachment, adds another row with the same
// BlobRef. A blob is physically deleted only after a live reference count,
// taken under a per-blob lock, comes back zero. Blob-store failures never
// roll back row changes: the blob is recorded in the orphan ledger and the
// caller gets a warning.
package attachment

import (
	"context"
	"errors"
	"fmt"
	"path"
	"sort"
	"strings"
	"time"

	"github.com/ignite/messaging/internal/domain"
	"github.com/ignite/messaging/internal/notify"
	"github.com/ignite/messaging/internal/pkg/apperr"
	"github.com/ignite/messaging/internal/pkg/distlock"
	"github.com/ignite/messaging/internal/pkg/logger"
	"github.com/ignite/messaging/internal/pkg/metrics"
	"github.com/ignite/messaging/internal/service/access"
	"github.com/ignite/messaging/internal/storage"
)

// Config holds the attachment policy values.
type Config struct {
	BlobTimeout time.Duration
	MaxBytes    int64
	// LockWait bounds how long reclamation waits for another reclaimer of
	// the same blob.
	LockWait time.Duration
}

// Service implements the attachment manager. It is safe for concurrent use.
type Service struct {
	repo     Repository
	blobs    storage.BlobStore
	locker   distlock.Locker
	ledger   storage.OrphanLedger
	cdn      storage.Invalidator
	notifier notify.Notifier
	cfg      Config
	log      *logger.Logger
}

// NewService creates an attachment manager over repo and blobs. Reclamation
// uses an in-process lock until SetLocker is called.
func NewService(repo Repository, blobs storage.BlobStore, cfg Config) *Service {
	if cfg.BlobTimeout <= 0 {
		cfg.BlobTimeout = 10 * time.Second
	}
	if cfg.LockWait <= 0 {
		cfg.LockWait = 5 * time.Second
	}
	return &Service{
		repo:     repo,
		blobs:    blobs,
		locker:   distlock.NewLocalLocker(),
		notifier: notify.Noop{},
		cfg:      cfg,
		log:      logger.Named("attachment"),
	}
}

// SetLocker replaces the reclamation lock backend.
func (s *Service) SetLocker(l distlock.Locker) { s.locker = l }

// SetLedger enables orphan recording for failed blob deletes.
func (s *Service) SetLedger(l storage.OrphanLedger) { s.ledger = l }

// SetInvalidator enables CDN purges after a blob is deleted.
func (s *Service) SetInvalidator(i storage.Invalidator) { s.cdn = i }

// SetNotifier sets the event sink for attachment.added.
func (s *Service) SetNotifier(n notify.Notifier) { s.notifier = n }

// Metadata describes a blob being attached.
type Metadata struct {
	FileName    string
	FileSize    int64
	ContentType string
	Type        domain.AttachmentType
	UploadedBy  string
}

// Attach creates an attachment row for blobRef on messageID and recomputes
// the message counters in the same unit of work.
func (s *Service) Attach(ctx context.Context, messageID int64, blobRef string, meta Metadata) (*domain.Attachment, error) {
	msg, err := s.repo.GetMessage(ctx, messageID)
	if err != nil {
		return nil, apperr.Wrap("get message", err)
	}
	if msg.IsDeleted {
		return nil, apperr.NotFound("message %d not found", messageID)
	}
	if meta.Type == "" {
		meta.Type = domain.AttachmentUpload
	}
	a := &domain.Attachment{
		MessageID:      &msg.ID,
		TenantID:       msg.TenantID,
		UploadedBy:     domain.NormalizeEmail(meta.UploadedBy),
		BlobRef:        blobRef,
		FileName:       meta.FileName,
		FileSize:       meta.FileSize,
		ContentType:    meta.ContentType,
		AttachmentType: meta.Type,
	}
	err = s.repo.WithTransaction(ctx, func(ctx context.Context) error {
		if err := s.repo.InsertAttachment(ctx, a); err != nil {
			return err
		}
		return s.repo.RefreshAttachmentCounters(ctx, msg.ID)
	})
	if err != nil {
		return nil, apperr.Wrap("attach", err)
	}
	return a, nil
}

// Upload stores data under a fresh key and attaches it: to messageID when
// given (type upload), otherwise to the tenant library (type library).
// If the row cannot be written the fresh blob is deleted again.
func (s *Service) Upload(ctx context.Context, caller domain.Principal, tenantID string, messageID *int64, fileName, contentType string, data []byte) (*domain.Attachment, error) {
	fileName = path.Base(strings.TrimSpace(fileName))
	if fileName == "" || fileName == "." || fileName == "/" {
		return nil, apperr.Validation("file name is required")
	}
	if len(data) == 0 {
		return nil, apperr.Validation("file is empty")
	}
	if s.cfg.MaxBytes > 0 && int64(len(data)) > s.cfg.MaxBytes {
		return nil, apperr.Validation("file exceeds %d bytes", s.cfg.MaxBytes)
	}
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	if !caller.CanAccessTenant(tenantID) {
		return nil, apperr.Forbidden("no access to tenant %s", tenantID)
	}
	if messageID != nil {
		msg, err := s.messageFor(ctx, caller, *messageID)
		if err != nil {
			return nil, err
		}
		if msg.TenantID != tenantID {
			return nil, apperr.Validation("message %d is not in tenant %s", msg.ID, tenantID)
		}
	}

	key, err := s.put(ctx, storage.NewKey(tenantID, fileName), data, contentType)
	if err != nil {
		return nil, err
	}

	meta := Metadata{
		FileName:    fileName,
		FileSize:    int64(len(data)),
		ContentType: contentType,
		UploadedBy:  caller.Email,
	}
	var a *domain.Attachment
	if messageID != nil {
		meta.Type = domain.AttachmentUpload
		a, err = s.Attach(ctx, *messageID, key, meta)
	} else {
		a = &domain.Attachment{
			TenantID:       tenantID,
			UploadedBy:     domain.NormalizeEmail(caller.Email),
			BlobRef:        key,
			FileName:       fileName,
			FileSize:       meta.FileSize,
			ContentType:    contentType,
			AttachmentType: domain.AttachmentLibrary,
		}
		err = apperr.Wrap("insert library file", s.repo.InsertAttachment(ctx, a))
	}
	if err != nil {
		if derr := s.deleteBlob(context.WithoutCancel(ctx), key); derr != nil {
			s.recordOrphan(ctx, key, "upload rollback", derr)
		}
		return nil, err
	}

	if a.MessageID != nil {
		s.notifier.Emit(ctx, notify.Event{
			Type:      notify.EventAttachmentAdded,
			TenantID:  a.TenantID,
			MessageID: *a.MessageID,
			Actor:     a.UploadedBy,
			Data:      map[string]any{"attachment_id": a.ID, "file_name": a.FileName, "file_size": a.FileSize},
		})
	}
	return a, nil
}

// ValidateIDs resolves attachment ids for composition. Every id must exist,
// belong to tenantID, and not hang off a soft-deleted message. A message
// attachment is only reusable by a participant of that message or an
// admin; library files are open to the tenant. The error names all
// invalid ids at once.
func (s *Service) ValidateIDs(ctx context.Context, caller domain.Principal, tenantID string, ids []int64) ([]domain.Attachment, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	ids = uniqueIDs(ids)
	rows, err := s.repo.GetAttachments(ctx, ids)
	if err != nil {
		return nil, apperr.Wrap("get attachments", err)
	}
	byID := make(map[int64]domain.Attachment, len(rows))
	for _, a := range rows {
		byID[a.ID] = a
	}

	var invalid []int64
	out := make([]domain.Attachment, 0, len(ids))
	for _, id := range ids {
		a, ok := byID[id]
		if !ok || a.TenantID != tenantID {
			invalid = append(invalid, id)
			continue
		}
		if a.MessageID != nil {
			owner, err := s.repo.GetMessage(ctx, *a.MessageID)
			if errors.Is(err, apperr.ErrNotFound) || (err == nil && owner.IsDeleted) {
				invalid = append(invalid, id)
				continue
			}
			if err != nil {
				return nil, apperr.Wrap("get attachment owner", err)
			}
			if !caller.IsAdmin() {
				ok, err := access.IsParticipant(ctx, s.repo, owner, caller.Email)
				if err != nil {
					return nil, err
				}
				if !ok {
					invalid = append(invalid, id)
					continue
				}
			}
		}
		out = append(out, a)
	}
	if len(invalid) > 0 {
		return nil, apperr.Validation("invalid attachment ids: %s", joinIDs(invalid)).
			WithDetails(map[string]any{"invalid_attachment_ids": invalid})
	}
	return out, nil
}

// CopyToMessage adds one row per source onto messageID, sharing each
// source's blob, and recomputes the counters. It runs inside the caller's
// unit of work when ctx carries one.
func (s *Service) CopyToMessage(ctx context.Context, messageID int64, sources []domain.Attachment, by string) ([]domain.Attachment, error) {
	if len(sources) == 0 {
		return nil, nil
	}
	out := make([]domain.Attachment, 0, len(sources))
	for _, src := range sources {
		id := messageID
		a := domain.Attachment{
			MessageID:      &id,
			TenantID:       src.TenantID,
			UploadedBy:     domain.NormalizeEmail(by),
			BlobRef:        src.BlobRef,
			FileName:       src.FileName,
			FileSize:       src.FileSize,
			ContentType:    src.ContentType,
			AttachmentType: src.AttachmentType,
		}
		if err := s.repo.InsertAttachment(ctx, &a); err != nil {
			return nil, apperr.Wrap("copy attachment", err)
		}
		out = append(out, a)
	}
	if err := s.repo.RefreshAttachmentCounters(ctx, messageID); err != nil {
		return nil, apperr.Wrap("refresh attachment counters", err)
	}
	return out, nil
}

// DetachResult reports what happened to the blob behind a removed row.
type DetachResult struct {
	Attachment  *domain.Attachment `json:"attachment"`
	BlobDeleted bool               `json:"blob_deleted"`
	Warning     string             `json:"warning,omitempty"`
}

// Detach removes one attachment row, recomputes its message's counters and
// reclaims the blob if nothing else references it. The uploader, the
// message sender and admins may detach.
func (s *Service) Detach(ctx context.Context, caller domain.Principal, attachmentID int64) (*DetachResult, error) {
	a, err := s.repo.GetAttachment(ctx, attachmentID)
	if err != nil {
		return nil, apperr.Wrap("get attachment", err)
	}
	if !caller.CanAccessTenant(a.TenantID) {
		return nil, apperr.NotFound("attachment %d not found", attachmentID)
	}
	allowed := caller.IsAdmin() || domain.NormalizeEmail(caller.Email) == a.UploadedBy
	if !allowed && a.MessageID != nil {
		msg, err := s.repo.GetMessage(ctx, *a.MessageID)
		if err != nil {
			return nil, apperr.Wrap("get message", err)
		}
		allowed = msg.SenderEmail == domain.NormalizeEmail(caller.Email)
	}
	if !allowed {
		return nil, apperr.Forbidden("not allowed to remove attachment %d", attachmentID)
	}

	err = s.repo.WithTransaction(ctx, func(ctx context.Context) error {
		if err := s.repo.DeleteAttachment(ctx, a.ID); err != nil {
			return err
		}
		if a.MessageID != nil {
			return s.repo.RefreshAttachmentCounters(ctx, *a.MessageID)
		}
		return nil
	})
	if err != nil {
		return nil, apperr.Wrap("detach", err)
	}

	res := &DetachResult{Attachment: a}
	deleted, err := s.Reclaim(ctx, a.BlobRef)
	res.BlobDeleted = deleted
	if err != nil {
		res.Warning = err.Error()
	}
	return res, nil
}

// Reclaim deletes blobRef from the blob store if no attachment row
// references it anymore. The count and the delete run under a per-blob
// lock so two reclaimers of the same blob cannot interleave with a copy.
// A non-nil error is always a storage warning: row state is unaffected.
func (s *Service) Reclaim(ctx context.Context, blobRef string) (bool, error) {
	if blobRef == "" {
		return false, nil
	}
	var deleted bool
	err := distlock.WithLock(ctx, s.locker, "blob:"+blobRef, s.cfg.LockWait, func(ctx context.Context) error {
		refs, err := s.repo.CountBlobReferences(ctx, blobRef)
		if err != nil {
			return apperr.Wrap("count blob references", err)
		}
		if refs > 0 {
			s.log.Debug("blob still referenced", "blob_ref", blobRef, "refs", refs)
			return nil
		}
		if err := s.deleteBlob(ctx, blobRef); err != nil {
			return err
		}
		deleted = true
		return nil
	})
	if err != nil {
		s.recordOrphan(ctx, blobRef, "reclaim", err)
		return false, apperr.Storage("blob "+blobRef+" not reclaimed", err)
	}
	if deleted && s.cdn != nil {
		if err := s.cdn.Invalidate(ctx, blobRef); err != nil {
			s.log.Warn("cdn invalidation failed", "blob_ref", blobRef, "error", err.Error())
		}
	}
	return deleted, nil
}

// Download returns the attachment row and its bytes. Message attachments
// are visible to participants; library files to the tenant.
func (s *Service) Download(ctx context.Context, caller domain.Principal, attachmentID int64) (*domain.Attachment, []byte, error) {
	a, err := s.repo.GetAttachment(ctx, attachmentID)
	if err != nil {
		return nil, nil, apperr.Wrap("get attachment", err)
	}
	if !caller.CanAccessTenant(a.TenantID) {
		return nil, nil, apperr.NotFound("attachment %d not found", attachmentID)
	}
	if a.MessageID != nil {
		if _, err := s.messageFor(ctx, caller, *a.MessageID); err != nil {
			return nil, nil, err
		}
	}

	data, err := s.get(ctx, a.BlobRef)
	if err != nil {
		return nil, nil, err
	}
	return a, data, nil
}

// List returns the attachments of a message the caller participates in.
func (s *Service) List(ctx context.Context, caller domain.Principal, messageID int64) ([]domain.Attachment, error) {
	if _, err := s.messageFor(ctx, caller, messageID); err != nil {
		return nil, err
	}
	rows, err := s.repo.ListAttachments(ctx, messageID)
	return rows, apperr.Wrap("list attachments", err)
}

// Library lists a tenant's library files.
func (s *Service) Library(ctx context.Context, caller domain.Principal, tenantID string) ([]domain.Attachment, error) {
	if !caller.CanAccessTenant(tenantID) {
		return nil, apperr.Forbidden("no access to tenant %s", tenantID)
	}
	rows, err := s.repo.ListLibrary(ctx, tenantID)
	return rows, apperr.Wrap("list library", err)
}

// ReconcileReport summarizes one pass over the orphan ledger.
type ReconcileReport struct {
	Checked         int `json:"checked"`
	Deleted         int `json:"deleted"`
	StillReferenced int `json:"still_referenced"`
	Failed          int `json:"failed"`
}

// ReconcileOrphans retries reclamation for up to limit ledger entries and
// resolves the ones that are settled.
func (s *Service) ReconcileOrphans(ctx context.Context, limit int) (ReconcileReport, error) {
	var rep ReconcileReport
	if s.ledger == nil {
		return rep, nil
	}
	entries, err := s.ledger.List(ctx, limit)
	if err != nil {
		return rep, fmt.Errorf("list orphans: %w", err)
	}
	for _, o := range entries {
		rep.Checked++
		deleted, err := s.Reclaim(ctx, o.BlobRef)
		if err != nil {
			rep.Failed++
			continue
		}
		if deleted {
			rep.Deleted++
		} else {
			rep.StillReferenced++
		}
		if err := s.ledger.Resolve(ctx, o.BlobRef); err != nil {
			s.log.Warn("resolve orphan failed", "blob_ref", o.BlobRef, "error", err.Error())
		}
	}
	return rep, nil
}

func (s *Service) messageFor(ctx context.Context, caller domain.Principal, messageID int64) (*domain.Message, error) {
	return access.Message(ctx, s.repo, caller, messageID)
}

func (s *Service) put(ctx context.Context, key string, data []byte, contentType string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.BlobTimeout)
	defer cancel()
	start := time.Now()
	key, err := s.blobs.Put(ctx, key, data, contentType)
	observe("put", start, err)
	if err != nil {
		return "", apperr.Storage("store blob", err)
	}
	return key, nil
}

func (s *Service) get(ctx context.Context, key string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.BlobTimeout)
	defer cancel()
	start := time.Now()
	data, err := s.blobs.Get(ctx, key)
	observe("get", start, err)
	if errors.Is(err, storage.ErrBlobNotFound) {
		return nil, apperr.NotFound("attachment content not found")
	}
	if err != nil {
		return nil, apperr.Storage("read blob", err)
	}
	return data, nil
}

func (s *Service) deleteBlob(ctx context.Context, key string) error {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.BlobTimeout)
	defer cancel()
	start := time.Now()
	err := s.blobs.Delete(ctx, key)
	observe("delete", start, err)
	return err
}

func (s *Service) recordOrphan(ctx context.Context, blobRef, source string, cause error) {
	s.log.Warn("orphaned blob", "blob_ref", blobRef, "source", source, "error", cause.Error())
	if s.ledger == nil {
		return
	}
	err := s.ledger.Record(context.WithoutCancel(ctx), storage.OrphanBlob{
		BlobRef: blobRef,
		Reason:  cause.Error(),
		Source:  source,
	})
	if err != nil {
		s.log.Error("orphan ledger write failed", "blob_ref", blobRef, "error", err.Error())
	}
}

func observe(op string, start time.Time, err error) {
	metrics.BlobLatency.WithLabelValues(op).Observe(time.Since(start).Seconds())
	outcome := "ok"
	if err != nil && !errors.Is(err, storage.ErrBlobNotFound) {
		outcome = "error"
	}
	metrics.BlobOps.WithLabelValues(op, outcome).Inc()
}

func uniqueIDs(ids []int64) []int64 {
	seen := make(map[int64]bool, len(ids))
	out := make([]int64, 0, len(ids))
	for _, id := range ids {
		if !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	return out
}

func joinIDs(ids []int64) string {
	sorted := append([]int64(nil), ids...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	parts := make([]string, len(sorted))
	for i, id := range sorted {
		parts[i] = fmt.Sprint(id)
	}
	return strings.Join(parts, ", ")
}
