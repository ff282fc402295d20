// Package memory is an in-process implementation of every repository
// contract. It backs dev mode and the service tests.
//
// It is deliberately non-transactional: WithTransaction runs fn directly and
// Transactional reports false, so callers exercise their compensating paths.
// Fail makes the next call to a named method return an error.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/ignite/messaging/internal/domain"
	"github.com/ignite/messaging/internal/pkg/apperr"
	"github.com/ignite/messaging/internal/repository"
)

type recipientKey struct {
	messageID int64
	email     string
}

// Store holds all entities behind one mutex.
type Store struct {
	mu sync.RWMutex

	seq         int64
	messages    map[int64]*domain.Message
	recipients  map[recipientKey]*domain.Recipient
	attachments map[int64]*domain.Attachment
	links       map[int64]*domain.Link
	edges       map[int64]*domain.ThreadEdge // keyed by child
	blocks      map[string]bool              // tenant|blocker|blocked
	members     map[string]map[string]domain.Role

	failures map[string]error
	now      func() time.Time
}

func NewStore() *Store {
	return &Store{
		messages:    make(map[int64]*domain.Message),
		recipients:  make(map[recipientKey]*domain.Recipient),
		attachments: make(map[int64]*domain.Attachment),
		links:       make(map[int64]*domain.Link),
		edges:       make(map[int64]*domain.ThreadEdge),
		blocks:      make(map[string]bool),
		members:     make(map[string]map[string]domain.Role),
		failures:    make(map[string]error),
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// Fail makes the next call to method return err.
func (s *Store) Fail(method string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures[method] = err
}

// fail pops an injected failure. Callers hold s.mu.
func (s *Store) fail(method string) error {
	if err, ok := s.failures[method]; ok {
		delete(s.failures, method)
		return err
	}
	return nil
}

func (s *Store) nextID() int64 {
	s.seq++
	return s.seq
}

// WithTransaction runs fn without isolation or rollback.
func (s *Store) WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

func (s *Store) Transactional() bool { return false }

var _ repository.Transactor = (*Store)(nil)

// =============================================================================
// Messages
// =============================================================================

func (s *Store) InsertMessage(_ context.Context, m *domain.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail("InsertMessage"); err != nil {
		return err
	}
	m.ID = s.nextID()
	if m.CreatedAt.IsZero() {
		m.CreatedAt = s.now()
	}
	cp := *m
	s.messages[m.ID] = &cp
	return nil
}

func (s *Store) GetMessage(_ context.Context, id int64) (*domain.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.messages[id]
	if !ok {
		return nil, apperr.NotFound("message %d not found", id)
	}
	cp := *m
	return &cp, nil
}

func (s *Store) SoftDeleteMessage(_ context.Context, id int64, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail("SoftDeleteMessage"); err != nil {
		return err
	}
	m, ok := s.messages[id]
	if !ok {
		return apperr.NotFound("message %d not found", id)
	}
	m.IsDeleted = true
	m.DeletedAt = &at
	for k, r := range s.recipients {
		if k.messageID == id {
			r.IsDeleted = true
			r.DeletedAt = &at
		}
	}
	return nil
}

func (s *Store) RecallMessage(_ context.Context, id int64, reason string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail("RecallMessage"); err != nil {
		return err
	}
	m, ok := s.messages[id]
	if !ok {
		return apperr.NotFound("message %d not found", id)
	}
	m.IsRecalled = true
	m.RecalledAt = &at
	m.RecallReason = reason
	return nil
}

func (s *Store) DeleteMessage(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail("DeleteMessage"); err != nil {
		return err
	}
	if _, ok := s.messages[id]; !ok {
		return apperr.NotFound("message %d not found", id)
	}
	delete(s.messages, id)
	return nil
}

func (s *Store) ListSent(_ context.Context, tenantID, sender string, limit, offset int) ([]domain.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.Message
	for _, m := range s.messages {
		if m.TenantID == tenantID && m.SenderEmail == sender && !m.IsDeleted {
			out = append(out, *m)
		}
	}
	sortMessages(out)
	return page(out, limit, offset), nil
}

func (s *Store) ListInbox(_ context.Context, tenantID, email string, f repository.InboxFilter) ([]domain.InboxEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.InboxEntry
	for k, r := range s.recipients {
		if k.email != email || r.IsDeleted {
			continue
		}
		m, ok := s.messages[k.messageID]
		if !ok || m.TenantID != tenantID || m.IsDeleted {
			continue
		}
		if (m.IsRecalled && !f.IncludeRecalled) || (f.UnreadOnly && r.IsRead) {
			continue
		}
		if f.Archived != nil && r.IsArchived != *f.Archived {
			continue
		}
		if f.Saved != nil && r.IsSaved != *f.Saved {
			continue
		}
		out = append(out, domain.InboxEntry{Message: *m, Recipient: *r})
	}
	sort.Slice(out, func(i, j int) bool {
		pi, pj := priorityRank(out[i].Message.Priority), priorityRank(out[j].Message.Priority)
		if pi != pj {
			return pi > pj
		}
		return out[i].Message.ID > out[j].Message.ID
	})
	return page(out, f.Limit, f.Offset), nil
}

// =============================================================================
// Recipients
// =============================================================================

func (s *Store) InsertRecipients(_ context.Context, messageID int64, emails []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail("InsertRecipients"); err != nil {
		return err
	}
	for _, e := range emails {
		k := recipientKey{messageID, e}
		if _, dup := s.recipients[k]; dup {
			continue
		}
		s.recipients[k] = &domain.Recipient{ID: s.nextID(), MessageID: messageID, RecipientEmail: e}
	}
	return nil
}

func (s *Store) ListRecipients(_ context.Context, messageID int64) ([]domain.Recipient, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.Recipient
	for k, r := range s.recipients {
		if k.messageID == messageID {
			out = append(out, *r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *Store) GetRecipient(_ context.Context, messageID int64, email string) (*domain.Recipient, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.recipients[recipientKey{messageID, email}]
	if !ok {
		return nil, apperr.NotFound("recipient not found")
	}
	cp := *r
	return &cp, nil
}

func (s *Store) MarkRead(_ context.Context, messageID int64, email string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.recipients[recipientKey{messageID, email}]
	if !ok {
		return apperr.NotFound("recipient not found")
	}
	if !r.IsRead {
		r.IsRead = true
		r.ReadAt = &at
	}
	return nil
}

func (s *Store) MarkReadAll(_ context.Context, messageID int64, at time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail("MarkReadAll"); err != nil {
		return 0, err
	}
	var n int64
	for k, r := range s.recipients {
		if k.messageID == messageID && !r.IsRead {
			r.IsRead = true
			r.ReadAt = &at
			n++
		}
	}
	return n, nil
}

func (s *Store) SetFolderFlags(_ context.Context, messageID int64, email string, f domain.FolderFlags) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail("SetFolderFlags"); err != nil {
		return err
	}
	r, ok := s.recipients[recipientKey{messageID, email}]
	if !ok {
		return apperr.NotFound("recipient not found")
	}
	if f.Archived != nil {
		r.IsArchived = *f.Archived
	}
	if f.Saved != nil {
		r.IsSaved = *f.Saved
	}
	if f.Forwarded != nil {
		r.IsForwarded = *f.Forwarded
	}
	if f.Replied != nil {
		r.IsReplied = *f.Replied
	}
	return nil
}

func (s *Store) DeleteRecipients(_ context.Context, messageID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail("DeleteRecipients"); err != nil {
		return err
	}
	for k := range s.recipients {
		if k.messageID == messageID {
			delete(s.recipients, k)
		}
	}
	return nil
}

// =============================================================================
// Attachments
// =============================================================================

func (s *Store) InsertAttachment(_ context.Context, a *domain.Attachment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail("InsertAttachment"); err != nil {
		return err
	}
	a.ID = s.nextID()
	if a.CreatedAt.IsZero() {
		a.CreatedAt = s.now()
	}
	cp := *a
	if a.MessageID != nil {
		id := *a.MessageID
		cp.MessageID = &id
	}
	s.attachments[a.ID] = &cp
	return nil
}

func (s *Store) GetAttachment(_ context.Context, id int64) (*domain.Attachment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.attachments[id]
	if !ok {
		return nil, apperr.NotFound("attachment %d not found", id)
	}
	cp := *a
	return &cp, nil
}

func (s *Store) GetAttachments(_ context.Context, ids []int64) ([]domain.Attachment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.Attachment
	for _, id := range ids {
		if a, ok := s.attachments[id]; ok {
			out = append(out, *a)
		}
	}
	return out, nil
}

func (s *Store) ListAttachments(_ context.Context, messageID int64) ([]domain.Attachment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.Attachment
	for _, a := range s.attachments {
		if a.BelongsTo(messageID) {
			out = append(out, *a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *Store) ListLibrary(_ context.Context, tenantID string) ([]domain.Attachment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.Attachment
	for _, a := range s.attachments {
		if a.MessageID == nil && a.TenantID == tenantID {
			out = append(out, *a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *Store) DeleteAttachment(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail("DeleteAttachment"); err != nil {
		return err
	}
	if _, ok := s.attachments[id]; !ok {
		return apperr.NotFound("attachment %d not found", id)
	}
	delete(s.attachments, id)
	return nil
}

func (s *Store) DeleteAttachmentsByMessage(_ context.Context, messageID int64) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail("DeleteAttachmentsByMessage"); err != nil {
		return nil, err
	}
	seen := map[string]bool{}
	var refs []string
	for id, a := range s.attachments {
		if a.BelongsTo(messageID) {
			if !seen[a.BlobRef] {
				seen[a.BlobRef] = true
				refs = append(refs, a.BlobRef)
			}
			delete(s.attachments, id)
		}
	}
	sort.Strings(refs)
	return refs, nil
}

func (s *Store) CountBlobReferences(_ context.Context, blobRef string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail("CountBlobReferences"); err != nil {
		return 0, err
	}
	n := 0
	for _, a := range s.attachments {
		if a.BlobRef == blobRef {
			n++
		}
	}
	return n, nil
}

func (s *Store) RefreshAttachmentCounters(_ context.Context, messageID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail("RefreshAttachmentCounters"); err != nil {
		return err
	}
	m, ok := s.messages[messageID]
	if !ok {
		return apperr.NotFound("message %d not found", messageID)
	}
	n := 0
	for _, a := range s.attachments {
		if a.BelongsTo(messageID) {
			n++
		}
	}
	m.AttachmentCount = n
	m.HasAttachments = n > 0
	return nil
}

// =============================================================================
// Links
// =============================================================================

func (s *Store) InsertLink(_ context.Context, l *domain.Link) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail("InsertLink"); err != nil {
		return err
	}
	for _, existing := range s.links {
		if existing.MessageID == l.MessageID && existing.URL == l.URL {
			return apperr.Conflict("link already attached to message %d", l.MessageID)
		}
	}
	l.ID = s.nextID()
	if l.CreatedAt.IsZero() {
		l.CreatedAt = s.now()
	}
	cp := *l
	s.links[l.ID] = &cp
	return nil
}

func (s *Store) GetLink(_ context.Context, id int64) (*domain.Link, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	l, ok := s.links[id]
	if !ok {
		return nil, apperr.NotFound("link %d not found", id)
	}
	cp := *l
	return &cp, nil
}

func (s *Store) ListLinks(_ context.Context, messageID int64) ([]domain.Link, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.Link
	for _, l := range s.links {
		if l.MessageID == messageID {
			out = append(out, *l)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *Store) LinkExists(_ context.Context, messageID int64, url string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, l := range s.links {
		if l.MessageID == messageID && l.URL == url {
			return true, nil
		}
	}
	return false, nil
}

func (s *Store) DeleteLink(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail("DeleteLink"); err != nil {
		return err
	}
	if _, ok := s.links[id]; !ok {
		return apperr.NotFound("link %d not found", id)
	}
	delete(s.links, id)
	return nil
}

func (s *Store) DeleteLinksByMessage(_ context.Context, messageID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail("DeleteLinksByMessage"); err != nil {
		return err
	}
	for id, l := range s.links {
		if l.MessageID == messageID {
			delete(s.links, id)
		}
	}
	return nil
}

func (s *Store) RefreshLinkCounters(_ context.Context, messageID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail("RefreshLinkCounters"); err != nil {
		return err
	}
	m, ok := s.messages[messageID]
	if !ok {
		return apperr.NotFound("message %d not found", messageID)
	}
	n := 0
	for _, l := range s.links {
		if l.MessageID == messageID {
			n++
		}
	}
	m.LinkCount = n
	m.HasLinks = n > 0
	return nil
}

// =============================================================================
// Thread edges
// =============================================================================

func (s *Store) InsertThreadEdge(_ context.Context, e *domain.ThreadEdge) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail("InsertThreadEdge"); err != nil {
		return err
	}
	if _, dup := s.edges[e.ChildMessageID]; dup {
		return apperr.Conflict("message %d already has a parent", e.ChildMessageID)
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = s.now()
	}
	cp := *e
	s.edges[e.ChildMessageID] = &cp
	return nil
}

// GetParent returns the parent of child, or 0 when child is a root.
func (s *Store) GetParent(_ context.Context, childID int64) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if e, ok := s.edges[childID]; ok {
		return e.ParentMessageID, nil
	}
	return 0, nil
}

func (s *Store) ListReplies(_ context.Context, parentID int64) ([]domain.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.Message
	for child, e := range s.edges {
		if e.ParentMessageID != parentID {
			continue
		}
		if m, ok := s.messages[child]; ok && !m.IsDeleted {
			out = append(out, *m)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *Store) DeleteThreadEdges(_ context.Context, messageID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail("DeleteThreadEdges"); err != nil {
		return err
	}
	for child, e := range s.edges {
		if child == messageID || e.ParentMessageID == messageID {
			delete(s.edges, child)
		}
	}
	return nil
}

// CountRows reports the rows left for a message, for tests asserting a
// complete purge: recipients, attachments, links, thread edges.
func (s *Store) CountRows(messageID int64) (recipients, attachments, links, edges int) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for k := range s.recipients {
		if k.messageID == messageID {
			recipients++
		}
	}
	for _, a := range s.attachments {
		if a.BelongsTo(messageID) {
			attachments++
		}
	}
	for _, l := range s.links {
		if l.MessageID == messageID {
			links++
		}
	}
	for child, e := range s.edges {
		if child == messageID || e.ParentMessageID == messageID {
			edges++
		}
	}
	return
}

// MessageCount returns the number of message rows.
func (s *Store) MessageCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.messages)
}

// =============================================================================
// Blocks and membership
// =============================================================================

func blockKey(tenantID, blocker, blocked string) string {
	return tenantID + "|" + blocker + "|" + blocked
}

// AddBlock records that blocker blocked blocked in tenant.
func (s *Store) AddBlock(b domain.BlockRelationship) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.blocks[blockKey(b.TenantID, domain.NormalizeEmail(b.BlockerEmail), domain.NormalizeEmail(b.BlockedEmail))] = true
}

func (s *Store) BlockersOf(_ context.Context, tenantID, sender string, candidates []string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail("BlockersOf"); err != nil {
		return nil, err
	}
	var out []string
	for _, c := range candidates {
		if s.blocks[blockKey(tenantID, domain.NormalizeEmail(c), sender)] {
			out = append(out, c)
		}
	}
	return out, nil
}

// AddMember grants email a role in tenant.
func (s *Store) AddMember(tenantID, email string, role domain.Role) {
	s.mu.Lock()
	defer s.mu.Unlock()
	email = domain.NormalizeEmail(email)
	if s.members[email] == nil {
		s.members[email] = make(map[string]domain.Role)
	}
	s.members[email][tenantID] = role
}

// Memberships returns tenant -> role for email.
func (s *Store) Memberships(_ context.Context, email string) (map[string]domain.Role, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]domain.Role)
	for t, r := range s.members[domain.NormalizeEmail(email)] {
		out[t] = r
	}
	return out, nil
}

// =============================================================================
// helpers
// =============================================================================

func priorityRank(p domain.Priority) int {
	switch p {
	case domain.PriorityUrgent:
		return 3
	case domain.PriorityHigh:
		return 2
	case domain.PriorityNormal:
		return 1
	}
	return 0
}

func sortMessages(ms []domain.Message) {
	sort.Slice(ms, func(i, j int) bool { return ms[i].ID > ms[j].ID })
}

func page[T any](items []T, limit, offset int) []T {
	limit, offset = repository.Page(limit, offset)
	if offset >= len(items) {
		return []T{}
	}
	end := offset + limit
	if end > len(items) {
		end = len(items)
	}
	return items[offset:end]
}

