// Package link implements the link registrar: external URLs embedded in a
// message, with their counters kept in step on the message row.
package link

import (
	"context"
	"net"
	"net/url"
	"strings"
	"time"

	"github.com/ignite/messaging/internal/domain"
	"github.com/ignite/messaging/internal/notify"
	"github.com/ignite/messaging/internal/pkg/apperr"
	"github.com/ignite/messaging/internal/pkg/logger"
	"github.com/ignite/messaging/internal/service/access"
)

// DefaultDenylist blocks local host names. Loopback, private and
// link-local addresses are refused regardless of the list.
var DefaultDenylist = []string{"localhost", "127.0.0.1", "0.0.0.0", "::1", "*.local", "*.internal"}

const (
	maxURLLength         = 2048
	maxTitleLength       = 300
	maxDescriptionLength = 1000
)

// Input is a link to add. Title, Description and ThumbnailURL are
// optional; blanks may be filled by the unfurler.
type Input struct {
	URL          string `json:"url"`
	Title        string `json:"title,omitempty"`
	Description  string `json:"description,omitempty"`
	ThumbnailURL string `json:"thumbnail_url,omitempty"`
}

// Service implements the link registrar.
type Service struct {
	repo          Repository
	denylist      []string
	unfurler      Unfurler
	unfurlTimeout time.Duration
	notifier      notify.Notifier
	log           *logger.Logger
}

// NewService creates a registrar. A nil denylist uses DefaultDenylist.
func NewService(repo Repository, denylist []string) *Service {
	if denylist == nil {
		denylist = DefaultDenylist
	}
	norm := make([]string, 0, len(denylist))
	for _, d := range denylist {
		if d = strings.ToLower(strings.TrimSpace(d)); d != "" {
			norm = append(norm, d)
		}
	}
	return &Service{
		repo:          repo,
		denylist:      norm,
		unfurlTimeout: 3 * time.Second,
		notifier:      notify.Noop{},
		log:           logger.Named("link"),
	}
}

// SetUnfurler enables best-effort preview fetching for links added
// without a title.
func (s *Service) SetUnfurler(u Unfurler, timeout time.Duration) {
	s.unfurler = u
	if timeout > 0 {
		s.unfurlTimeout = timeout
	}
}

func (s *Service) SetNotifier(n notify.Notifier) { s.notifier = n }

// Validate parses raw and checks it against the scheme and host rules.
// It returns the normalized URL and its host.
func (s *Service) Validate(raw string) (string, string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", "", apperr.Validation("url is required")
	}
	if len(raw) > maxURLLength {
		return "", "", apperr.Validation("url exceeds %d characters", maxURLLength)
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", "", apperr.Validation("invalid url: %v", err)
	}
	u.Scheme = strings.ToLower(u.Scheme)
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", "", apperr.Validation("url must use http or https")
	}
	host := strings.ToLower(u.Hostname())
	if host == "" {
		return "", "", apperr.Validation("url must have a host")
	}
	if s.denied(host) {
		return "", "", apperr.Validation("links to %s are not allowed", host)
	}
	u.Host = strings.ToLower(u.Host)
	u.Fragment = ""
	return u.String(), host, nil
}

func (s *Service) denied(host string) bool {
	host = strings.TrimSuffix(host, ".")
	if hostBlocked(host) {
		return true
	}
	for _, d := range s.denylist {
		if suffix, ok := strings.CutPrefix(d, "*."); ok {
			if host == suffix || strings.HasSuffix(host, "."+suffix) {
				return true
			}
			continue
		}
		if host == d {
			return true
		}
		// "::1" and "[::1]" name the same host
		if ip := net.ParseIP(host); ip != nil && ip.Equal(net.ParseIP(d)) {
			return true
		}
	}
	return false
}

// AddLink attaches a URL to a message. The sender, live recipients and
// admins may add links.
func (s *Service) AddLink(ctx context.Context, caller domain.Principal, messageID int64, in Input) (*domain.Link, error) {
	normalized, host, err := s.Validate(in.URL)
	if err != nil {
		return nil, err
	}
	if in.ThumbnailURL != "" {
		if in.ThumbnailURL, _, err = s.Validate(in.ThumbnailURL); err != nil {
			return nil, apperr.Validation("thumbnail_url: %s", err.Error())
		}
	}
	msg, err := access.Message(ctx, s.repo, caller, messageID)
	if err != nil {
		return nil, err
	}

	exists, err := s.repo.LinkExists(ctx, msg.ID, normalized)
	if err != nil {
		return nil, apperr.Wrap("check link", err)
	}
	if exists {
		return nil, apperr.Conflict("link already attached to message %d", msg.ID)
	}

	l := &domain.Link{
		MessageID:    msg.ID,
		URL:          normalized,
		Domain:       host,
		Title:        truncate(strings.TrimSpace(in.Title), maxTitleLength),
		Description:  truncate(strings.TrimSpace(in.Description), maxDescriptionLength),
		ThumbnailURL: in.ThumbnailURL,
		AddedBy:      domain.NormalizeEmail(caller.Email),
	}
	if l.Title == "" {
		s.unfurl(ctx, l)
	}

	err = s.repo.WithTransaction(ctx, func(ctx context.Context) error {
		if err := s.repo.InsertLink(ctx, l); err != nil {
			return err
		}
		return s.repo.RefreshLinkCounters(ctx, msg.ID)
	})
	if err != nil {
		return nil, apperr.Wrap("add link", err)
	}

	s.notifier.Emit(ctx, notify.Event{
		Type:      notify.EventLinkAdded,
		TenantID:  msg.TenantID,
		MessageID: msg.ID,
		Actor:     l.AddedBy,
		Data:      map[string]any{"link_id": l.ID, "domain": l.Domain},
	})
	return l, nil
}

// unfurl fills blank preview fields. Failures are logged and ignored.
func (s *Service) unfurl(ctx context.Context, l *domain.Link) {
	if s.unfurler == nil {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, s.unfurlTimeout)
	defer cancel()
	p, err := s.unfurler.Unfurl(ctx, l.URL)
	if err != nil {
		s.log.Debug("unfurl failed", "domain", l.Domain, "error", err.Error())
		return
	}
	l.Title = truncate(p.Title, maxTitleLength)
	if l.Description == "" {
		l.Description = truncate(p.Description, maxDescriptionLength)
	}
	if l.ThumbnailURL == "" && p.ThumbnailURL != "" {
		if thumb, _, err := s.Validate(p.ThumbnailURL); err == nil {
			l.ThumbnailURL = thumb
		}
	}
}

// RemoveLink deletes a link row and recomputes the message counters.
func (s *Service) RemoveLink(ctx context.Context, caller domain.Principal, linkID int64) error {
	l, err := s.repo.GetLink(ctx, linkID)
	if err != nil {
		return apperr.Wrap("get link", err)
	}
	if _, err := access.Message(ctx, s.repo, caller, l.MessageID); err != nil {
		return err
	}
	err = s.repo.WithTransaction(ctx, func(ctx context.Context) error {
		if err := s.repo.DeleteLink(ctx, l.ID); err != nil {
			return err
		}
		return s.repo.RefreshLinkCounters(ctx, l.MessageID)
	})
	return apperr.Wrap("remove link", err)
}

// List returns the links of a message the caller participates in.
func (s *Service) List(ctx context.Context, caller domain.Principal, messageID int64) ([]domain.Link, error) {
	if _, err := access.Message(ctx, s.repo, caller, messageID); err != nil {
		return nil, err
	}
	links, err := s.repo.ListLinks(ctx, messageID)
	return links, apperr.Wrap("list links", err)
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
