// Package blocking answers whether a sender may reach a set of recipients.
//
// Block relationships are created and removed elsewhere; this package only
// reads them. It filters, it does not reject, unless the configured
// threshold says the send is pointless.
package blocking

import (
	"context"
	"fmt"
	"strings"

	"github.com/ignite/messaging/internal/domain"
	"github.com/ignite/messaging/internal/pkg/apperr"
)

// Repository reads block relationships.
type Repository interface {
	// BlockersOf returns the subset of candidates that blocked sender in tenant.
	BlockersOf(ctx context.Context, tenantID, sender string, candidates []string) ([]string, error)
}

// Threshold decides when blocked recipients reject the whole send.
type Threshold string

const (
	// ThresholdAll rejects only when every recipient blocked the sender.
	ThresholdAll Threshold = "all"
	// ThresholdAny rejects as soon as one recipient blocked the sender.
	ThresholdAny Threshold = "any"
)

// ParseThreshold defaults to ThresholdAll.
func ParseThreshold(s string) (Threshold, error) {
	switch Threshold(strings.ToLower(strings.TrimSpace(s))) {
	case "", ThresholdAll:
		return ThresholdAll, nil
	case ThresholdAny:
		return ThresholdAny, nil
	}
	return "", fmt.Errorf("unknown block threshold %q", s)
}

// Result lists who can and cannot be reached. Err is set, and Allowed
// false, when the threshold rejects the send.
type Result struct {
	Allowed           bool     `json:"allowed"`
	Deliverable       []string `json:"deliverable"`
	BlockedRecipients []string `json:"blocked_recipients"`
	Err               error    `json:"-"`
}

// Service implements the block registry lookups.
type Service struct {
	repo      Repository
	threshold Threshold
}

func NewService(repo Repository, threshold Threshold) *Service {
	if threshold == "" {
		threshold = ThresholdAll
	}
	return &Service{repo: repo, threshold: threshold}
}

// CanSendMessage partitions recipients into deliverable and blocked,
// preserving input order. messageType is accepted for the record but does
// not change the outcome: blocking applies to every type.
func (s *Service) CanSendMessage(ctx context.Context, sender, tenantID string, messageType domain.MessageType, recipients []string) (Result, error) {
	sender = domain.NormalizeEmail(sender)

	blockers, err := s.repo.BlockersOf(ctx, tenantID, sender, recipients)
	if err != nil {
		return Result{}, apperr.Wrap("lookup blocks", err)
	}
	blocked := make(map[string]bool, len(blockers))
	for _, b := range blockers {
		blocked[domain.NormalizeEmail(b)] = true
	}

	res := Result{Allowed: true, Deliverable: []string{}, BlockedRecipients: []string{}}
	for _, r := range recipients {
		if blocked[domain.NormalizeEmail(r)] {
			res.BlockedRecipients = append(res.BlockedRecipients, r)
		} else {
			res.Deliverable = append(res.Deliverable, r)
		}
	}

	switch {
	case len(res.Deliverable) == 0 && len(recipients) > 0:
		res.Allowed = false
		res.Err = apperr.Conflict("all recipients have blocked the sender").
			WithDetails(map[string]any{"blocked_recipients": res.BlockedRecipients})
	case s.threshold == ThresholdAny && len(res.BlockedRecipients) > 0:
		res.Allowed = false
		res.Err = apperr.Conflict("%d recipient(s) have blocked the sender", len(res.BlockedRecipients)).
			WithDetails(map[string]any{"blocked_recipients": res.BlockedRecipients})
	}
	return res, nil
}

// IsBlocked reports whether recipient blocked sender.
func (s *Service) IsBlocked(ctx context.Context, tenantID, sender, recipient string) (bool, error) {
	blockers, err := s.repo.BlockersOf(ctx, tenantID, domain.NormalizeEmail(sender), []string{recipient})
	if err != nil {
		return false, apperr.Wrap("lookup blocks", err)
	}
	return len(blockers) > 0, nil
}
