package notify

import (
	"context"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/aws-sdk-go-v2/service/sesv2/types"
	"github.com/dustin/go-humanize"
	"github.com/osteele/liquid"
)

// EmailAPI is the subset of the SES v2 client the sink uses.
type EmailAPI interface {
	SendEmail(ctx context.Context, in *sesv2.SendEmailInput, optFns ...func(*sesv2.Options)) (*sesv2.SendEmailOutput, error)
}

const (
	subjectTemplate = `{% if priority == "urgent" or priority == "high" %}[{{ priority | upcase }}] {% endif %}New message from {{ sender }}: {{ subject }}`
	htmlTemplate    = `<p><strong>{{ sender }}</strong> sent you a message {{ sent_ago }}.</p>
<p><strong>{{ subject }}</strong></p>
{% if attachment_count > 0 %}<p>{{ attachment_count }} attachment{% if attachment_count > 1 %}s{% endif %} ({{ attachment_size }})</p>{% endif %}
<p><a href="{{ link }}">Open in your inbox</a></p>`
)

// SESSink e-mails recipients when a message is created. Other event types
// are ignored.
type SESSink struct {
	client  EmailAPI
	from    string
	baseURL string
	subject *liquid.Template
	html    *liquid.Template
}

// NewSESSink parses the notification templates once.
func NewSESSink(client EmailAPI, from, baseURL string) (*SESSink, error) {
	engine := liquid.NewEngine()
	subj, err := engine.ParseString(subjectTemplate)
	if err != nil {
		return nil, fmt.Errorf("parse subject template: %w", err)
	}
	html, err := engine.ParseString(htmlTemplate)
	if err != nil {
		return nil, fmt.Errorf("parse html template: %w", err)
	}
	return &SESSink{
		client:  client,
		from:    from,
		baseURL: strings.TrimRight(baseURL, "/"),
		subject: subj,
		html:    html,
	}, nil
}

func (s *SESSink) Name() string { return "ses" }

func (s *SESSink) Send(ctx context.Context, e Event) error {
	if e.Type != EventMessageCreated || len(e.Recipients) == 0 {
		return nil
	}
	bindings := s.bindings(e)

	subject, err := s.subject.RenderString(bindings)
	if err != nil {
		return fmt.Errorf("render subject: %w", err)
	}
	body, err := s.html.RenderString(bindings)
	if err != nil {
		return fmt.Errorf("render body: %w", err)
	}

	var failed []string
	for _, to := range e.Recipients {
		_, err := s.client.SendEmail(ctx, &sesv2.SendEmailInput{
			FromEmailAddress: aws.String(s.from),
			Destination:      &types.Destination{ToAddresses: []string{to}},
			Content: &types.EmailContent{
				Simple: &types.Message{
					Subject: &types.Content{Data: aws.String(subject), Charset: aws.String("UTF-8")},
					Body: &types.Body{
						Html: &types.Content{Data: aws.String(body), Charset: aws.String("UTF-8")},
					},
				},
			},
			EmailTags: []types.MessageTag{
				{Name: aws.String("tenant_id"), Value: aws.String(e.TenantID)},
				{Name: aws.String("event"), Value: aws.String(strings.ReplaceAll(string(e.Type), ".", "_"))},
			},
		})
		if err != nil {
			failed = append(failed, to)
		}
	}
	if len(failed) > 0 {
		return fmt.Errorf("ses send failed for %d of %d recipients", len(failed), len(e.Recipients))
	}
	return nil
}

func (s *SESSink) bindings(e Event) map[string]any {
	priority, _ := e.Data["priority"].(string)
	attachments, _ := e.Data["attachment_count"].(int)
	var size uint64
	if v, ok := e.Data["attachment_bytes"].(int64); ok && v > 0 {
		size = uint64(v)
	}
	return map[string]any{
		"sender":           e.Actor,
		"subject":          e.Subject,
		"priority":         priority,
		"sent_ago":         humanize.Time(e.OccurredAt),
		"attachment_count": attachments,
		"attachment_size":  humanize.Bytes(size),
		"link":             fmt.Sprintf("%s/messages/%d", s.baseURL, e.MessageID),
	}
}
