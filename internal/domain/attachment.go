package domain

import "time"

// AttachmentType distinguishes tenant library files from files uploaded
// straight onto a message.
type AttachmentType string

const (
	AttachmentLibrary AttachmentType = "library"
	AttachmentUpload  AttachmentType = "upload"
)

// Attachment associates a blob with a message. Several rows, across
// messages and the tenant library, may share one BlobRef; the blob is owned
// by none of them and lives as long as any row references it.
type Attachment struct {
	ID             int64          `json:"id"`
	MessageID      *int64         `json:"message_id,omitempty"` // nil for library files
	TenantID       string         `json:"tenant_id"`
	UploadedBy     string         `json:"uploaded_by"`
	BlobRef        string         `json:"-"`
	FileName       string         `json:"file_name"`
	FileSize       int64          `json:"file_size"`
	ContentType    string         `json:"content_type"`
	AttachmentType AttachmentType `json:"attachment_type"`
	CreatedAt      time.Time      `json:"created_at"`
}

// BelongsTo reports whether the attachment is attached to message id.
func (a *Attachment) BelongsTo(id int64) bool {
	return a.MessageID != nil && *a.MessageID == id
}

// Link is an external URL embedded in a message.
type Link struct {
	ID           int64     `json:"id"`
	MessageID    int64     `json:"message_id"`
	URL          string    `json:"url"`
	Domain       string    `json:"domain"`
	Title        string    `json:"title,omitempty"`
	Description  string    `json:"description,omitempty"`
	ThumbnailURL string    `json:"thumbnail_url,omitempty"`
	AddedBy      string    `json:"added_by"`
	CreatedAt    time.Time `json:"created_at"`
}
