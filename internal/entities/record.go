package entities

import "time"

type Status string

const (
	StatusTextOnly   Status = "text_only"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
)

// Record is one user submission and its processing status.
type Record struct {
	ID               int64     `json:"id"`
	Caption          string    `json:"caption"`
	CaptionEncrypted bool      `json:"caption_encrypted"`
	RawObjectURL     *string   `json:"raw_object_url,omitempty"`
	PublicObjectURL  *string   `json:"public_object_url,omitempty"`
	Status           Status    `json:"status"`
	Done             bool      `json:"done"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// NewRecord holds the columns the producer sets on insert.
type NewRecord struct {
	Caption          string
	CaptionEncrypted bool
	RawObjectURL     *string
	Status           Status
}

// Submission is a caption with an optional photo, as received from a user.
type Submission struct {
	Caption     string
	Image       []byte
	ContentType string
	// SkipEncryption stores the caption as plaintext (load-test uploads).
	SkipEncryption bool
}

func (s Submission) HasImage() bool { return len(s.Image) > 0 }
