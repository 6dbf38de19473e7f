package transcribe

import (
	"context"
	"fmt"
)

// Provider is the interface to a hosted multimodal model service that
// ingests media files and streams generated text.
type Provider interface {
	Upload(ctx context.Context, path, mimeType string) (*RemoteFile, error)
	File(ctx context.Context, name string) (*RemoteFile, error)
	// Generate starts a streaming generation. Errors raised by the service
	// after the call is accepted surface from the first Recv.
	Generate(ctx context.Context, model string, file *RemoteFile, prompt string) (Stream, error)
	DeleteFile(ctx context.Context, name string) error
}

// FileState is the provider-side processing state of an uploaded file.
type FileState int

const (
	FileProcessing FileState = iota
	FileActive
	FileFailed
)

func (s FileState) String() string {
	switch s {
	case FileActive:
		return "active"
	case FileFailed:
		return "failed"
	default:
		return "processing"
	}
}

// RemoteFile is a provider-side copy of an upload. URI is the locator passed
// to generation requests.
type RemoteFile struct {
	Name     string
	URI      string
	MIMEType string
	State    FileState
}

// Stream yields text deltas in provider order. Recv returns io.EOF once the
// generation is complete. Deltas may be empty.
type Stream interface {
	Recv() (string, error)
	Close() error
}

// ProviderError is an error response from the provider API.
type ProviderError struct {
	Code    int
	Status  string
	Message string
}

func (e *ProviderError) Error() string {
	if e.Status != "" {
		return fmt.Sprintf("provider error %d %s: %s", e.Code, e.Status, e.Message)
	}
	return fmt.Sprintf("provider error %d: %s", e.Code, e.Message)
}
