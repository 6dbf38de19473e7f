package transcribe

import (
	"context"
	"errors"
	"io"
	"iter"

	"github.com/rs/zerolog"
	"google.golang.org/genai"
)

// Gemini implements Provider on the Gemini API file and streaming
// generation endpoints.
type Gemini struct {
	client *genai.Client
	log    zerolog.Logger
}

// NewGeminiClient creates a Gemini API client for apiKey.
func NewGeminiClient(ctx context.Context, apiKey string) (*genai.Client, error) {
	return genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
}

func NewGemini(client *genai.Client, log zerolog.Logger) *Gemini {
	return &Gemini{
		client: client,
		log:    log.With().Str("component", "gemini").Logger(),
	}
}

func (g *Gemini) Upload(ctx context.Context, path, mimeType string) (*RemoteFile, error) {
	f, err := g.client.Files.UploadFromPath(ctx, path, &genai.UploadFileConfig{MIMEType: mimeType})
	if err != nil {
		return nil, convertError(err)
	}
	return toRemoteFile(f), nil
}

func (g *Gemini) File(ctx context.Context, name string) (*RemoteFile, error) {
	f, err := g.client.Files.Get(ctx, name, nil)
	if err != nil {
		return nil, convertError(err)
	}
	return toRemoteFile(f), nil
}

func (g *Gemini) DeleteFile(ctx context.Context, name string) error {
	if _, err := g.client.Files.Delete(ctx, name, nil); err != nil {
		return convertError(err)
	}
	return nil
}

func (g *Gemini) Generate(ctx context.Context, model string, file *RemoteFile, prompt string) (Stream, error) {
	contents := []*genai.Content{
		genai.NewContentFromParts([]*genai.Part{
			genai.NewPartFromURI(file.URI, file.MIMEType),
			genai.NewPartFromText(prompt),
		}, genai.RoleUser),
	}
	cfg := &genai.GenerateContentConfig{
		ResponseMIMEType: "application/json",
		ResponseSchema:   segmentSchema,
	}

	ctx, cancel := context.WithCancel(ctx)
	next, stop := iter.Pull2(g.client.Models.GenerateContentStream(ctx, model, contents, cfg))
	return &geminiStream{next: next, stop: stop, cancel: cancel}, nil
}

var segmentSchema = &genai.Schema{
	Type: genai.TypeArray,
	Items: &genai.Schema{
		Type: genai.TypeObject,
		Properties: map[string]*genai.Schema{
			"timestamp": {Type: genai.TypeString, Description: "Start time as mm:ss"},
			"speaker":   {Type: genai.TypeString},
			"text":      {Type: genai.TypeString},
		},
		Required: []string{"timestamp", "speaker", "text"},
	},
}

type geminiStream struct {
	next   func() (*genai.GenerateContentResponse, error, bool)
	stop   func()
	cancel context.CancelFunc
}

func (s *geminiStream) Recv() (string, error) {
	resp, err, ok := s.next()
	if !ok {
		return "", io.EOF
	}
	if err != nil {
		return "", convertError(err)
	}
	if resp == nil {
		return "", nil
	}
	return resp.Text(), nil
}

func (s *geminiStream) Close() error {
	s.cancel()
	s.stop()
	return nil
}

func toRemoteFile(f *genai.File) *RemoteFile {
	if f == nil {
		return nil
	}
	rf := &RemoteFile{
		Name:     f.Name,
		URI:      f.URI,
		MIMEType: f.MIMEType,
	}
	switch f.State {
	case genai.FileStateActive:
		rf.State = FileActive
	case genai.FileStateFailed:
		rf.State = FileFailed
	default:
		rf.State = FileProcessing
	}
	return rf
}

// convertError maps genai API errors onto ProviderError so classification
// does not depend on the SDK.
func convertError(err error) error {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		return &ProviderError{Code: apiErr.Code, Status: apiErr.Status, Message: apiErr.Message}
	}
	var apiErrPtr *genai.APIError
	if errors.As(err, &apiErrPtr) && apiErrPtr != nil {
		return &ProviderError{Code: apiErrPtr.Code, Status: apiErrPtr.Status, Message: apiErrPtr.Message}
	}
	return err
}
