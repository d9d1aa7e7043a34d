package speech

import (
	"context"
	"fmt"

	openai "github.com/sashabaranov/go-openai"
)

// OpenAIOptions configures the hosted Whisper API
type OpenAIOptions struct {
	APIKey   string
	BaseURL  string
	Model    string
	Language string
}

// OpenAIModel transcribes through the OpenAI audio API with verbose_json so
// segment log-probabilities come back
type OpenAIModel struct {
	cli   *openai.Client
	model string
	lang  string
}

// NewOpenAIModel creates an API-backed model
func NewOpenAIModel(opts OpenAIOptions) (*OpenAIModel, error) {
	if opts.APIKey == "" {
		return nil, fmt.Errorf("OPENAI_API_KEY is not set")
	}
	clientConfig := openai.DefaultConfig(opts.APIKey)
	if opts.BaseURL != "" {
		clientConfig.BaseURL = opts.BaseURL
	}
	if opts.Model == "" {
		opts.Model = openai.Whisper1
	}
	return &OpenAIModel{
		cli:   openai.NewClientWithConfig(clientConfig),
		model: opts.Model,
		lang:  opts.Language,
	}, nil
}

func (m *OpenAIModel) Name() string { return "openai-" + m.model }

func (m *OpenAIModel) Transcribe(ctx context.Context, audioPath string) (*ModelOutput, error) {
	resp, err := m.cli.CreateTranscription(ctx, openai.AudioRequest{
		Model:    m.model,
		FilePath: audioPath,
		Language: m.lang,
		Format:   openai.AudioResponseFormatVerboseJSON,
		TimestampGranularities: []openai.TranscriptionTimestampGranularity{
			openai.TranscriptionTimestampGranularityWord,
			openai.TranscriptionTimestampGranularitySegment,
		},
	})
	if err != nil {
		return nil, err
	}
	return fromAudioResponse(resp), nil
}

// fromAudioResponse regroups the response's flat word list under the
// segments whose time span contains each word's start
func fromAudioResponse(resp openai.AudioResponse) *ModelOutput {
	out := &ModelOutput{
		Text:     resp.Text,
		Language: resp.Language,
	}

	for _, s := range resp.Segments {
		start, end, text, logprob := s.Start, s.End, s.Text, s.AvgLogprob
		out.Segments = append(out.Segments, &RawSegment{
			Start:      &start,
			End:        &end,
			Text:       &text,
			AvgLogprob: &logprob,
		})
	}

	for _, w := range resp.Words {
		word, start, end := w.Word, w.Start, w.End
		raw := &RawWord{Word: &word, Start: &start, End: &end}
		if seg := segmentFor(out.Segments, start); seg != nil {
			seg.Words = append(seg.Words, raw)
		}
	}
	return out
}

func segmentFor(segments []*RawSegment, t float64) *RawSegment {
	for i, s := range segments {
		last := i == len(segments)-1
		if t >= *s.Start && (t < *s.End || last) {
			return s
		}
	}
	if len(segments) > 0 {
		return segments[0]
	}
	return nil
}
