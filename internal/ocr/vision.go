package ocr

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/png"
	"strings"

	vision "cloud.google.com/go/vision/v2/apiv1"
	visionpb "cloud.google.com/go/vision/v2/apiv1/visionpb"
	"github.com/googleapis/gax-go/v2"
	"github.com/rs/zerolog"
	"google.golang.org/api/option"
)

// annotator is the slice of the Vision client the engine calls
type annotator interface {
	BatchAnnotateImages(ctx context.Context, req *visionpb.BatchAnnotateImagesRequest, opts ...gax.CallOption) (*visionpb.BatchAnnotateImagesResponse, error)
	Close() error
}

// VisionEngine sends frames to Google Cloud Vision DOCUMENT_TEXT_DETECTION,
// the feature that fills per-word confidences
type VisionEngine struct {
	logger zerolog.Logger
	client annotator
}

// NewVision dials the Vision API. An empty credentialsFile falls back to
// application default credentials.
func NewVision(ctx context.Context, logger zerolog.Logger, credentialsFile string) (*VisionEngine, error) {
	var opts []option.ClientOption
	if credentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(credentialsFile))
	}
	client, err := vision.NewImageAnnotatorClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("vision client: %w", err)
	}
	return &VisionEngine{
		logger: logger.With().Str("component", "vision").Logger(),
		client: client,
	}, nil
}

func (v *VisionEngine) Name() string { return "vision" }

// Close releases the underlying gRPC connection
func (v *VisionEngine) Close() error {
	return v.client.Close()
}

// Recognize annotates img and flattens the word hierarchy into tokens
func (v *VisionEngine) Recognize(ctx context.Context, img image.Image) ([]Token, error) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("encode frame: %w", err)
	}

	req := &visionpb.BatchAnnotateImagesRequest{
		Requests: []*visionpb.AnnotateImageRequest{{
			Image: &visionpb.Image{Content: buf.Bytes()},
			Features: []*visionpb.Feature{
				{Type: visionpb.Feature_DOCUMENT_TEXT_DETECTION},
			},
		}},
	}

	resp, err := v.client.BatchAnnotateImages(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("vision BatchAnnotateImages: %w", err)
	}
	if resp == nil || len(resp.Responses) == 0 || resp.Responses[0] == nil {
		return nil, nil
	}

	r0 := resp.Responses[0]
	if r0.Error != nil && r0.Error.Message != "" {
		return nil, fmt.Errorf("vision annotate error: %s", r0.Error.Message)
	}
	return tokensFromAnnotation(r0.FullTextAnnotation), nil
}

func tokensFromAnnotation(fta *visionpb.TextAnnotation) []Token {
	if fta == nil {
		return nil
	}
	var tokens []Token
	for _, page := range fta.Pages {
		if page == nil {
			continue
		}
		for _, block := range page.Blocks {
			if block == nil {
				continue
			}
			for _, para := range block.Paragraphs {
				if para == nil {
					continue
				}
				for _, word := range para.Words {
					if word == nil {
						continue
					}
					var sb strings.Builder
					for _, sym := range word.Symbols {
						if sym != nil {
							sb.WriteString(sym.Text)
						}
					}
					if sb.Len() == 0 {
						continue
					}
					tokens = append(tokens, Token{
						Text:       sb.String(),
						Confidence: float64(word.Confidence) * 100,
						Box:        boxFromPoly(word.BoundingBox),
					})
				}
			}
		}
	}
	return tokens
}

func boxFromPoly(bp *visionpb.BoundingPoly) Box {
	if bp == nil || len(bp.Vertices) == 0 {
		return Box{}
	}
	minX, minY := int32(1<<30), int32(1<<30)
	maxX, maxY := int32(-1<<30), int32(-1<<30)
	for _, vtx := range bp.Vertices {
		if vtx == nil {
			continue
		}
		minX, maxX = min(minX, vtx.X), max(maxX, vtx.X)
		minY, maxY = min(minY, vtx.Y), max(maxY, vtx.Y)
	}
	if maxX < minX {
		return Box{}
	}
	return Box{X: int(minX), Y: int(minY), Width: int(maxX - minX), Height: int(maxY - minY)}
}
