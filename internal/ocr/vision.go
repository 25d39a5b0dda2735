package ocr

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/GriffinCanCode/cardscan/internal/card"
	apperrors "github.com/GriffinCanCode/cardscan/internal/errors"
	"github.com/GriffinCanCode/cardscan/internal/trace"
)

// Vision defaults
const (
	DefaultVisionURL     = "https://vision.googleapis.com/v1/images:annotate"
	DefaultVisionTimeout = 20 * time.Second
)

// VisionConfig configures the Cloud Vision client.
type VisionConfig struct {
	APIKey  string
	URL     string
	Timeout time.Duration
	// LanguageHints default to Japanese and English.
	LanguageHints []string
}

// Vision calls Google Cloud Vision TEXT_DETECTION.
type Vision struct {
	cfg        VisionConfig
	httpClient *http.Client
}

// NewVision creates a Cloud Vision provider. An API key is required.
func NewVision(cfg VisionConfig) (*Vision, error) {
	if cfg.APIKey == "" {
		return nil, apperrors.New(apperrors.ConfigMissing, "Vision OCR requires an API key")
	}
	if cfg.URL == "" {
		cfg.URL = DefaultVisionURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultVisionTimeout
	}
	if len(cfg.LanguageHints) == 0 {
		cfg.LanguageHints = []string{"ja", "en"}
	}
	return &Vision{cfg: cfg, httpClient: &http.Client{Timeout: cfg.Timeout}}, nil
}

type visionRequest struct {
	Requests []visionImageRequest `json:"requests"`
}

type visionImageRequest struct {
	Image struct {
		Content string `json:"content"`
	} `json:"image"`
	Features []struct {
		Type       string `json:"type"`
		MaxResults int    `json:"maxResults"`
	} `json:"features"`
	ImageContext struct {
		LanguageHints []string `json:"languageHints"`
	} `json:"imageContext"`
}

type visionResponse struct {
	Responses []struct {
		TextAnnotations []struct {
			Description string   `json:"description"`
			Confidence  *float64 `json:"confidence"`
		} `json:"textAnnotations"`
		Error *struct {
			Code    int    `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	} `json:"responses"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

// DetectText implements Provider. The first annotation carries the full
// text; the mean of the word confidences, when reported, becomes the result
// confidence.
func (v *Vision) DetectText(ctx context.Context, image []byte) (card.OcrResult, error) {
	ctx, span := trace.StartSpan(ctx, "vision_ocr")
	defer span.End()

	if len(image) == 0 {
		return card.OcrResult{}, apperrors.New(apperrors.OCRInvalidImage, "empty image")
	}

	var ir visionImageRequest
	ir.Image.Content = base64.StdEncoding.EncodeToString(image)
	ir.Features = append(ir.Features, struct {
		Type       string `json:"type"`
		MaxResults int    `json:"maxResults"`
	}{Type: "TEXT_DETECTION", MaxResults: 1})
	ir.ImageContext.LanguageHints = v.cfg.LanguageHints

	body, err := json.Marshal(visionRequest{Requests: []visionImageRequest{ir}})
	if err != nil {
		return card.OcrResult{}, apperrors.Wrap(err, apperrors.Internal, "encode vision request")
	}

	endpoint := v.cfg.URL + "?key=" + url.QueryEscape(v.cfg.APIKey)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return card.OcrResult{}, apperrors.Wrap(err, apperrors.Internal, "build vision request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := v.httpClient.Do(req)
	if err != nil {
		span.SetAttr("error", err.Error())
		return card.OcrResult{}, apperrors.Wrap(err, apperrors.Unavailable, "vision request failed")
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return card.OcrResult{}, apperrors.Wrap(err, apperrors.Unavailable, "read vision response")
	}

	var vr visionResponse
	decodeErr := json.Unmarshal(raw, &vr)
	if resp.StatusCode != http.StatusOK {
		msg := resp.Status
		if decodeErr == nil && vr.Error != nil {
			msg = vr.Error.Message
		}
		code := apperrors.OCRFailed
		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			code = apperrors.Unavailable
		}
		return card.OcrResult{}, apperrors.Newf(code, "vision API error: %s", msg)
	}
	if decodeErr != nil {
		return card.OcrResult{}, apperrors.Wrap(decodeErr, apperrors.OCRFailed, "decode vision response")
	}
	if len(vr.Responses) == 0 {
		return card.NewOcrResult("", nil), nil
	}

	r := vr.Responses[0]
	if r.Error != nil {
		return card.OcrResult{}, apperrors.New(apperrors.OCRInvalidImage, fmt.Sprintf("vision: %s", r.Error.Message))
	}
	if len(r.TextAnnotations) == 0 {
		return card.NewOcrResult("", nil), nil
	}

	result := card.NewOcrResult(r.TextAnnotations[0].Description, nil)
	var confs []float64
	for _, a := range r.TextAnnotations[1:] {
		if a.Confidence != nil {
			confs = append(confs, *a.Confidence*100)
		}
	}
	result.Confidence = meanConfidence(confs)
	span.SetAttr("lines", len(result.Lines))
	return result, nil
}
