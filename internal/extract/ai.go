package extract

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/GriffinCanCode/cardscan/internal/card"
	apperrors "github.com/GriffinCanCode/cardscan/internal/errors"
	"github.com/GriffinCanCode/cardscan/internal/trace"
)

// AI client defaults.
const (
	DefaultAIBaseURL     = "https://api.openai.com/v1"
	DefaultAIModel       = "gpt-4o-mini"
	DefaultAITimeout     = 30 * time.Second
	DefaultAITemperature = 0.1
	DefaultAIMaxTokens   = 500
)

const systemPrompt = `あなたは名刺のOCRテキストから連絡先情報を抽出するアシスタントです。

厳守事項:
1. OCRテキストに実際に書かれている情報だけを抽出すること。推測・補完・創作は禁止。
2. 「株式会社サンプル」「田中太郎」のような架空のデータを決して作らないこと。
3. 入力が名刺でない場合（手や背景、無関係な文字列など）は isBusinessCard を false にし、他の項目はすべて null にすること。

出力はJSONオブジェクトのみ。該当しない項目は null。
- isBusinessCard: 名刺かどうか (true/false)
- name: 個人の氏名のみ。部署名や役職は含めない
- nameKana: カタカナのふりがな（記載がある場合のみ）
- company: 会社・団体の正式名称
- department: 部署名
- position: 役職
- phone: 電話番号。090/080/070 で始まる携帯番号があれば優先し、なければ固定電話
- fax: FAX番号
- email: メールアドレス
- address: 住所（都道府県から）
- postalCode: 郵便番号（ハイフン付き）
- url: ウェブサイトURL
- sns: SNSアカウント（@ハンドルまたはSNSのURL）`

// AIConfig configures the chat-completions client.
type AIConfig struct {
	BaseURL     string
	APIKey      string
	Model       string
	Timeout     time.Duration
	Temperature float64
	MaxTokens   int
}

func (c AIConfig) withDefaults() AIConfig {
	if c.BaseURL == "" {
		c.BaseURL = DefaultAIBaseURL
	}
	if c.Model == "" {
		c.Model = DefaultAIModel
	}
	if c.Timeout <= 0 {
		c.Timeout = DefaultAITimeout
	}
	if c.Temperature <= 0 {
		c.Temperature = DefaultAITemperature
	}
	if c.MaxTokens <= 0 {
		c.MaxTokens = DefaultAIMaxTokens
	}
	return c
}

// AIExtractor delegates extraction to an OpenAI-compatible chat-completions API.
type AIExtractor struct {
	cfg        AIConfig
	httpClient *http.Client
	now        func() time.Time
}

// NewAIExtractor creates an AI extractor. An API key is required.
func NewAIExtractor(cfg AIConfig) (*AIExtractor, error) {
	if cfg.APIKey == "" {
		return nil, apperrors.New(apperrors.ConfigMissing, "AI extraction requires an API key")
	}
	cfg = cfg.withDefaults()
	return &AIExtractor{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		now:        time.Now,
	}, nil
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model          string            `json:"model"`
	Messages       []chatMessage     `json:"messages"`
	ResponseFormat map[string]string `json:"response_format"`
	Temperature    float64           `json:"temperature"`
	MaxTokens      int               `json:"max_tokens"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

// aiFields mirrors the JSON object the model is asked to produce.
type aiFields struct {
	IsBusinessCard bool    `json:"isBusinessCard"`
	Name           *string `json:"name"`
	NameKana       *string `json:"nameKana"`
	Company        *string `json:"company"`
	Department     *string `json:"department"`
	Position       *string `json:"position"`
	Phone          *string `json:"phone"`
	Fax            *string `json:"fax"`
	Email          *string `json:"email"`
	Address        *string `json:"address"`
	PostalCode     *string `json:"postalCode"`
	URL            *string `json:"url"`
	SNS            *string `json:"sns"`
}

// Extract implements Extractor. Transport and HTTP failures return an
// extraction service error; an unreadable reply returns an extraction parse error.
func (a *AIExtractor) Extract(ctx context.Context, ocr card.OcrResult) (Extraction, error) {
	ctx, span := trace.StartSpan(ctx, "ai_extract")
	defer span.End()
	span.SetAttr("model", a.cfg.Model)

	content, err := a.complete(ctx, ocr.FullText)
	if err != nil {
		span.SetAttr("error", err.Error())
		return Extraction{}, err
	}

	var f aiFields
	if err := json.Unmarshal([]byte(content), &f); err != nil {
		span.SetAttr("error", err.Error())
		return Extraction{}, apperrors.ExtractionParse(err, "decode extraction JSON")
	}

	c := card.Card{
		Name:       str(f.Name),
		NameKana:   str(f.NameKana),
		Company:    str(f.Company),
		Department: str(f.Department),
		Position:   str(f.Position),
		Phone:      str(f.Phone),
		Fax:        str(f.Fax),
		Email:      str(f.Email),
		Address:    str(f.Address),
		PostalCode: str(f.PostalCode),
		URL:        str(f.URL),
		SNS:        str(f.SNS),
	}
	stamp(&c, ocr, a.now)
	span.SetAttr("is_business_card", f.IsBusinessCard)
	return Extraction{Card: c, IsBusinessCard: f.IsBusinessCard, Source: SourceAI}, nil
}

func (a *AIExtractor) complete(ctx context.Context, text string) (string, error) {
	body, err := json.Marshal(chatRequest{
		Model: a.cfg.Model,
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: "以下の名刺テキストから情報を抽出してください：\n\n" + text},
		},
		ResponseFormat: map[string]string{"type": "json_object"},
		Temperature:    a.cfg.Temperature,
		MaxTokens:      a.cfg.MaxTokens,
	})
	if err != nil {
		return "", apperrors.Wrap(err, apperrors.Internal, "encode chat request")
	}

	url := strings.TrimRight(a.cfg.BaseURL, "/") + "/chat/completions"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return "", apperrors.Wrap(err, apperrors.Internal, "build chat request")
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+a.cfg.APIKey)

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return "", apperrors.ExtractionService(err, "chat completion request failed")
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", apperrors.ExtractionService(err, "read chat completion response")
	}
	if resp.StatusCode != http.StatusOK {
		return "", apperrors.ExtractionService(nil, fmt.Sprintf("chat completion returned status %d", resp.StatusCode)).
			WithMetadata("body", truncate(string(raw), 200))
	}

	var cr chatResponse
	if err := json.Unmarshal(raw, &cr); err != nil {
		return "", apperrors.ExtractionParse(err, "decode chat completion envelope")
	}
	if len(cr.Choices) == 0 {
		return "", apperrors.ExtractionParse(nil, "chat completion has no choices")
	}
	return cr.Choices[0].Message.Content, nil
}

func str(p *string) string {
	if p == nil {
		return ""
	}
	return strings.TrimSpace(*p)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
