package toolset

import (
	"encoding/base64"
	"encoding/json"
)

// Content is one item of a tool result.
type Content struct {
	Type     string `json:"type"`
	Text     string `json:"text,omitempty"`
	Data     string `json:"data,omitempty"`
	MimeType string `json:"mimeType,omitempty"`
}

// CallResult is the tools/call result payload.
type CallResult struct {
	Content           []Content `json:"content"`
	StructuredContent any       `json:"structuredContent,omitempty"`
	IsError           bool      `json:"isError,omitempty"`
}

// TextResult wraps a structured payload as indented JSON text content.
func TextResult(payload any) (*CallResult, error) {
	if s, ok := payload.(string); ok {
		return &CallResult{Content: []Content{{Type: "text", Text: s}}}, nil
	}
	data, err := json.MarshalIndent(payload, "", "  ")
	if err != nil {
		return nil, err
	}
	return &CallResult{
		Content:           []Content{{Type: "text", Text: string(data)}},
		StructuredContent: payload,
	}, nil
}

// ImageResult returns an image with an optional caption.
func ImageResult(data []byte, mimeType, caption string, payload any) *CallResult {
	res := &CallResult{StructuredContent: payload}
	if caption != "" {
		res.Content = append(res.Content, Content{Type: "text", Text: caption})
	}
	res.Content = append(res.Content, Content{
		Type:     "image",
		Data:     base64.StdEncoding.EncodeToString(data),
		MimeType: mimeType,
	})
	return res
}

// Wrap converts a handler's return value into a CallResult.
func Wrap(v any) (*CallResult, error) {
	switch r := v.(type) {
	case *CallResult:
		if r.Content == nil {
			r.Content = []Content{}
		}
		return r, nil
	case CallResult:
		return Wrap(&r)
	case nil:
		return &CallResult{Content: []Content{}}, nil
	default:
		return TextResult(v)
	}
}
