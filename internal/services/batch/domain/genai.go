package domain

import "strings"

// Wire shapes shared by the batch request lines, the realtime client and result parsing

// Content is one conversational turn
type Content struct {
	Role  string `json:"role,omitempty"`
	Parts []Part `json:"parts"`
}

// Part is one piece of a turn
type Part struct {
	Text       string      `json:"text,omitempty"`
	FileData   *FileData   `json:"fileData,omitempty"`
	InlineData *InlineData `json:"inlineData,omitempty"`
}

// FileData references uploaded bytes by URI
type FileData struct {
	FileURI  string `json:"fileUri"`
	MimeType string `json:"mimeType"`
}

// InlineData carries base64 bytes
type InlineData struct {
	MimeType string `json:"mimeType"`
	Data     string `json:"data"`
}

// GenerateRequest is a generateContent request body
type GenerateRequest struct {
	Contents []Content `json:"contents"`
}

// GenerateResponse is a generateContent response body
type GenerateResponse struct {
	Candidates []Candidate `json:"candidates"`
}

// Candidate is one generated answer
type Candidate struct {
	Content      Content `json:"content"`
	FinishReason string  `json:"finishReason,omitempty"`
}

// Text returns candidates[0].content.parts[0].text trimmed, or empty
func (r GenerateResponse) Text() string {
	if len(r.Candidates) == 0 || len(r.Candidates[0].Content.Parts) == 0 {
		return ""
	}
	return strings.TrimSpace(r.Candidates[0].Content.Parts[0].Text)
}

// PromptRequest builds the single-turn prompt+image request
func PromptRequest(prompt string, image Part) GenerateRequest {
	return GenerateRequest{Contents: []Content{{
		Role:  "user",
		Parts: []Part{{Text: prompt}, image},
	}}}
}
