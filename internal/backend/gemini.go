package backend

// GeminiPart is one text fragment of a content block
type GeminiPart struct {
	Text string `json:"text"`
}

// GeminiContent is one turn of the conversation
type GeminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []GeminiPart `json:"parts"`
}

// GenerateRequest represents the request body for the generateContent endpoint
type GenerateRequest struct {
	Contents []GeminiContent `json:"contents"`
}

// GenerateResponse represents the response from the generateContent endpoint
type GenerateResponse struct {
	Candidates []struct {
		Content      GeminiContent `json:"content"`
		FinishReason string        `json:"finishReason,omitempty"`
	} `json:"candidates"`
	UsageMetadata struct {
		PromptTokenCount     int `json:"promptTokenCount"`
		CandidatesTokenCount int `json:"candidatesTokenCount"`
		TotalTokenCount      int `json:"totalTokenCount"`
	} `json:"usageMetadata"`
}

// FirstText returns the first candidate's first text part, or "" when absent.
func (r GenerateResponse) FirstText() string {
	if len(r.Candidates) == 0 || len(r.Candidates[0].Content.Parts) == 0 {
		return ""
	}
	return r.Candidates[0].Content.Parts[0].Text
}

// errorResponse is the body of a non-2xx reply
type errorResponse struct {
	Error struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
		Status  string `json:"status"`
	} `json:"error"`
}

// NewPrompt builds a single-turn request
func NewPrompt(text string) GenerateRequest {
	return GenerateRequest{
		Contents: []GeminiContent{{Parts: []GeminiPart{{Text: text}}}},
	}
}
