package protocol

// =============================================================================
// Server -> remote function payloads
// =============================================================================

// SubmitAudio asks the processing function to start transcribing a stored recording.
type SubmitAudio struct {
	Type           MessageType `json:"type"`
	RequestID      string      `json:"requestId"`
	ConversationID string      `json:"conversationId"`
	UserID         string      `json:"userId"`
	SessionID      string      `json:"sessionId,omitempty"`
	AudioRef       string      `json:"audioRef"`
	Timestamp      int64       `json:"timestamp"`
}

// GenerateResponse asks the response function to answer a transcript.
type GenerateResponse struct {
	Type           MessageType `json:"type"`
	RequestID      string      `json:"requestId"`
	ConversationID string      `json:"conversationId"`
	UserID         string      `json:"userId"`
	Transcript     string      `json:"transcript"`
	Timestamp      int64       `json:"timestamp"`
}

// NewSubmitAudio builds a SUBMIT_AUDIO payload.
func NewSubmitAudio(conversationID, userID, sessionID, requestID, audioRef string, ts int64) SubmitAudio {
	return SubmitAudio{
		Type:           TypeSubmitAudio,
		RequestID:      requestID,
		ConversationID: conversationID,
		UserID:         userID,
		SessionID:      sessionID,
		AudioRef:       audioRef,
		Timestamp:      ts,
	}
}

// NewGenerateResponse builds a GENERATE_RESPONSE payload.
func NewGenerateResponse(conversationID, userID, requestID, transcript string, ts int64) GenerateResponse {
	return GenerateResponse{
		Type:           TypeGenerateResponse,
		RequestID:      requestID,
		ConversationID: conversationID,
		UserID:         userID,
		Transcript:     transcript,
		Timestamp:      ts,
	}
}

// StartResponse is the body returned by the processing function when it accepts work.
// Every field is optional.
type StartResponse struct {
	Status              string `json:"status,omitempty"`
	Message             string `json:"message,omitempty"`
	TranscriptionJobRef string `json:"transcriptionJobRef,omitempty"`
}

// =============================================================================
// Remote pipeline -> server callbacks
// =============================================================================

// TranscriptionCallback delivers a transcript for a submitted request.
type TranscriptionCallback struct {
	ConversationID      string `json:"conversationId"`
	RequestID           string `json:"requestId"`
	Transcript          string `json:"transcript"`
	TranscriptionJobRef string `json:"transcriptionJobRef,omitempty"`
}

// ResponseCallback delivers the generated reply and its synthesized audio.
type ResponseCallback struct {
	ConversationID string `json:"conversationId"`
	RequestID      string `json:"requestId"`
	Response       string `json:"response"`
	AudioData      string `json:"audioData"` // base64 encoded
}

// FailureCallback reports that the pipeline gave up on a request.
type FailureCallback struct {
	ConversationID string `json:"conversationId"`
	RequestID      string `json:"requestId"`
	Message        string `json:"message"`
}
