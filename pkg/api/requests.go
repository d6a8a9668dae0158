package api

// maxMessageLen bounds a single chat message body.
const maxMessageLen = 100_000

// ChatRequest is the body of POST /api/v1/chat.
type ChatRequest struct {
	Message        string `json:"message"`
	ConversationID string `json:"conversation_id,omitempty"`
	ApprovalMode   string `json:"approval_mode,omitempty"`
	Model          string `json:"model,omitempty"`
}

// ApproveRequest is the body of POST /api/v1/approve.
type ApproveRequest struct {
	ExecutionID string `json:"execution_id"`
	Approved    *bool  `json:"approved"`
}
