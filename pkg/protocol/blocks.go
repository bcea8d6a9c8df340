package protocol

// BlockType tags a ContentBlock variant.
type BlockType string

const (
	BlockText          BlockType = "text"
	BlockCode          BlockType = "code"
	BlockTool          BlockType = "tool"
	BlockThinking      BlockType = "thinking"
	BlockStatus        BlockType = "status"
	BlockError         BlockType = "error"
	BlockCancel        BlockType = "cancel"
	BlockVoiceInput    BlockType = "voice_input"
	BlockVoiceOutput   BlockType = "voice_output"
	BlockActionButtons BlockType = "action_buttons"
)

// Tool block statuses.
const (
	ToolRunning   = "running"
	ToolCompleted = "completed"
	ToolFailed    = "failed"
)

// ContentBlock is one typed unit of streamed assistant output. ID is stable
// and unique within the producing turn. Voice blocks carry HasAudio only;
// the bytes are fetched on demand via audio.request.
type ContentBlock struct {
	ID        string    `json:"id"`
	BlockType BlockType `json:"block_type"`
	Content   string    `json:"content,omitempty"`

	// code
	Language string `json:"language,omitempty"`

	// tool
	ToolName   string `json:"tool_name,omitempty"`
	ToolInput  string `json:"tool_input,omitempty"`
	ToolOutput string `json:"tool_output,omitempty"`
	ToolStatus string `json:"tool_status,omitempty"`

	// error
	Code string `json:"code,omitempty"`

	// voice_input / voice_output
	MessageID string  `json:"message_id,omitempty"`
	HasAudio  bool    `json:"has_audio,omitempty"`
	Duration  float64 `json:"duration,omitempty"`

	// action_buttons
	Buttons []ActionButton `json:"buttons,omitempty"`
}

// ActionButton is one tappable action offered to the user.
type ActionButton struct {
	Label  string `json:"label"`
	Action string `json:"action"`
	Value  string `json:"value,omitempty"`
}

// TextBlock creates a text block.
func TextBlock(id, content string) ContentBlock {
	return ContentBlock{ID: id, BlockType: BlockText, Content: content}
}

// ErrorBlock creates an error block with an optional error code.
func ErrorBlock(id, code, content string) ContentBlock {
	return ContentBlock{ID: id, BlockType: BlockError, Code: code, Content: content}
}

// CancelBlock creates the block appended when a turn is cancelled.
func CancelBlock(id string) ContentBlock {
	return ContentBlock{ID: id, BlockType: BlockCancel, Content: "Cancelled by user"}
}
