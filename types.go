package souqly

import (
	"encoding/json"
	"time"
)

// ============================================================================
// Shared Types
// ============================================================================

// APIError represents a structured error returned by the Souqly API.
type APIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *APIError) Error() string {
	return e.Code + ": " + e.Message
}

// Result is the generic API response envelope.
type Result struct {
	OK    bool            `json:"ok"`
	Data  json.RawMessage `json:"data,omitempty"`
	Meta  map[string]any  `json:"meta,omitempty"`
	Error *APIError       `json:"error,omitempty"`
}

// Decode unmarshals the Data field into the provided type.
func (r *Result) Decode(v interface{}) error {
	if r.Data == nil {
		return nil
	}
	return json.Unmarshal(r.Data, v)
}

// ============================================================================
// Users & Conversations
// ============================================================================

type User struct {
	ID          string `json:"id"`
	Username    string `json:"username"`
	DisplayName string `json:"displayName,omitempty"`
}

type Conversation struct {
	ID            string     `json:"id"`
	CounterpartID string     `json:"counterpartId"`
	ListingID     string     `json:"listingId,omitempty"`
	LastMessage   *Message   `json:"lastMessage,omitempty"`
	UnreadCount   int        `json:"unreadCount,omitempty"`
	Members       []User     `json:"members,omitempty"`
	UpdatedAt     *time.Time `json:"updatedAt,omitempty"`
}

type Message struct {
	ID             string         `json:"id"`
	ConversationID string         `json:"conversationId,omitempty"`
	SenderID       string         `json:"senderId"`
	Content        string         `json:"content"`
	Type           string         `json:"type,omitempty"`
	CreatedAt      time.Time      `json:"createdAt"`
	Metadata       map[string]any `json:"metadata,omitempty"`
}

// ============================================================================
// Orders & Wallet
// ============================================================================

type Order struct {
	ID        string    `json:"id"`
	ListingID string    `json:"listingId"`
	BuyerID   string    `json:"buyerId"`
	SellerID  string    `json:"sellerId"`
	Status    string    `json:"status"`
	ETA       string    `json:"eta,omitempty"`
	Escrow    string    `json:"escrow,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

type OrderStatusChange struct {
	OrderID   string    `json:"orderId"`
	Status    string    `json:"status"`
	ETA       string    `json:"eta,omitempty"`
	ChangedAt time.Time `json:"changedAt"`
}

type WalletBalance struct {
	Balance  float64 `json:"balance"`
	Currency string  `json:"currency,omitempty"`
	Held     float64 `json:"held,omitempty"`
}

type Transfer struct {
	ID          string    `json:"id"`
	RecipientID string    `json:"recipientId"`
	Amount      float64   `json:"amount"`
	Note        string    `json:"note,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
}

// ============================================================================
// Posts, Materials & Elections
// ============================================================================

type Post struct {
	ID           string    `json:"id"`
	AuthorID     string    `json:"authorId"`
	Title        string    `json:"title,omitempty"`
	Body         string    `json:"body,omitempty"`
	CommentCount int       `json:"commentCount,omitempty"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

type Comment struct {
	ID        string    `json:"id"`
	PostID    string    `json:"postId,omitempty"`
	ParentID  string    `json:"parentId,omitempty"`
	AuthorID  string    `json:"authorId"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"createdAt"`
}

type Material struct {
	ID            string  `json:"id"`
	Title         string  `json:"title"`
	UploaderID    string  `json:"uploaderId"`
	Rating        float64 `json:"rating,omitempty"`
	RatingCount   int     `json:"ratingCount,omitempty"`
	DownloadCount int     `json:"downloadCount,omitempty"`
}

type Review struct {
	ID         string    `json:"id"`
	MaterialID string    `json:"materialId,omitempty"`
	ListingID  string    `json:"listingId,omitempty"`
	AuthorID   string    `json:"authorId"`
	Rating     int       `json:"rating"`
	Text       string    `json:"text,omitempty"`
	CreatedAt  time.Time `json:"createdAt"`
}

type Election struct {
	ID        string     `json:"id"`
	Title     string     `json:"title"`
	Status    string     `json:"status"`
	OpensAt   *time.Time `json:"opensAt,omitempty"`
	ClosesAt  *time.Time `json:"closesAt,omitempty"`
	UpdatedAt time.Time  `json:"updatedAt"`
}

type Application struct {
	ID          string    `json:"id"`
	ElectionID  string    `json:"electionId,omitempty"`
	ApplicantID string    `json:"applicantId"`
	Position    string    `json:"position,omitempty"`
	Status      string    `json:"status"`
	CreatedAt   time.Time `json:"createdAt"`
}

// ============================================================================
// Request Options
// ============================================================================

type PaginationOptions struct {
	Limit  int
	Offset int
}

type SendMessageOptions struct {
	Type     string         `json:"type,omitempty"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

type AddReviewOptions struct {
	Rating int    `json:"rating"`
	Text   string `json:"text,omitempty"`
}

type ApplyOptions struct {
	Position  string `json:"position"`
	Statement string `json:"statement,omitempty"`
}

type TransferOptions struct {
	RecipientID string  `json:"recipientId"`
	Amount      float64 `json:"amount"`
	Note        string  `json:"note,omitempty"`
}
