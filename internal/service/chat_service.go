package service

import (
	"context"
	"log/slog"
	"time"

	"dm-chat/internal/domain"
	"dm-chat/internal/identity"
	"dm-chat/internal/ratelimit"
)

const maxContentLength = 1000

// SendOutcome is the result of a message send attempt. A throttled attempt
// is not an error: RateLimited is set and Message stays nil.
type SendOutcome struct {
	Message     *domain.Message
	RateLimited bool
	Remaining   int
	ResetAt     time.Time
}

type ChatService struct {
	chatRepo    domain.ChatRepository
	messageRepo domain.MessageRepository
	limiter     ratelimit.Limiter
	identity    identity.Provider
}

func NewChatService(chatRepo domain.ChatRepository, messageRepo domain.MessageRepository, limiter ratelimit.Limiter, identity identity.Provider) *ChatService {
	return &ChatService{
		chatRepo:    chatRepo,
		messageRepo: messageRepo,
		limiter:     limiter,
		identity:    identity,
	}
}

// CreateChat starts a chat between the creator and a peer. Participant
// display data is fetched from the identity provider and denormalized onto
// the chat row. At most one chat may exist per pair, in any orientation.
func (s *ChatService) CreateChat(ctx context.Context, creatorID, peerID string) (*domain.Chat, error) {
	if creatorID == "" || peerID == "" {
		return nil, domain.ErrInvalidInput
	}
	if creatorID == peerID {
		return nil, domain.ErrSelfChat
	}

	if _, err := s.chatRepo.GetByParticipants(ctx, creatorID, peerID); err == nil {
		return nil, domain.ErrChatExists
	} else if err != domain.ErrChatNotFound {
		return nil, err
	}

	creator, err := s.identity.GetUser(ctx, creatorID)
	if err != nil {
		return nil, err
	}
	peer, err := s.identity.GetUser(ctx, peerID)
	if err != nil {
		return nil, err
	}

	chat := &domain.Chat{
		User1ID:       creator.ID,
		User1Name:     creator.DisplayName,
		User1ImageURL: creator.AvatarURL,
		User2ID:       peer.ID,
		User2Name:     peer.DisplayName,
		User2ImageURL: peer.AvatarURL,
		LastMessage:   domain.EmptyLastMessage,
		LastMessageAt: time.Now().UTC(),
	}

	// A concurrent create for the same pair loses on the unique index and
	// comes back as ErrChatExists too.
	if err := s.chatRepo.Create(ctx, chat); err != nil {
		return nil, err
	}
	return chat, nil
}

// GetChatsByUser lists every chat the user participates in, most recently
// active first.
func (s *ChatService) GetChatsByUser(ctx context.Context, userID string) ([]*domain.Chat, error) {
	if userID == "" {
		return nil, domain.ErrInvalidInput
	}
	return s.chatRepo.ListByUser(ctx, userID)
}

// GetChat returns a single chat, restricted to its participants.
func (s *ChatService) GetChat(ctx context.Context, chatID, requesterID string) (*domain.Chat, error) {
	chat, err := s.chatRepo.GetByID(ctx, chatID)
	if err != nil {
		return nil, err
	}
	if !chat.HasParticipant(requesterID) {
		return nil, domain.ErrNotParticipant
	}
	return chat, nil
}

// UpdateChatOnMessage refreshes a chat's last-message preview. Clients call
// it after a send; replays with the same values are harmless.
func (s *ChatService) UpdateChatOnMessage(ctx context.Context, chatID, actorID, lastMessage string, at time.Time) (*domain.Chat, error) {
	if lastMessage == "" || len(lastMessage) > maxContentLength {
		return nil, domain.ErrInvalidInput
	}

	chat, err := s.chatRepo.GetByID(ctx, chatID)
	if err != nil {
		return nil, err
	}
	if !chat.HasParticipant(actorID) {
		return nil, domain.ErrNotParticipant
	}

	return s.chatRepo.UpdateLastMessage(ctx, chatID, lastMessage, at)
}

// CreateMessage persists a message after admission control and membership
// checks. A throttled attempt returns a RateLimited outcome and leaves no
// trace in storage.
func (s *ChatService) CreateMessage(ctx context.Context, msg *domain.Message) (*SendOutcome, error) {
	if msg.UserID == "" || msg.ChatID == "" {
		return nil, domain.ErrInvalidInput
	}
	if msg.Content == "" && msg.ImageID == "" {
		return nil, domain.ErrInvalidInput
	}
	if len(msg.Content) > maxContentLength {
		return nil, domain.ErrInvalidInput
	}

	// Admission runs first: a throttled attempt answers without touching
	// storage at all.
	decision := s.limiter.Admit(ctx, msg.UserID)
	if !decision.Allowed {
		return &SendOutcome{
			RateLimited: true,
			Remaining:   decision.Remaining,
			ResetAt:     decision.ResetAt,
		}, nil
	}

	chat, err := s.chatRepo.GetByID(ctx, msg.ChatID)
	if err != nil {
		return nil, err
	}
	if !chat.HasParticipant(msg.UserID) {
		return nil, domain.ErrNotParticipant
	}

	if err := s.messageRepo.Create(ctx, msg); err != nil {
		return nil, err
	}

	// Preview refresh is best effort. The message is durable either way;
	// the next send will repair the preview.
	if _, err := s.chatRepo.UpdateLastMessage(ctx, msg.ChatID, previewOf(msg), msg.CreatedAt); err != nil {
		slog.Error("failed to update chat preview",
			slog.String("error", err.Error()),
			slog.String("chat_id", msg.ChatID),
			slog.String("message_id", msg.ID))
	}

	return &SendOutcome{
		Message:   msg,
		Remaining: decision.Remaining,
		ResetAt:   decision.ResetAt,
	}, nil
}

// GetMessagesByChat returns a chat's full history, oldest first, restricted
// to participants.
func (s *ChatService) GetMessagesByChat(ctx context.Context, chatID, requesterID string) ([]*domain.Message, error) {
	chat, err := s.chatRepo.GetByID(ctx, chatID)
	if err != nil {
		return nil, err
	}
	if !chat.HasParticipant(requesterID) {
		return nil, domain.ErrNotParticipant
	}

	return s.messageRepo.ListByChat(ctx, chatID)
}

// DeleteChat removes a chat and its entire history in one transaction.
// Either participant may delete the chat for both sides.
func (s *ChatService) DeleteChat(ctx context.Context, chatID, actorID string) error {
	chat, err := s.chatRepo.GetByID(ctx, chatID)
	if err != nil {
		return err
	}
	if !chat.HasParticipant(actorID) {
		return domain.ErrNotParticipant
	}

	return s.chatRepo.Delete(ctx, chatID)
}

// DeleteMessagesByChat clears a chat's history without removing the chat.
func (s *ChatService) DeleteMessagesByChat(ctx context.Context, chatID, actorID string) (int64, error) {
	chat, err := s.chatRepo.GetByID(ctx, chatID)
	if err != nil {
		return 0, err
	}
	if !chat.HasParticipant(actorID) {
		return 0, domain.ErrNotParticipant
	}

	return s.messageRepo.DeleteByChat(ctx, chatID)
}

// previewOf is the last-message text shown in chat lists.
func previewOf(msg *domain.Message) string {
	if msg.Content != "" {
		return msg.Content
	}
	return "image"
}
