package chat

import (
	"context"
	"errors"
	"strings"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/RichardoC/Pad-i/internal/db"
	"github.com/RichardoC/Pad-i/internal/llm"
	"github.com/RichardoC/Pad-i/internal/models"
)

const defaultMaxMessageLength = 5000

// Store is the record store consumed by the Service.
type Store interface {
	MessageLister
	CreateConversation(ctx context.Context, owner, title string) (models.Conversation, error)
	GetConversation(ctx context.Context, id string) (models.Conversation, error)
	ListConversations(ctx context.Context, owner string) ([]models.Conversation, error)
	UpdateConversationTitle(ctx context.Context, id, title string) error
	TouchConversation(ctx context.Context, id string) error
	DeleteConversation(ctx context.Context, id string) error
	AppendMessage(ctx context.Context, convID string, role models.Role, content string) (models.Message, error)
}

// Responder produces the assistant reply for a new user message. It never
// fails; exhausted back ends yield a fallback text.
type Responder interface {
	Respond(ctx context.Context, window []models.ChatMessage, newMessage string) llm.Reply
}

type Config struct {
	// MaxContextMessages is the window size. Zero sends no history; negative
	// values select DefaultMaxContextMessages.
	MaxContextMessages int
	MaxMessageLength   int
	DefaultTitle       string
}

type Service struct {
	store     Store
	responder Responder
	window    *WindowBuilder
	locks     *convLocks
	turns     turnGate
	logger    *zap.Logger
	cfg       Config
}

func NewService(store Store, responder Responder, cfg Config, logger *zap.Logger) (*Service, error) {
	if store == nil {
		return nil, errors.New("chat: store must not be nil")
	}
	if responder == nil {
		return nil, errors.New("chat: responder must not be nil")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.MaxContextMessages < 0 {
		cfg.MaxContextMessages = DefaultMaxContextMessages
	}
	if cfg.MaxMessageLength <= 0 {
		cfg.MaxMessageLength = defaultMaxMessageLength
	}
	cfg.DefaultTitle = strings.TrimSpace(cfg.DefaultTitle)
	if cfg.DefaultTitle == "" {
		cfg.DefaultTitle = DefaultTitle
	}
	return &Service{
		store:     store,
		responder: responder,
		window:    NewWindowBuilder(store),
		locks:     newConvLocks(),
		logger:    logger,
		cfg:       cfg,
	}, nil
}

func (s *Service) CreateConversation(ctx context.Context, owner string) (models.Conversation, error) {
	if strings.TrimSpace(owner) == "" {
		return models.Conversation{}, newError(ErrorValidation, "missing_owner", nil)
	}
	conv, err := s.store.CreateConversation(ctx, owner, s.cfg.DefaultTitle)
	if err != nil {
		return models.Conversation{}, newError(ErrorStorage, "conversation_create_failed", err)
	}
	s.logger.Info("conversation created",
		zap.String("conversation_id", conv.ID),
		zap.String("owner", owner))
	return conv, nil
}

// ListConversations returns the owner's conversations, most recently updated first.
func (s *Service) ListConversations(ctx context.Context, owner string) ([]models.Conversation, error) {
	conversations, err := s.store.ListConversations(ctx, owner)
	if err != nil {
		return nil, newError(ErrorStorage, "conversation_list_failed", err)
	}
	return conversations, nil
}

// RenameConversation replaces the title. A title that is blank after trimming
// leaves the conversation untouched and is not reported as a failure.
func (s *Service) RenameConversation(ctx context.Context, id, owner, title string) (models.Conversation, error) {
	conv, err := s.ownedConversation(ctx, id, owner)
	if err != nil {
		return models.Conversation{}, err
	}

	title = strings.TrimSpace(title)
	if title == "" {
		s.logger.Debug("rename skipped, empty title", zap.String("conversation_id", id))
		return conv, nil
	}
	if utf8.RuneCountInString(title) > maxTitleRunes {
		return models.Conversation{}, newError(ErrorValidation, "title_too_long", nil)
	}

	if err := s.store.UpdateConversationTitle(ctx, id, title); err != nil {
		return models.Conversation{}, storeError(err, "conversation_rename_failed")
	}
	return s.reload(ctx, id)
}

// DeleteConversation removes the conversation and all of its messages. It does
// not wait for an in-flight turn on the same conversation.
func (s *Service) DeleteConversation(ctx context.Context, id, owner string) error {
	if _, err := s.ownedConversation(ctx, id, owner); err != nil {
		return err
	}
	// The store removes the messages in the same transaction.
	if err := s.store.DeleteConversation(ctx, id); err != nil {
		return storeError(err, "conversation_delete_failed")
	}
	s.logger.Info("conversation deleted", zap.String("conversation_id", id))
	return nil
}

// ListMessages returns the full transcript in ascending created_at order.
func (s *Service) ListMessages(ctx context.Context, id, owner string) ([]models.Message, error) {
	if _, err := s.ownedConversation(ctx, id, owner); err != nil {
		return nil, err
	}
	messages, err := s.store.ListMessages(ctx, id)
	if err != nil {
		return nil, newError(ErrorStorage, "message_list_failed", err)
	}
	return messages, nil
}

// ContextWindow exposes the window that the next turn would send.
func (s *Service) ContextWindow(ctx context.Context, id, owner string) ([]models.ChatMessage, error) {
	if _, err := s.ownedConversation(ctx, id, owner); err != nil {
		return nil, err
	}
	return s.window.Build(ctx, id, s.cfg.MaxContextMessages)
}

type SendInput struct {
	ConversationID string
	Owner          string
	Text           string
	// CreateIfAbsent starts a new conversation when ConversationID is empty.
	CreateIfAbsent bool
}

type SendOutput struct {
	Conversation     models.Conversation
	UserMessage      models.Message
	AssistantMessage models.Message
	Backend          string
}

// SendMessage commits one turn: the user message, the assistant reply and the
// conversation metadata. Turns on the same conversation are serialized.
func (s *Service) SendMessage(ctx context.Context, in SendInput) (SendOutput, error) {
	if strings.TrimSpace(in.Text) == "" {
		return SendOutput{}, newError(ErrorValidation, "empty_message", nil)
	}
	if utf8.RuneCountInString(in.Text) > s.cfg.MaxMessageLength {
		return SendOutput{}, newError(ErrorValidation, "message_too_long", nil)
	}
	if strings.TrimSpace(in.Owner) == "" {
		return SendOutput{}, newError(ErrorValidation, "missing_owner", nil)
	}

	convID := strings.TrimSpace(in.ConversationID)
	if convID == "" {
		if !in.CreateIfAbsent {
			return SendOutput{}, newError(ErrorValidation, "missing_conversation_id", nil)
		}
		conv, err := s.CreateConversation(ctx, in.Owner)
		if err != nil {
			return SendOutput{}, err
		}
		convID = conv.ID
	}

	unlock, err := s.locks.Lock(ctx, convID)
	if err != nil {
		return SendOutput{}, newError(ErrorStorage, "conversation_lock_cancelled", err)
	}
	defer unlock()

	if _, err := s.ownedConversation(ctx, convID, in.Owner); err != nil {
		return SendOutput{}, err
	}

	window, err := s.window.Build(ctx, convID, s.cfg.MaxContextMessages)
	if err != nil {
		return SendOutput{}, err
	}
	firstTurn := len(window) == 0
	if firstTurn && s.cfg.MaxContextMessages == 0 {
		last, err := s.window.Build(ctx, convID, 1)
		if err != nil {
			return SendOutput{}, err
		}
		firstTurn = len(last) == 0
	}

	if !s.turns.enter() {
		return SendOutput{}, newError(ErrorStorage, "shutting_down", ErrShuttingDown)
	}
	defer s.turns.leave()

	userMsg, err := s.store.AppendMessage(ctx, convID, models.RoleUser, in.Text)
	if err != nil {
		return SendOutput{}, storeError(err, "user_message_write_failed")
	}

	// Once the user message is stored the turn runs to completion even if the
	// caller goes away, so the transcript never ends on an unanswered message.
	commitCtx := context.WithoutCancel(ctx)

	reply := s.responder.Respond(commitCtx, window, in.Text)

	assistantMsg, err := s.store.AppendMessage(commitCtx, convID, models.RoleAssistant, reply.Text)
	if err != nil {
		return SendOutput{}, storeError(err, "assistant_message_write_failed")
	}

	if err := s.finishTurn(commitCtx, convID, in.Text, firstTurn); err != nil {
		return SendOutput{}, err
	}

	conv, err := s.reload(commitCtx, convID)
	if err != nil {
		return SendOutput{}, err
	}

	s.logger.Info("turn committed",
		zap.String("conversation_id", convID),
		zap.String("backend", reply.Backend),
		zap.Bool("fallback", reply.Fallback),
		zap.Int("window", len(window)))

	return SendOutput{
		Conversation:     conv,
		UserMessage:      userMsg,
		AssistantMessage: assistantMsg,
		Backend:          reply.Backend,
	}, nil
}

// ownedConversation loads a conversation and hides it from anyone but its owner.
// finishTurn derives the title on a conversation's first turn and bumps
// updated_at otherwise. The title is re-read so a rename made during the
// model call is kept.
func (s *Service) finishTurn(ctx context.Context, convID, text string, firstTurn bool) error {
	var err error
	if firstTurn {
		var current models.Conversation
		current, err = s.store.GetConversation(ctx, convID)
		if err != nil {
			return storeError(err, "conversation_update_failed")
		}
		firstTurn = current.Title == s.cfg.DefaultTitle
	}
	if firstTurn {
		err = s.store.UpdateConversationTitle(ctx, convID, titleFromText(text))
	} else {
		err = s.store.TouchConversation(ctx, convID)
	}
	if err != nil {
		return storeError(err, "conversation_update_failed")
	}
	return nil
}

// Drain stops accepting turns and waits for those already past their user
// message write to commit, or for ctx to end.
func (s *Service) Drain(ctx context.Context) error {
	return s.turns.drain(ctx)
}

func (s *Service) ownedConversation(ctx context.Context, id, owner string) (models.Conversation, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return models.Conversation{}, newError(ErrorNotFound, "conversation_not_found", nil)
	}
	conv, err := s.store.GetConversation(ctx, id)
	if err != nil {
		return models.Conversation{}, storeError(err, "conversation_read_failed")
	}
	if conv.Owner != owner {
		return models.Conversation{}, newError(ErrorNotFound, "conversation_not_found", nil)
	}
	return conv, nil
}

func (s *Service) reload(ctx context.Context, id string) (models.Conversation, error) {
	conv, err := s.store.GetConversation(ctx, id)
	if err != nil {
		return models.Conversation{}, storeError(err, "conversation_read_failed")
	}
	return conv, nil
}

// storeError maps a store failure onto the chat taxonomy. A missing row is a
// NOT_FOUND; anything else is a STORAGE failure tagged with reason.
func storeError(err error, reason string) error {
	if errors.Is(err, db.ErrNotFound) {
		return newError(ErrorNotFound, "conversation_not_found", err)
	}
	return newError(ErrorStorage, reason, err)
}
