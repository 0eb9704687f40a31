package bot

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/clinicdesk/clinicbot/internal/clinic"
	"github.com/clinicdesk/clinicbot/internal/redisclient"
)

// Engine is the transactional shell around the Dispatcher: it serializes
// events per user with a keyed lock, loads and decodes the conversation
// state, runs the dispatch, and persists the mutated state with a versioned
// save. Handlers stay free of persistence concerns.
type Engine struct {
	users  clinic.UserRepository
	locker redisclient.Locker
	disp   *Dispatcher
	log    zerolog.Logger
}

func NewEngine(users clinic.UserRepository, locker redisclient.Locker, disp *Dispatcher, log zerolog.Logger) *Engine {
	return &Engine{
		users:  users,
		locker: locker,
		disp:   disp,
		log:    log.With().Str("component", "engine").Logger(),
	}
}

// Handle processes one inbound event end to end and returns the replies to
// send back. It never returns an error to the transport: every failure mode
// degrades to a user-facing reply.
func (e *Engine) Handle(ctx context.Context, ev Event) []Reply {
	var replies []Reply
	key := fmt.Sprintf("user:%d", ev.ChatID)

	err := e.locker.WithLock(ctx, key, func(ctx context.Context) error {
		var err error
		replies, err = e.handleLocked(ctx, ev)
		return err
	})
	if err != nil {
		if errors.Is(err, redisclient.ErrLockNotAcquired) {
			return []Reply{textReply("Still working on your previous message, one moment...")}
		}
		e.log.Error().Err(err).Int64("chat_id", ev.ChatID).Msg("event handling failed")
		return []Reply{textReply("Something went wrong. Please try again.")}
	}
	return replies
}

func (e *Engine) handleLocked(ctx context.Context, ev Event) ([]Reply, error) {
	user, created, err := e.loadOrCreateUser(ctx, ev.ChatID)
	if err != nil {
		return nil, err
	}
	if created {
		return []Reply{phonePrompt()}, nil
	}

	state, err := DecodeState(user.Conversation)
	if err != nil {
		// Corrupt state: log it and restart from an idle conversation
		// rather than locking the user out.
		e.log.Warn().Err(err).Int64("chat_id", ev.ChatID).Msg("resetting undecodable conversation state")
		state = ConversationState{Registration: StepCompleted}
	}

	s := &session{user: user, state: state}
	replies := e.dispatch(ctx, s, ev)

	if err := e.persist(ctx, s); err != nil {
		if errors.Is(err, clinic.ErrStateConflict) {
			e.log.Warn().Int64("chat_id", ev.ChatID).Msg("conversation version conflict, dropping event")
			return []Reply{textReply("Your previous action just finished. Please repeat the last step.")}, nil
		}
		return nil, err
	}
	return replies, nil
}

// dispatch runs the state machine with a panic barrier: a panicking handler
// resets the conversation so the next event starts from the main menu.
func (e *Engine) dispatch(ctx context.Context, s *session, ev Event) (replies []Reply) {
	defer func() {
		if r := recover(); r != nil {
			e.log.Error().Interface("panic", r).Int64("chat_id", ev.ChatID).Msg("handler panicked")
			s.state.Reset()
			replies = []Reply{
				textReply("Something went wrong, returning you to the main menu."),
				e.disp.mainMenu(s.user),
			}
		}
	}()

	replies, err := e.disp.Dispatch(ctx, s, ev)
	if err != nil {
		e.log.Error().Err(err).Int64("chat_id", ev.ChatID).Msg("dispatch failed")
		s.state.Reset()
		return []Reply{
			textReply("Something went wrong, returning you to the main menu."),
			e.disp.mainMenu(s.user),
		}
	}
	return replies
}

func (e *Engine) persist(ctx context.Context, s *session) error {
	if s.profileDirty {
		if err := e.users.SaveProfile(ctx, s.user); err != nil {
			return fmt.Errorf("save profile: %w", err)
		}
	}

	conv, err := EncodeState(s.state)
	if err != nil {
		return fmt.Errorf("encode conversation: %w", err)
	}
	newVersion, err := e.users.SaveConversation(ctx, s.user.ID, conv, s.user.ConversationVersion)
	if err != nil {
		return err
	}
	s.user.Conversation = conv
	s.user.ConversationVersion = newVersion
	return nil
}

func (e *Engine) loadOrCreateUser(ctx context.Context, chatID int64) (*clinic.User, bool, error) {
	user, err := e.users.ByChatID(ctx, chatID)
	if err == nil {
		return user, false, nil
	}
	if !errors.Is(err, clinic.ErrUserNotFound) {
		return nil, false, fmt.Errorf("load user: %w", err)
	}

	conv, err := EncodeState(ConversationState{Registration: StepEnterPhone})
	if err != nil {
		return nil, false, fmt.Errorf("encode initial state: %w", err)
	}
	user = &clinic.User{
		ID:           uuid.New(),
		ChatID:       &chatID,
		Role:         clinic.RolePatient,
		Conversation: conv,
	}
	if err := e.users.Create(ctx, user); err != nil {
		return nil, false, fmt.Errorf("create user: %w", err)
	}
	e.log.Info().Int64("chat_id", chatID).Str("user_id", user.ID.String()).Msg("registered new chat")
	return user, true, nil
}
