// Package bot implements the webhook event dispatcher: it classifies
// inbound events, keeps the recipient directory in sync, and decides
// which outbound messages to send.
package bot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/eywa-bot/line-relay/line"
)

// DefaultTriggerPhrase is the message text that earns a canned reply in
// group chats.
const DefaultTriggerPhrase = "客服"

const (
	groupWelcomeText = "機器人已加入群組，這是測試訊息"
	userWelcomeText  = "您好，感謝您加入好友！"
)

// A Directory stores known recipients of one keyspace (groups or users),
// each with an active flag. Records are deactivated, never deleted.
type Directory interface {
	// UpsertActive creates the record active with a join timestamp of
	// now, or reactivates it and overwrites the display name.
	UpsertActive(ctx context.Context, id, displayName string) error
	// Deactivate clears the active flag. Unknown ids are a no-op.
	Deactivate(ctx context.Context, id string) error
	// ListActiveIDs returns the ids whose active flag is set.
	ListActiveIDs(ctx context.Context) ([]string, error)
	// IsActive reports the active flag; false for unknown ids.
	IsActive(ctx context.Context, id string) (bool, error)
}

// A Sender delivers outbound messages. Failed deliveries are reported as
// *line.DeliveryError; a missing credential as line.ErrUnconfigured.
type Sender interface {
	Push(ctx context.Context, to string, msgs []line.Message) error
	Reply(ctx context.Context, replyToken string, msgs []line.Message) error
	Broadcast(ctx context.Context, msgs []line.Message) error
}

// Service dispatches webhook deliveries and fans out pushes over the
// directory.
type Service struct {
	Logger *slog.Logger
	Groups Directory
	Users  Directory
	Sender Sender

	// TriggerPhrase is matched literally against group message text;
	// empty means DefaultTriggerPhrase.
	TriggerPhrase string
	// ReplyTo builds the reply quoting an inbound text. Nil means the
	// stock wording.
	ReplyTo func(text string) []line.Message
}

// A Report summarises one webhook delivery: how many events were
// processed and how many of their outbound sends failed.
type Report struct {
	Events   int `json:"events"`
	Failures int `json:"failures"`
}

// HandleWebhook processes the delivery's events strictly in arrival
// order. A failed send is logged and counted, and the batch carries on;
// a directory or credential failure aborts the batch with an error.
func (s *Service) HandleWebhook(ctx context.Context, req WebhookRequest) (Report, error) {
	var rep Report
	for _, ev := range req.Events {
		rep.Events++
		if err := s.handleEvent(ctx, ev); err != nil {
			var de *line.DeliveryError
			if errors.As(err, &de) {
				s.Logger.Error("Send failed, continuing batch", "event_type", ev.Type, "error", de.Error())
				rep.Failures++
				continue
			}
			return rep, err
		}
	}
	return rep, nil
}

func (s *Service) handleEvent(ctx context.Context, ev Event) error {
	switch ev.Type {
	case EventTypeJoin:
		if ev.Source.Type != SourceTypeGroup {
			return nil
		}
		id := ev.Source.GroupID
		if err := s.Groups.UpsertActive(ctx, id, "Group "+id); err != nil {
			return fmt.Errorf("upsert group %s: %w", id, err)
		}
		s.Logger.Info("Joined group", "group_id", id)
		return s.Sender.Push(ctx, id, []line.Message{line.NewText(groupWelcomeText)})

	case EventTypeMessage:
		return s.handleMessage(ctx, ev)

	case EventTypeFollow:
		if ev.Source.Type != SourceTypeUser {
			return nil
		}
		id := ev.Source.UserID
		if err := s.Users.UpsertActive(ctx, id, "User "+id); err != nil {
			return fmt.Errorf("upsert user %s: %w", id, err)
		}
		s.Logger.Info("Followed by user", "user_id", id)
		if ev.ReplyToken == "" {
			return nil
		}
		return s.Sender.Reply(ctx, ev.ReplyToken, []line.Message{line.NewText(userWelcomeText)})

	case EventTypeUnfollow:
		if ev.Source.Type != SourceTypeUser {
			return nil
		}
		if err := s.Users.Deactivate(ctx, ev.Source.UserID); err != nil {
			return fmt.Errorf("deactivate user %s: %w", ev.Source.UserID, err)
		}
		s.Logger.Info("Unfollowed by user", "user_id", ev.Source.UserID)
		return nil

	case EventTypeLeave:
		if ev.Source.Type != SourceTypeGroup {
			return nil
		}
		if err := s.Groups.Deactivate(ctx, ev.Source.GroupID); err != nil {
			return fmt.Errorf("deactivate group %s: %w", ev.Source.GroupID, err)
		}
		s.Logger.Info("Left group", "group_id", ev.Source.GroupID)
		return nil

	default:
		s.Logger.Info("Ignoring event", "event_type", ev.Type)
		return nil
	}
}

func (s *Service) handleMessage(ctx context.Context, ev Event) error {
	var text string
	if ev.Message != nil {
		text = ev.Message.Text
	}

	switch ev.Source.Type {
	case SourceTypeGroup:
		id := ev.Source.GroupID
		if err := s.Groups.UpsertActive(ctx, id, "Group "+id); err != nil {
			return fmt.Errorf("upsert group %s: %w", id, err)
		}
		trigger := s.TriggerPhrase
		if trigger == "" {
			trigger = DefaultTriggerPhrase
		}
		if text != trigger || ev.ReplyToken == "" {
			return nil
		}
		return s.Sender.Reply(ctx, ev.ReplyToken, s.replyTo(text))

	case SourceTypeUser:
		id := ev.Source.UserID
		if err := s.Users.UpsertActive(ctx, id, "User "+id); err != nil {
			return fmt.Errorf("upsert user %s: %w", id, err)
		}
		if ev.ReplyToken == "" {
			return nil
		}
		return s.Sender.Reply(ctx, ev.ReplyToken, s.replyTo(text))
	}
	return nil
}

func (s *Service) replyTo(text string) []line.Message {
	if s.ReplyTo != nil {
		return s.ReplyTo(text)
	}
	return []line.Message{line.NewText(`您好，您傳送了"` + text + `"!`)}
}

// A Fanout is the outcome of pushing to every active recipient of one
// directory: the number delivered and the ids that failed.
type Fanout struct {
	Sent   int      `json:"sent"`
	Failed []string `json:"failed"`
}

// PushToActiveGroups pushes the messages to every active group,
// sequentially. Per-recipient delivery failures are collected in the
// Fanout, never returned as the error.
func (s *Service) PushToActiveGroups(ctx context.Context, msgs []line.Message) (Fanout, error) {
	return s.fanout(ctx, s.Groups, msgs)
}

// PushToActiveUsers is PushToActiveGroups over the user directory.
func (s *Service) PushToActiveUsers(ctx context.Context, msgs []line.Message) (Fanout, error) {
	return s.fanout(ctx, s.Users, msgs)
}

func (s *Service) fanout(ctx context.Context, dir Directory, msgs []line.Message) (Fanout, error) {
	ids, err := dir.ListActiveIDs(ctx)
	if err != nil {
		return Fanout{}, fmt.Errorf("list active ids: %w", err)
	}
	out := Fanout{Failed: []string{}}
	for _, id := range ids {
		if err := s.Sender.Push(ctx, id, msgs); err != nil {
			var de *line.DeliveryError
			if !errors.As(err, &de) {
				return out, err
			}
			s.Logger.Error("Push failed", "recipient_id", id, "error", de.Error())
			out.Failed = append(out.Failed, id)
			continue
		}
		out.Sent++
	}
	return out, nil
}
