package services

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"cactus/internal/config"
	"cactus/internal/models"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

var (
	// ErrNoPushTokens is returned when none of the requested users registered a push token
	ErrNoPushTokens = errors.New("no users with push tokens found")
	// ErrPushIncomplete is returned when some batches went out before a later one failed.
	// The PushResult returned with it lists the users that were not reached.
	ErrPushIncomplete = errors.New("push delivery incomplete")
)

// expoBatchSize is the most messages the Expo endpoint accepts per request
const expoBatchSize = 100

// UserLookup loads users by id
type UserLookup interface {
	UsersByIDs(ctx context.Context, ids []int64) ([]models.User, error)
}

// PushMessage is one Expo push message
type PushMessage struct {
	To    string                 `json:"to"`
	Sound string                 `json:"sound,omitempty"`
	Title string                 `json:"title"`
	Body  string                 `json:"body"`
	Data  map[string]interface{} `json:"data,omitempty"`
}

// PushTicket is the per-message result returned by Expo
type PushTicket struct {
	Status  string                 `json:"status"`
	ID      string                 `json:"id,omitempty"`
	Message string                 `json:"message,omitempty"`
	Details map[string]interface{} `json:"details,omitempty"`
}

type expoResponse struct {
	Data   []PushTicket `json:"data"`
	Errors []struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"errors"`
}

// PushResult summarises one SendToUsers call
type PushResult struct {
	Sent        int          `json:"sent"`
	Skipped     []int64      `json:"skipped,omitempty"`
	Undelivered []int64      `json:"undelivered,omitempty"`
	Tickets     []PushTicket `json:"results"`
}

type PushService struct {
	client   *http.Client
	endpoint string
	limiter  *rate.Limiter
	users    UserLookup
	log      zerolog.Logger
}

func NewPushService(cfg config.PushConfig, users UserLookup, log zerolog.Logger) *PushService {
	rps := cfg.RatePerSec
	if rps <= 0 {
		rps = 10
	}
	return &PushService{
		client:   &http.Client{Timeout: 15 * time.Second},
		endpoint: cfg.Endpoint,
		limiter:  rate.NewLimiter(rate.Limit(rps), rps),
		users:    users,
		log:      log,
	}
}

// SendToUsers looks up push tokens for userIDs and sends one message to each
// user that has one. Users without a token are reported in Skipped.
func (s *PushService) SendToUsers(ctx context.Context, userIDs []int64, title, body string, data map[string]interface{}) (PushResult, error) {
	var result PushResult

	users, err := s.users.UsersByIDs(ctx, userIDs)
	if err != nil {
		return result, fmt.Errorf("failed to fetch push tokens: %w", err)
	}

	withToken := make(map[int64]bool, len(users))
	messages := make([]PushMessage, 0, len(users))
	recipients := make([]int64, 0, len(users))
	for _, u := range users {
		if u.PushToken == "" {
			continue
		}
		withToken[u.ID] = true
		recipients = append(recipients, u.ID)
		messages = append(messages, PushMessage{
			To:    u.PushToken,
			Sound: "default",
			Title: title,
			Body:  body,
			Data:  data,
		})
	}
	for _, id := range userIDs {
		if !withToken[id] {
			result.Skipped = append(result.Skipped, id)
		}
	}
	if len(messages) == 0 {
		return result, ErrNoPushTokens
	}

	tickets, sent, err := s.Send(ctx, messages)
	result.Sent = sent
	result.Tickets = tickets
	if err != nil {
		if sent == 0 {
			return result, err
		}
		result.Undelivered = recipients[sent:]
		return result, fmt.Errorf("%w: %d of %d messages sent: %v", ErrPushIncomplete, sent, len(messages), err)
	}
	return result, nil
}

// Send posts messages to the Expo push endpoint in batches. It stops at the
// first failed batch and reports how many messages went out before it.
func (s *PushService) Send(ctx context.Context, messages []PushMessage) ([]PushTicket, int, error) {
	tickets := make([]PushTicket, 0, len(messages))
	sent := 0
	for start := 0; start < len(messages); start += expoBatchSize {
		end := start + expoBatchSize
		if end > len(messages) {
			end = len(messages)
		}
		batch, err := s.sendBatch(ctx, messages[start:end])
		if err != nil {
			return tickets, sent, err
		}
		tickets = append(tickets, batch...)
		sent = end
	}

	for _, t := range tickets {
		if t.Status == "error" {
			s.log.Warn().Str("message", t.Message).Interface("details", t.Details).Msg("push ticket error")
		}
	}
	return tickets, sent, nil
}

func (s *PushService) sendBatch(ctx context.Context, messages []PushMessage) ([]PushTicket, error) {
	if err := s.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("push rate limit: %w", err)
	}

	payload, err := json.Marshal(messages)
	if err != nil {
		return nil, fmt.Errorf("failed to encode push messages: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to build push request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to send push notifications: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read push response: %w", err)
	}
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("push endpoint returned %d: %s", resp.StatusCode, bytes.TrimSpace(raw))
	}

	var decoded expoResponse
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return nil, fmt.Errorf("failed to decode push response: %w", err)
	}
	if len(decoded.Errors) > 0 {
		return nil, fmt.Errorf("push endpoint error %s: %s", decoded.Errors[0].Code, decoded.Errors[0].Message)
	}

	s.log.Debug().Int("messages", len(messages)).Msg("push batch sent")
	return decoded.Data, nil
}
