// Package api exposes the relay over HTTP: the webhook ingress, the
// settings endpoint and the outbound send endpoints.
package api

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"sync"

	"github.com/eywa-bot/line-relay/bot"
	"github.com/eywa-bot/line-relay/line"
)

// maxWebhookBody caps webhook request bodies at 1 MB.
const maxWebhookBody = 1 << 20

// A Dispatcher processes webhook deliveries and fans pushes out over
// the recipient directory.
type Dispatcher interface {
	HandleWebhook(ctx context.Context, req bot.WebhookRequest) (bot.Report, error)
	PushToActiveGroups(ctx context.Context, msgs []line.Message) (bot.Fanout, error)
	PushToActiveUsers(ctx context.Context, msgs []line.Message) (bot.Fanout, error)
	AlertActiveGroups(ctx context.Context, alert bot.Alert) (bot.Fanout, error)
}

// A Settings stores and yields the channel credential pair.
type Settings interface {
	Store(ctx context.Context, accessToken, secret string) error
	Credentials(ctx context.Context) (line.Credentials, error)
}

// A Sender delivers messages to a single recipient or to every channel
// subscriber.
type Sender interface {
	Push(ctx context.Context, to string, msgs []line.Message) error
	Broadcast(ctx context.Context, msgs []line.Message) error
}

// A RecipientLister lists the active ids of one directory.
type RecipientLister interface {
	ListActiveIDs(ctx context.Context) ([]string, error)
}

// API provides the REST endpoints for the relay.
type API struct {
	Logger   *slog.Logger
	Bot      Dispatcher
	Settings Settings
	Sender   Sender
	Groups   RecipientLister
	Users    RecipientLister

	once sync.Once
	mux  *http.ServeMux
}

func (a *API) setupRoutes() {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /webhook", a.receiveWebhook)
	mux.HandleFunc("PUT /settings", a.storeSettings)
	mux.HandleFunc("POST /messages/push", a.pushMessage)
	mux.HandleFunc("POST /messages/broadcast", a.broadcastMessage)
	mux.HandleFunc("POST /messages/groups", a.pushToGroups)
	mux.HandleFunc("POST /messages/users", a.pushToUsers)
	mux.HandleFunc("POST /alert", a.sendAlert)
	mux.HandleFunc("GET /recipients/groups", a.listRecipients(a.Groups))
	mux.HandleFunc("GET /recipients/users", a.listRecipients(a.Users))

	a.mux = mux
}

func (a *API) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	a.once.Do(a.setupRoutes)
	a.Logger.Info("Request received", "method", r.Method, "path", r.URL.Path)
	a.mux.ServeHTTP(w, r)
}

func (a *API) respond(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		a.Logger.Error("Could not encode JSON body", "error", err.Error())
	}
}

func (a *API) respondError(w http.ResponseWriter, status int, err error, msg string) {
	type response struct {
		Error string `json:"error"`
	}
	a.Logger.Error("Error", "error", err.Error())
	a.respond(w, status, response{Error: msg})
}

// verifySignature checks the platform's webhook signature: the base64
// HMAC-SHA256 of the raw body keyed by the channel secret.
func verifySignature(body []byte, secret, signature string) bool {
	if signature == "" {
		return false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	want := base64.StdEncoding.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(want), []byte(signature))
}

func (a *API) receiveWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		a.respondError(w, http.StatusBadRequest, err, "Could not read request body")
		return
	}
	r.Body.Close()

	creds, err := a.Settings.Credentials(r.Context())
	switch {
	case errors.Is(err, line.ErrUnconfigured):
		// No secret to verify against until the channel is configured.
	case err != nil:
		a.respondError(w, http.StatusInternalServerError, err, "Could not load settings")
		return
	default:
		if !verifySignature(body, creds.Secret, r.Header.Get("X-Line-Signature")) {
			a.respondError(w, http.StatusForbidden, errors.New("signature mismatch"), "Invalid signature")
			return
		}
	}

	var req bot.WebhookRequest
	if err := json.Unmarshal(body, &req); err != nil {
		a.respondError(w, http.StatusBadRequest, err, "Could not decode request body")
		return
	}

	rep, err := a.Bot.HandleWebhook(r.Context(), req)
	if err != nil {
		a.respondError(w, http.StatusInternalServerError, err, "Could not process webhook")
		return
	}
	a.respond(w, http.StatusOK, rep)
}

func (a *API) storeSettings(w http.ResponseWriter, r *http.Request) {
	type request struct {
		ChannelAccessToken string `json:"channel_access_token"`
		ChannelSecret      string `json:"channel_secret"`
	}

	var body request
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		a.respondError(w, http.StatusBadRequest, err, "Could not decode request body")
		return
	}
	r.Body.Close()

	if body.ChannelAccessToken == "" || body.ChannelSecret == "" {
		a.respondError(w, http.StatusBadRequest, errors.New("missing credential field"), "Both channel_access_token and channel_secret are required")
		return
	}

	if err := a.Settings.Store(r.Context(), body.ChannelAccessToken, body.ChannelSecret); err != nil {
		a.respondError(w, http.StatusInternalServerError, err, "Could not store settings")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) pushMessage(w http.ResponseWriter, r *http.Request) {
	type request struct {
		To       string        `json:"to"`
		Messages line.Messages `json:"messages"`
	}

	var body request
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		a.respondError(w, http.StatusBadRequest, err, "Could not decode request body")
		return
	}
	r.Body.Close()

	if body.To == "" {
		a.respondError(w, http.StatusBadRequest, errors.New("missing recipient id"), "A recipient id is required")
		return
	}
	if len(body.Messages) == 0 {
		a.respondError(w, http.StatusBadRequest, errors.New("no messages"), "At least one message is required")
		return
	}

	a.respondSend(w, a.Sender.Push(r.Context(), body.To, body.Messages))
}

func (a *API) broadcastMessage(w http.ResponseWriter, r *http.Request) {
	type request struct {
		Messages line.Messages `json:"messages"`
	}

	var body request
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		a.respondError(w, http.StatusBadRequest, err, "Could not decode request body")
		return
	}
	r.Body.Close()

	if len(body.Messages) == 0 {
		a.respondError(w, http.StatusBadRequest, errors.New("no messages"), "At least one message is required")
		return
	}

	a.respondSend(w, a.Sender.Broadcast(r.Context(), body.Messages))
}

// respondSend maps the outcome of a single outbound call onto the HTTP
// response.
func (a *API) respondSend(w http.ResponseWriter, err error) {
	type response struct {
		Accepted bool `json:"accepted"`
	}

	var de *line.DeliveryError
	switch {
	case errors.Is(err, line.ErrUnconfigured):
		a.respondError(w, http.StatusConflict, err, "Channel credentials not configured")
	case errors.As(err, &de):
		a.respondError(w, http.StatusBadGateway, err, "Could not deliver message")
	case err != nil:
		a.respondError(w, http.StatusInternalServerError, err, "Could not send message")
	default:
		a.respond(w, http.StatusAccepted, response{Accepted: true})
	}
}

func (a *API) pushToGroups(w http.ResponseWriter, r *http.Request) {
	a.fanout(w, r, a.Bot.PushToActiveGroups)
}

func (a *API) pushToUsers(w http.ResponseWriter, r *http.Request) {
	a.fanout(w, r, a.Bot.PushToActiveUsers)
}

func (a *API) fanout(w http.ResponseWriter, r *http.Request, send func(ctx context.Context, msgs []line.Message) (bot.Fanout, error)) {
	type request struct {
		Messages line.Messages `json:"messages"`
	}

	var body request
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		a.respondError(w, http.StatusBadRequest, err, "Could not decode request body")
		return
	}
	r.Body.Close()

	if len(body.Messages) == 0 {
		a.respondError(w, http.StatusBadRequest, errors.New("no messages"), "At least one message is required")
		return
	}

	out, err := send(r.Context(), body.Messages)
	a.respondFanout(w, out, err)
}

func (a *API) sendAlert(w http.ResponseWriter, r *http.Request) {
	type request struct {
		MachineName  string `json:"machine_name"`
		ErrorMessage string `json:"error_message"`
		MachineData  string `json:"machine_data"`
	}

	var body request
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		a.respondError(w, http.StatusBadRequest, err, "Could not decode request body")
		return
	}
	r.Body.Close()

	alert := bot.Alert{
		MachineName:  body.MachineName,
		ErrorMessage: body.ErrorMessage,
		MachineData:  body.MachineData,
	}
	out, err := a.Bot.AlertActiveGroups(r.Context(), alert)
	a.respondFanout(w, out, err)
}

func (a *API) respondFanout(w http.ResponseWriter, out bot.Fanout, err error) {
	switch {
	case errors.Is(err, line.ErrUnconfigured):
		a.respondError(w, http.StatusConflict, err, "Channel credentials not configured")
	case err != nil:
		a.respondError(w, http.StatusInternalServerError, err, "Could not fan out messages")
	default:
		a.respond(w, http.StatusOK, out)
	}
}

func (a *API) listRecipients(lister RecipientLister) http.HandlerFunc {
	type response struct {
		IDs []string `json:"ids"`
	}

	return func(w http.ResponseWriter, r *http.Request) {
		ids, err := lister.ListActiveIDs(r.Context())
		if err != nil {
			a.respondError(w, http.StatusInternalServerError, err, "Could not list recipients")
			return
		}
		if ids == nil {
			ids = []string{}
		}
		a.respond(w, http.StatusOK, response{IDs: ids})
	}
}
