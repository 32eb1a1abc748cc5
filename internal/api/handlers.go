package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/mhorvath/guest-notify/internal/model"
	"github.com/mhorvath/guest-notify/internal/repo"
	"github.com/mhorvath/guest-notify/internal/scheduler"
	"github.com/mhorvath/guest-notify/internal/trigger"
)

// SessionService is the session registry surface the admin API exposes.
type SessionService interface {
	Status(ctx context.Context, identity model.Identity) (*model.SessionRecord, error)
	Refresh(ctx context.Context, identity model.Identity) (*model.SessionRecord, error)
	Logout(ctx context.Context, identity model.Identity) (*model.SessionRecord, error)
	QR(ctx context.Context, identity model.Identity) (string, error)
}

type ContactChecker interface {
	CheckContact(ctx context.Context, identity model.Identity, phone string) (string, error)
}

type TriggerService interface {
	HandleStatusChange(ctx context.Context, ev trigger.StatusChanged, inv trigger.Invitation) (int, error)
}

type Handler struct {
	sched    *scheduler.Scheduler
	queue    repo.QueueRepository
	events   repo.EventRepository
	sessions SessionService
	checker  ContactChecker
	triggers TriggerService
}

func NewHandler(
	sched *scheduler.Scheduler,
	queue repo.QueueRepository,
	events repo.EventRepository,
	sessions SessionService,
	checker ContactChecker,
	triggers TriggerService,
) *Handler {
	return &Handler{
		sched:    sched,
		queue:    queue,
		events:   events,
		sessions: sessions,
		checker:  checker,
		triggers: triggers,
	}
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (h *Handler) SchedulerStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"running": h.sched.IsRunning()})
}

func (h *Handler) SchedulerStart(w http.ResponseWriter, r *http.Request) {
	h.sched.Start()
	writeJSON(w, http.StatusOK, map[string]any{"running": h.sched.IsRunning()})
}

func (h *Handler) SchedulerStop(w http.ResponseWriter, r *http.Request) {
	h.sched.Stop()
	writeJSON(w, http.StatusOK, map[string]any{"running": h.sched.IsRunning()})
}

type queueEntryResponse struct {
	ID          string     `json:"id"`
	Identity    string     `json:"identity"`
	Recipient   string     `json:"recipient"`
	Body        string     `json:"body"`
	Status      string     `json:"status"`
	ScheduledAt time.Time  `json:"scheduledAt"`
	SentAt      *time.Time `json:"sentAt,omitempty"`
	Attempts    int        `json:"attempts"`
	Error       *string    `json:"error,omitempty"`
	CreatedAt   time.Time  `json:"createdAt"`
}

func toEntryResponse(e model.QueueEntry) queueEntryResponse {
	return queueEntryResponse{
		ID:          e.ID,
		Identity:    string(e.Identity),
		Recipient:   e.Recipient,
		Body:        e.Body,
		Status:      string(e.Status),
		ScheduledAt: e.ScheduledAt,
		SentAt:      e.SentAt,
		Attempts:    e.Attempts,
		Error:       e.LastError,
		CreatedAt:   e.CreatedAt,
	}
}

func (h *Handler) ListQueue(w http.ResponseWriter, r *http.Request) {
	limit := parseInt(r.URL.Query().Get("limit"), 50)
	offset := parseInt(r.URL.Query().Get("offset"), 0)

	var status model.Status
	if raw := r.URL.Query().Get("status"); raw != "" {
		parsed, err := model.ParseStatus(raw)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		status = parsed
	}

	entries, err := h.queue.List(r.Context(), status, limit, offset)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	items := make([]queueEntryResponse, 0, len(entries))
	for _, e := range entries {
		items = append(items, toEntryResponse(e))
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

func (h *Handler) ListEntryEvents(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	if _, err := h.queue.Get(r.Context(), id); err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			http.Error(w, err.Error(), http.StatusNotFound)
			return
		}
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	events, err := h.events.ListForEntry(r.Context(), id)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	type eventResponse struct {
		Phase     string         `json:"phase"`
		Timestamp time.Time      `json:"timestamp"`
		Metadata  map[string]any `json:"metadata,omitempty"`
	}
	items := make([]eventResponse, 0, len(events))
	for _, ev := range events {
		items = append(items, eventResponse{
			Phase:     string(ev.Phase),
			Timestamp: ev.Timestamp,
			Metadata:  ev.Metadata,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

func (h *Handler) RetryFailed(w http.ResponseWriter, r *http.Request) {
	affected, err := h.queue.RetryFailed(r.Context())
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"affected": affected})
}

func (h *Handler) ForceSend(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	if err := h.queue.ForceSend(r.Context(), id, time.Now().UTC()); err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			http.Error(w, err.Error(), http.StatusNotFound)
			return
		}
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	entry, err := h.queue.Get(r.Context(), id)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, toEntryResponse(*entry))
}

type testSendRequest struct {
	Identity  string `json:"identity"`
	Recipient string `json:"recipient"`
	Body      string `json:"body"`
}

// TestSend enqueues a manual test entry, scheduled immediately. It goes
// through the normal delivery path, rate limit included.
func (h *Handler) TestSend(w http.ResponseWriter, r *http.Request) {
	var req testSendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}

	identity, err := model.ParseIdentity(req.Identity)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if req.Recipient == "" || req.Body == "" {
		http.Error(w, "recipient and body are required", http.StatusBadRequest)
		return
	}

	entry := model.QueueEntry{
		ID:          model.NewQueueID(),
		Identity:    identity,
		Recipient:   req.Recipient,
		Body:        req.Body,
		Status:      model.Pending,
		ScheduledAt: time.Now().UTC(),
	}
	if err := h.queue.Enqueue(r.Context(), entry); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"id": entry.ID})
}

type statusChangedRequest struct {
	InvitationID string `json:"invitationId"`
	OldStatus    string `json:"oldStatus"`
	NewStatus    string `json:"newStatus"`
	GuestName    string `json:"guestName"`
	Code         string `json:"code"`
	Phone        string `json:"phone"`
	Link         string `json:"link"`
	GuestList    string `json:"guestList"`
}

// TriggerStatusChanged is called by the invitation system when an invitation
// moves to a new status.
func (h *Handler) TriggerStatusChanged(w http.ResponseWriter, r *http.Request) {
	var req statusChangedRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}
	if req.InvitationID == "" || req.NewStatus == "" {
		http.Error(w, "invitationId and newStatus are required", http.StatusBadRequest)
		return
	}

	enqueued, err := h.triggers.HandleStatusChange(r.Context(),
		trigger.StatusChanged{
			InvitationID: req.InvitationID,
			OldStatus:    req.OldStatus,
			NewStatus:    req.NewStatus,
		},
		trigger.Invitation{
			ID:        req.InvitationID,
			GuestName: req.GuestName,
			Code:      req.Code,
			Phone:     req.Phone,
			Link:      req.Link,
			GuestList: req.GuestList,
		},
	)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"enqueued": enqueued})
}

type sessionResponse struct {
	Identity      string     `json:"identity"`
	State         string     `json:"state"`
	QRCode        *string    `json:"qrCode,omitempty"`
	Number        *string    `json:"number,omitempty"`
	DisplayName   *string    `json:"displayName,omitempty"`
	AvatarRef     *string    `json:"avatarRef,omitempty"`
	LastCheckedAt *time.Time `json:"lastCheckedAt,omitempty"`
	LastError     *string    `json:"lastError,omitempty"`
}

func toSessionResponse(rec *model.SessionRecord) sessionResponse {
	return sessionResponse{
		Identity:      string(rec.Identity),
		State:         string(rec.State),
		QRCode:        rec.LastQRPayload,
		Number:        rec.ResolvedNum,
		DisplayName:   rec.DisplayName,
		AvatarRef:     rec.AvatarRef,
		LastCheckedAt: rec.LastCheckedAt,
		LastError:     rec.LastError,
	}
}

func (h *Handler) SessionStatus(w http.ResponseWriter, r *http.Request) {
	identity, ok := pathIdentity(w, r)
	if !ok {
		return
	}

	rec, err := h.sessions.Status(r.Context(), identity)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, toSessionResponse(rec))
}

func (h *Handler) SessionRefresh(w http.ResponseWriter, r *http.Request) {
	identity, ok := pathIdentity(w, r)
	if !ok {
		return
	}

	rec, err := h.sessions.Refresh(r.Context(), identity)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, toSessionResponse(rec))
}

func (h *Handler) SessionLogout(w http.ResponseWriter, r *http.Request) {
	identity, ok := pathIdentity(w, r)
	if !ok {
		return
	}

	rec, err := h.sessions.Logout(r.Context(), identity)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, toSessionResponse(rec))
}

// SessionQR answers 503 when the gateway cannot produce a QR code, since
// pairing is impossible until it can.
func (h *Handler) SessionQR(w http.ResponseWriter, r *http.Request) {
	identity, ok := pathIdentity(w, r)
	if !ok {
		return
	}

	qr, err := h.sessions.QR(r.Context(), identity)
	if err != nil {
		http.Error(w, "qr code unavailable: "+err.Error(), http.StatusServiceUnavailable)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"qrCode": qr})
}

func (h *Handler) CheckContact(w http.ResponseWriter, r *http.Request) {
	identity, ok := pathIdentity(w, r)
	if !ok {
		return
	}
	phone := r.PathValue("phone")

	status, err := h.checker.CheckContact(r.Context(), identity, phone)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadGateway)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": status})
}

func pathIdentity(w http.ResponseWriter, r *http.Request) (model.Identity, bool) {
	identity, err := model.ParseIdentity(r.PathValue("identity"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return "", false
	}
	return identity, true
}

func parseInt(raw string, def int) int {
	if raw == "" {
		return def
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return v
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
