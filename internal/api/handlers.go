package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/teris-io/shortid"
	"go.uber.org/zap"

	"github.com/wellnesshub/wellness-chat/internal/server"
	"github.com/wellnesshub/wellness-chat/internal/store"
	"github.com/wellnesshub/wellness-chat/internal/types"
)

const defaultMaxMembers = 100

func (s *WellnessApp) writeJson(w http.ResponseWriter, statusCode int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	if v == nil {
		return
	}

	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Error("failed to write response", zap.Error(err))
	}
}

func (s *WellnessApp) healthCheck(w http.ResponseWriter, r *http.Request) {
	if err := s.store.Ping(r.Context()); err != nil {
		s.log.Error("health check", zap.Error(err))
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}

// storeError maps store failures onto API responses.
func (s *WellnessApp) storeError(err error) *ApiError {
	if errors.Is(err, store.ErrNotFound) {
		return NewNotFoundError()
	}
	return NewInternalServerError(err)
}

type CreateRoomRequest struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	IsPublic    *bool  `json:"is_public,omitempty"`
	MaxMembers  int    `json:"max_members,omitempty"`
}

type RoomDetail struct {
	types.Room
	Members []types.Member `json:"members"`
}

func (s *WellnessApp) listRooms(w http.ResponseWriter, r *http.Request) {
	userId, _ := UserId(r.Context())

	rooms, err := s.store.ListRooms(r.Context(), userId)
	if err != nil {
		errResp := s.storeError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	s.writeJson(w, http.StatusOK, rooms)
}

func (s *WellnessApp) createRoom(w http.ResponseWriter, r *http.Request) {
	userId, _ := UserId(r.Context())

	var req CreateRoomRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		errResp := NewBadRequestError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" {
		errResp := NewBadRequestError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	externalId, err := shortid.Generate()
	if err != nil {
		errResp := NewInternalServerError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	isPublic := true
	if req.IsPublic != nil {
		isPublic = *req.IsPublic
	}
	maxMembers := req.MaxMembers
	if maxMembers <= 0 {
		maxMembers = defaultMaxMembers
	}

	room, err := s.store.CreateRoom(r.Context(), store.CreateRoomParams{
		Name:        req.Name,
		ExternalId:  externalId,
		Description: req.Description,
		IsPublic:    isPublic,
		MaxMembers:  maxMembers,
		OwnerId:     userId,
	})
	if err != nil {
		s.log.Error("create room", zap.Error(err))
		errResp := s.storeError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	s.writeJson(w, http.StatusCreated, room)
}

func (s *WellnessApp) deleteRoom(w http.ResponseWriter, r *http.Request) {
	userId, _ := UserId(r.Context())

	room, err := s.store.GetRoomByExternalId(r.Context(), r.URL.Query().Get("room"))
	if err != nil {
		errResp := s.storeError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	if room.OwnerId != userId {
		errResp := NewForbiddenError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	if room.ExternalId == store.DefaultRoomExternalId {
		errResp := NewConflictError("the default room cannot be deleted")
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	if err := s.store.DeactivateRoom(r.Context(), room.Id); err != nil {
		errResp := s.storeError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	s.writeJson(w, http.StatusNoContent, nil)
}

func (s *WellnessApp) getRoom(w http.ResponseWriter, r *http.Request) {
	room, err := s.store.GetRoomByExternalId(r.Context(), r.URL.Query().Get("room"))
	if err != nil {
		errResp := s.storeError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	members, err := s.store.ListMembers(r.Context(), room.Id)
	if err != nil {
		errResp := s.storeError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}
	room.MemberCount = len(members)

	s.writeJson(w, http.StatusOK, RoomDetail{Room: room, Members: members})
}

func (s *WellnessApp) joinRoom(w http.ResponseWriter, r *http.Request) {
	userId, _ := UserId(r.Context())

	room, err := s.store.GetRoomByExternalId(r.Context(), r.URL.Query().Get("room"))
	if err != nil {
		errResp := s.storeError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	member, err := s.store.UpsertMember(r.Context(), room.Id, userId, types.RoleMember)
	if err != nil {
		errResp := s.storeError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	s.writeJson(w, http.StatusOK, member)
}

func (s *WellnessApp) leaveRoom(w http.ResponseWriter, r *http.Request) {
	userId, _ := UserId(r.Context())

	room, err := s.store.GetRoomByExternalId(r.Context(), r.URL.Query().Get("room"))
	if err != nil {
		errResp := s.storeError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	if err := s.store.SetMemberOnline(r.Context(), room.Id, userId, false); err != nil {
		errResp := s.storeError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	s.writeJson(w, http.StatusNoContent, nil)
}

func (s *WellnessApp) markRead(w http.ResponseWriter, r *http.Request) {
	userId, _ := UserId(r.Context())

	room, err := s.store.GetRoomByExternalId(r.Context(), r.URL.Query().Get("room"))
	if err != nil {
		errResp := s.storeError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	if err := s.store.UpdateLastRead(r.Context(), room.Id, userId, time.Now().UTC()); err != nil {
		errResp := s.storeError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	s.writeJson(w, http.StatusNoContent, nil)
}

func (s *WellnessApp) getMessages(w http.ResponseWriter, r *http.Request) {
	userId, _ := UserId(r.Context())

	room, err := s.store.GetRoomByExternalId(r.Context(), r.URL.Query().Get("room"))
	if err != nil {
		errResp := s.storeError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	isMember, err := s.store.IsMember(r.Context(), room.Id, userId)
	if err != nil {
		errResp := s.storeError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}
	if !isMember && !room.IsPublic {
		errResp := NewForbiddenError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	var beforeId int64
	if before := r.URL.Query().Get("before"); before != "" {
		beforeId, err = strconv.ParseInt(before, 10, 64)
		if err != nil {
			errResp := NewBadRequestError()
			s.writeJson(w, errResp.StatusCode, errResp)
			return
		}
	}

	var limit int
	if l := r.URL.Query().Get("limit"); l != "" {
		limit, err = strconv.Atoi(l)
		if err != nil {
			errResp := NewBadRequestError()
			s.writeJson(w, errResp.StatusCode, errResp)
			return
		}
	}

	messages, err := s.store.GetMessages(r.Context(), room.Id, beforeId, limit)
	if err != nil {
		errResp := s.storeError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	s.writeJson(w, http.StatusOK, messages)
}

type CreateMessageRequest struct {
	Room        string `json:"room"`
	Content     string `json:"content"`
	MessageType string `json:"message_type,omitempty"`
	ReplyTo     *int64 `json:"reply_to,omitempty"`
}

func (s *WellnessApp) createMessage(w http.ResponseWriter, r *http.Request) {
	userId, _ := UserId(r.Context())

	var req CreateMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		errResp := NewBadRequestError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	req.Content = strings.TrimSpace(req.Content)
	if req.Content == "" {
		errResp := NewBadRequestError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	msgType := types.MessageType(req.MessageType)
	if req.MessageType == "" {
		msgType = types.MessageTypeText
	}
	if !msgType.Valid() {
		errResp := NewBadRequestError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	room, err := s.store.GetRoomByExternalId(r.Context(), req.Room)
	if err != nil {
		errResp := s.storeError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	isMember, err := s.store.IsMember(r.Context(), room.Id, userId)
	if err != nil {
		errResp := s.storeError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}
	if !isMember {
		errResp := NewForbiddenError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	if req.ReplyTo != nil {
		parent, err := s.store.GetMessage(r.Context(), *req.ReplyTo)
		if err != nil || parent.RoomId != room.Id {
			errResp := NewBadRequestError()
			s.writeJson(w, errResp.StatusCode, errResp)
			return
		}
	}

	msg, err := s.store.InsertMessage(r.Context(), store.InsertMessageParams{
		RoomId:  room.Id,
		UserId:  userId,
		Content: req.Content,
		Type:    msgType,
		ReplyTo: req.ReplyTo,
	})
	if err != nil {
		s.log.Error("insert message", zap.Error(err))
		errResp := s.storeError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	// Messages created over HTTP reach live sessions the same way
	// socket-sent ones do.
	account, err := s.store.GetAccountById(r.Context(), userId)
	if err == nil {
		s.cs.BroadcastMessage(room.ExternalId, msg, account.User())
	}

	s.writeJson(w, http.StatusCreated, msg)
}

func (s *WellnessApp) deleteMessage(w http.ResponseWriter, r *http.Request) {
	userId, _ := UserId(r.Context())

	messageId, err := strconv.ParseInt(r.URL.Query().Get("id"), 10, 64)
	if err != nil {
		errResp := NewBadRequestError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	if err := s.store.DeleteMessage(r.Context(), messageId, userId); err != nil {
		errResp := s.storeError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	s.writeJson(w, http.StatusNoContent, nil)
}

func (s *WellnessApp) getOnlineUsers(w http.ResponseWriter, r *http.Request) {
	users, err := s.presence.ListOnline(r.Context())
	if err != nil {
		errResp := NewInternalServerError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	s.writeJson(w, http.StatusOK, users)
}

func (s *WellnessApp) upgrader() websocket.Upgrader {
	return websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			if origin == "" {
				// non-browser clients send no origin header
				return true
			}

			return slices.Contains(s.allowedOrigins, origin)
		},
	}
}

func (s *WellnessApp) serveWs(w http.ResponseWriter, r *http.Request) {
	userId, ok := UserId(r.Context())
	if !ok {
		errResp := NewUnauthorizedError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	account, err := s.store.GetAccountById(r.Context(), userId)
	if err != nil {
		errResp := s.storeError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	upgrader := s.upgrader()
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("websocket upgrade", zap.Error(err))
		return
	}

	client := server.NewClient(account.User(), conn, s.cs, s.log)

	// Registration completes before the pumps start, so the session
	// cannot miss events broadcast right after its own join.
	if err := s.cs.Connect(r.Context(), client); err != nil {
		s.log.Error("connect session", zap.Error(err))
		conn.Close()
		return
	}

	go client.Write()
	go client.Read()
}

func (s *WellnessApp) serveOnlineWs(w http.ResponseWriter, r *http.Request) {
	userId, ok := UserId(r.Context())
	if !ok {
		errResp := NewUnauthorizedError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	account, err := s.store.GetAccountById(r.Context(), userId)
	if err != nil {
		errResp := s.storeError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	upgrader := s.upgrader()
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("websocket upgrade", zap.Error(err))
		return
	}

	client := server.NewObserverClient(account.User(), conn, s.cs, s.log)

	if err := s.cs.ConnectObserver(r.Context(), client); err != nil {
		s.log.Error("connect observer session", zap.Error(err))
		conn.Close()
		return
	}

	go client.Write()
	go client.Read()
}
